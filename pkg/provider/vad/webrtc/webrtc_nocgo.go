//go:build !cgo

package webrtc

import (
	"errors"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// ErrUnavailable is returned by NewSession in builds without cgo.
var ErrUnavailable = errors.New("webrtc: detector requires cgo; use the energy backend instead")

var _ vad.Engine = (*Engine)(nil)

// Engine is a placeholder in builds without cgo.
type Engine struct{}

// New returns an Engine whose sessions cannot be created.
func New() *Engine { return &Engine{} }

// NewSession always returns [ErrUnavailable].
func (e *Engine) NewSession(vad.Config) (vad.SessionHandle, error) {
	return nil, ErrUnavailable
}
