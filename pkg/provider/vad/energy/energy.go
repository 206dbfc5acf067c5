// Package energy provides a pure-Go VAD engine that classifies a frame as
// speech when its RMS amplitude exceeds a threshold. It needs no cgo and no
// model files, which makes it the fallback backend for platforms where the
// WebRTC detector is unavailable.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// DefaultThreshold is the RMS amplitude (int16 scale) above which a frame
// counts as speech in [vad.ModeQuality].
const DefaultThreshold = 1000.0

// modeScale raises the threshold for more aggressive modes.
var modeScale = [...]float64{1.0, 1.25, 1.5, 2.0}

var _ vad.Engine = (*Engine)(nil)

// Engine creates energy-gate sessions. It is safe for concurrent use.
type Engine struct {
	threshold float64
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithThreshold sets the base RMS threshold on the int16 scale. Non-positive
// values are ignored.
func WithThreshold(th float64) Option {
	return func(e *Engine) {
		if th > 0 {
			e.threshold = th
		}
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{threshold: DefaultThreshold}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession validates cfg and returns a session whose effective threshold is
// the base threshold scaled by the aggressiveness mode.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if !cfg.Mode.IsValid() {
		return nil, fmt.Errorf("energy: invalid mode %d", int(cfg.Mode))
	}
	n := cfg.FrameLength()
	if n <= 0 {
		return nil, errors.New("energy: sample rate and frame size must be positive")
	}
	return &session{
		frameLen:  n,
		threshold: e.threshold * modeScale[cfg.Mode],
	}, nil
}

type session struct {
	frameLen  int
	threshold float64

	mu     sync.Mutex
	closed bool
}

// IsSpeech computes the frame RMS and compares it to the threshold.
func (s *session) IsSpeech(frame []int16) (bool, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false, vad.ErrClosed
	}
	if len(frame) != s.frameLen {
		return false, fmt.Errorf("energy: %w: got %d samples, want %d", vad.ErrFrameSize, len(frame), s.frameLen)
	}
	return rms(frame) > s.threshold, nil
}

// Reset is a no-op; the energy gate is stateless between frames.
func (s *session) Reset() {}

// Close marks the session closed.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func rms(frame []int16) float64 {
	var sum float64
	for _, v := range frame {
		f := float64(v)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(frame)))
}
