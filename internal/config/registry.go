package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/capture"
	"github.com/MrWong99/earshot/pkg/provider/sink"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// CaptureFactory builds a capture device from its config section.
type CaptureFactory func(CaptureConfig) (capture.Device, error)

// VADFactory builds a VAD engine from its config section.
type VADFactory func(VADConfig) (vad.Engine, error)

// SinkFactory builds a segment sink. ctx bounds any connection set up during
// construction.
type SinkFactory func(ctx context.Context, cfg SinkConfig) (sink.Sink, error)

// Registry maps backend names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	capture map[string]CaptureFactory
	vad     map[string]VADFactory
	sink    map[string]SinkFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture: make(map[string]CaptureFactory),
		vad:     make(map[string]VADFactory),
		sink:    make(map[string]SinkFactory),
	}
}

// RegisterCapture registers a capture backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory CaptureFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterSink registers a sink factory under name.
func (r *Registry) RegisterSink(name string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink[name] = factory
}

// CreateCapture instantiates the capture device registered under cfg.Backend.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateCapture(cfg CaptureConfig) (capture.Device, error) {
	r.mu.RLock()
	factory, ok := r.capture[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateVAD instantiates the VAD engine registered under cfg.Backend.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateSink instantiates the sink registered under cfg.Backend.
func (r *Registry) CreateSink(ctx context.Context, cfg SinkConfig) (sink.Sink, error) {
	r.mu.RLock()
	factory, ok := r.sink[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sink/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}

// Names returns the sorted backend names registered for kind ("capture",
// "vad" or "sink"). Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "capture":
		for n := range r.capture {
			names = append(names, n)
		}
	case "vad":
		for n := range r.vad {
			names = append(names, n)
		}
	case "sink":
		for n := range r.sink {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}
