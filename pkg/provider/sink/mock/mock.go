// Package mock provides a test double for sink.Sink.
//
// Sink collects every consumed segment. ConsumeErr lets a test inject a
// failure for specific sequence numbers, and Block lets it stall the consumer
// to exercise back-pressure.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/sink"
)

// Sink is a mock implementation of sink.Sink.
type Sink struct {
	mu sync.Mutex

	// SinkName is returned by Name. Defaults to "mock".
	SinkName string

	// ConsumeErr, if non-nil, is called for every segment and its result is
	// returned from Consume. The segment is recorded either way.
	ConsumeErr func(seg audio.Segment) error

	// Block, if non-nil, is received from before each Consume returns, or
	// until ctx is done.
	Block <-chan struct{}

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// Segments holds every consumed segment in order.
	Segments []audio.Segment

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	notify chan struct{}
}

// Consume records seg and returns the result of ConsumeErr.
func (s *Sink) Consume(ctx context.Context, seg audio.Segment) error {
	if s.Block != nil {
		select {
		case <-s.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.Segments = append(s.Segments, seg)
	fn := s.ConsumeErr
	if s.notify != nil {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
	if fn != nil {
		return fn(seg)
	}
	return nil
}

// Close records the call and returns CloseErr.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Name returns SinkName or "mock".
func (s *Sink) Name() string {
	if s.SinkName == "" {
		return "mock"
	}
	return s.SinkName
}

// Consumed returns a copy of the recorded segments. Thread-safe.
func (s *Sink) Consumed() []audio.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Segment, len(s.Segments))
	copy(out, s.Segments)
	return out
}

// Notify returns a channel that receives a value, without blocking, after
// each recorded segment.
func (s *Sink) Notify() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notify == nil {
		s.notify = make(chan struct{}, 64)
	}
	return s.notify
}

var _ sink.Sink = (*Sink)(nil)
