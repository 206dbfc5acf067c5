// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script speech decisions and inspect the frames that were
// submitted for classification.
//
// Example:
//
//	sess := &mock.Session{Script: []bool{true, true, false}}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
//
// Decisions are taken, in priority order, from Decide, then Script, then
// Speech. Frames are only recorded when RecordFrames is set, so long
// pipeline tests do not accumulate every frame.
type Session struct {
	mu sync.Mutex

	// Decide, if non-nil, is called for every frame with its zero-based call
	// index.
	Decide func(call int, frame []int16) (bool, error)

	// Script supplies one decision per call; once exhausted Speech is used.
	Script []bool

	// Speech is the fallback decision.
	Speech bool

	// IsSpeechErr, if non-nil, is returned by every IsSpeech call that is not
	// handled by Decide.
	IsSpeechErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// RecordFrames enables copying each frame into Frames.
	RecordFrames bool

	// --- Call records ---

	// Frames holds copies of classified frames when RecordFrames is set.
	Frames [][]int16

	// IsSpeechCallCount is the number of times IsSpeech was called.
	IsSpeechCallCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// IsSpeech records the call and returns the scripted decision.
func (s *Session) IsSpeech(frame []int16) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.IsSpeechCallCount
	s.IsSpeechCallCount++
	if s.RecordFrames {
		cp := make([]int16, len(frame))
		copy(cp, frame)
		s.Frames = append(s.Frames, cp)
	}
	if s.Decide != nil {
		return s.Decide(call, frame)
	}
	if s.IsSpeechErr != nil {
		return false, s.IsSpeechErr
	}
	if call < len(s.Script) {
		return s.Script[call], nil
	}
	return s.Speech, nil
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Calls returns the number of IsSpeech calls so far. Thread-safe.
func (s *Session) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.IsSpeechCallCount
}

var _ vad.SessionHandle = (*Session)(nil)
