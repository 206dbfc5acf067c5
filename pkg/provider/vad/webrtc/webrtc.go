//go:build cgo

// Package webrtc provides a VAD engine backed by the WebRTC voice activity
// detector (GMM based, via cgo). It accepts 10, 20, or 30 ms frames at 8, 16,
// 32, or 48 kHz and supports the four WebRTC aggressiveness modes.
package webrtc

import (
	"encoding/binary"
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

var _ vad.Engine = (*Engine)(nil)

// Engine creates WebRTC VAD sessions. Each session owns its own detector
// instance. Engine is safe for concurrent use.
type Engine struct{}

// New returns an Engine.
func New() *Engine { return &Engine{} }

// NewSession allocates a detector configured for cfg.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if !cfg.Mode.IsValid() {
		return nil, fmt.Errorf("webrtc: invalid mode %d", int(cfg.Mode))
	}
	n := cfg.FrameLength()
	if !validRate(cfg.SampleRate) || !validFrameMs(cfg.FrameSizeMs) {
		return nil, fmt.Errorf("webrtc: unsupported format %d Hz / %d ms", cfg.SampleRate, cfg.FrameSizeMs)
	}

	det, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc: create detector: %w", err)
	}
	if err := det.SetMode(int(cfg.Mode)); err != nil {
		return nil, fmt.Errorf("webrtc: set mode %s: %w", cfg.Mode, err)
	}
	if !det.ValidRateAndFrameLength(cfg.SampleRate, n) {
		return nil, fmt.Errorf("webrtc: detector rejects %d samples at %d Hz", n, cfg.SampleRate)
	}
	return &session{
		det:        det,
		mode:       cfg.Mode,
		sampleRate: cfg.SampleRate,
		frameLen:   n,
		pcm:        make([]byte, n*2),
	}, nil
}

func validRate(r int) bool {
	switch r {
	case 8000, 16000, 32000, 48000:
		return true
	}
	return false
}

func validFrameMs(ms int) bool {
	return ms == 10 || ms == 20 || ms == 30
}

// session wraps one detector. The detector keeps adaptive noise estimates
// across calls, so frames must arrive in stream order.
type session struct {
	mu         sync.Mutex
	det        *webrtcvad.VAD
	mode       vad.Mode
	sampleRate int
	frameLen   int
	pcm        []byte
}

// IsSpeech encodes frame as little-endian PCM into a reused buffer and runs
// the detector on it.
func (s *session) IsSpeech(frame []int16) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.det == nil {
		return false, vad.ErrClosed
	}
	if len(frame) != s.frameLen {
		return false, fmt.Errorf("webrtc: %w: got %d samples, want %d", vad.ErrFrameSize, len(frame), s.frameLen)
	}
	for i, v := range frame {
		binary.LittleEndian.PutUint16(s.pcm[i*2:], uint16(v))
	}
	speech, err := s.det.Process(s.sampleRate, s.pcm)
	if err != nil {
		return false, fmt.Errorf("webrtc: process: %w", err)
	}
	return speech, nil
}

// Reset replaces the detector with a fresh instance so no adaptive state
// carries over. On failure the old detector is kept.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.det == nil {
		return
	}
	det, err := webrtcvad.New()
	if err != nil {
		return
	}
	if err := det.SetMode(int(s.mode)); err != nil {
		return
	}
	s.det = det
}

// Close drops the detector; its C state is released by the library's
// finalizer.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.det = nil
	return nil
}
