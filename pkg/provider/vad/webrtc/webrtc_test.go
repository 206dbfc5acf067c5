//go:build cgo

package webrtc

import (
	"errors"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

func TestNewSession_RejectsUnsupportedFormats(t *testing.T) {
	t.Parallel()
	e := New()
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"rate", vad.Config{SampleRate: 11025, FrameSizeMs: 10}},
		{"frame", vad.Config{SampleRate: 8000, FrameSizeMs: 15}},
		{"mode", vad.Config{SampleRate: 8000, FrameSizeMs: 10, Mode: vad.Mode(4)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := e.NewSession(tc.cfg); err == nil {
				t.Errorf("NewSession(%+v) succeeded, want error", tc.cfg)
			}
		})
	}
}

func TestIsSpeech_SilenceAndFrameSize(t *testing.T) {
	t.Parallel()
	s, err := New().NewSession(vad.Config{SampleRate: 8000, FrameSizeMs: 10, Mode: vad.ModeAggressive})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	speech, err := s.IsSpeech(make([]int16, 80))
	if err != nil {
		t.Fatalf("IsSpeech: %v", err)
	}
	if speech {
		t.Error("digital silence classified as speech")
	}

	if _, err := s.IsSpeech(make([]int16, 79)); !errors.Is(err, vad.ErrFrameSize) {
		t.Errorf("err = %v, want ErrFrameSize", err)
	}

	s.Reset()
	_ = s.Close()
	if _, err := s.IsSpeech(make([]int16, 80)); !errors.Is(err, vad.ErrClosed) {
		t.Errorf("err after Close = %v, want ErrClosed", err)
	}
}
