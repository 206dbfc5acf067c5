package vad_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/mock"
)

func TestParseMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    vad.Mode
		wantErr bool
	}{
		{"quality", vad.ModeQuality, false},
		{"low_bitrate", vad.ModeLowBitrate, false},
		{"Low-Bitrate", vad.ModeLowBitrate, false},
		{"aggressive", vad.ModeAggressive, false},
		{" very_aggressive ", vad.ModeVeryAggressive, false},
		{"loud", 0, true},
		{"", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := vad.ParseMode(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseMode(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if !tc.wantErr && got != tc.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestModeString(t *testing.T) {
	t.Parallel()
	if got := vad.ModeVeryAggressive.String(); got != "very_aggressive" {
		t.Errorf("String() = %q", got)
	}
	if got := vad.Mode(9).String(); got != "mode(9)" {
		t.Errorf("String() for invalid mode = %q", got)
	}
}

func TestConfigFrameLength(t *testing.T) {
	t.Parallel()
	cfg := vad.Config{SampleRate: audio.TargetSampleRate, FrameSizeMs: 10}
	if got := cfg.FrameLength(); got != audio.FrameSize {
		t.Errorf("FrameLength() = %d, want %d", got, audio.FrameSize)
	}
}

func TestClassifier_PassesFrameThrough(t *testing.T) {
	t.Parallel()
	sess := &mock.Session{Script: []bool{true, false}, RecordFrames: true}
	c := vad.NewClassifier(sess)

	var f audio.Frame
	f[0], f[79] = 7, -7

	for i, want := range []bool{true, false} {
		got, err := c.Classify(&f)
		if err != nil {
			t.Fatalf("Classify #%d: %v", i, err)
		}
		if got != want {
			t.Errorf("Classify #%d = %v, want %v", i, got, want)
		}
	}
	if len(sess.Frames) != 2 || len(sess.Frames[0]) != audio.FrameSize {
		t.Fatalf("recorded frames = %d, want 2 frames of %d samples", len(sess.Frames), audio.FrameSize)
	}
	if sess.Frames[0][0] != 7 || sess.Frames[0][79] != -7 {
		t.Errorf("frame contents not passed through: %v", sess.Frames[0])
	}
}

func TestClassifier_WrapsErrors(t *testing.T) {
	t.Parallel()
	backendErr := errors.New("decoder state corrupt")
	c := vad.NewClassifier(&mock.Session{IsSpeechErr: backendErr})

	var f audio.Frame
	_, err := c.Classify(&f)
	if !errors.Is(err, vad.ErrClassifier) {
		t.Errorf("err = %v, want wrapping ErrClassifier", err)
	}
	if !errors.Is(err, backendErr) {
		t.Errorf("err = %v, want wrapping backend error", err)
	}
}

func TestClassifier_Close(t *testing.T) {
	t.Parallel()
	sess := &mock.Session{}
	if err := vad.NewClassifier(sess).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sess.CloseCallCount != 1 {
		t.Errorf("CloseCallCount = %d, want 1", sess.CloseCallCount)
	}
}
