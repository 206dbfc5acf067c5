// Package whisper provides a sink.Sink that transcribes each segment locally
// with whisper.cpp, through the official CGO bindings. The static library
// (libwhisper.a) and headers (whisper.h) must be available at link time via
// LIBRARY_PATH and C_INCLUDE_PATH.
//
// Segments arrive at 8 kHz and are upsampled to the 16 kHz whisper expects.
// The model is loaded once; every segment gets a fresh inference context.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/sink"
)

const (
	// ModelSampleRate is the rate whisper.cpp models are trained on.
	ModelSampleRate = 16000

	defaultLanguage = "en"
)

var _ sink.Sink = (*Sink)(nil)

// Sink transcribes segments and reports the text to a handler.
type Sink struct {
	language string
	handler  func(sink.Transcript)

	mu     sync.Mutex
	model  whisperlib.Model
	closed bool
}

// Option is a functional option for configuring a Sink.
type Option func(*Sink)

// WithLanguage sets the BCP-47 language code for transcription. Defaults to
// "en"; "auto" enables language detection.
func WithLanguage(lang string) Option {
	return func(s *Sink) {
		if lang != "" {
			s.language = lang
		}
	}
}

// WithHandler registers a function that receives every non-empty
// transcript. Without a handler transcripts are only logged.
func WithHandler(fn func(sink.Transcript)) Option {
	return func(s *Sink) { s.handler = fn }
}

// New loads the model at modelPath.
func New(modelPath string, opts ...Option) (*Sink, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	s := &Sink{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Consume runs inference over seg. Empty transcripts are dropped silently.
func (s *Sink) Consume(ctx context.Context, seg audio.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sink.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	text, err := s.infer(prepare(seg))
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	tr := sink.Transcript{
		Seq:      seg.Seq,
		Offset:   seg.Offset,
		Duration: seg.Duration(),
		Text:     text,
		Elapsed:  time.Since(start),
	}
	slog.InfoContext(ctx, "segment transcribed",
		"seq", tr.Seq,
		"offset", tr.Offset,
		"elapsed", tr.Elapsed,
		"text", tr.Text,
	)
	if s.handler != nil {
		s.handler(tr)
	}
	return nil
}

// prepare converts seg to float32 at [ModelSampleRate].
func prepare(seg audio.Segment) []float32 {
	rate := seg.SampleRate
	if rate <= 0 {
		rate = audio.TargetSampleRate
	}
	return audio.PCM16ToFloat(audio.ResamplePCM16(seg.Samples, rate, ModelSampleRate))
}

func (s *Sink) infer(samples []float32) (string, error) {
	wctx, err := s.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(s.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", s.language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if t := strings.TrimSpace(segment.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}

// Close releases the model.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.model.Close()
}

// Name returns "whisper".
func (s *Sink) Name() string { return "whisper" }
