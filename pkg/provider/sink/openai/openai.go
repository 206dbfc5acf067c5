// Package openai provides a sink.Sink that sends every segment to the OpenAI
// audio transcription endpoint as a WAV upload and reports the returned text.
//
// Requests are not retried: a failed segment is counted by the pipeline and
// the next one is sent as usual. An authentication failure means no later
// segment can succeed either, so it is reported as [sink.ErrClosed].
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/sink"
	"github.com/MrWong99/earshot/pkg/provider/sink/wavsink"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = oai.AudioModelWhisper1

var _ sink.Sink = (*Sink)(nil)

// Sink uploads segments for transcription.
type Sink struct {
	client   oai.Client
	model    oai.AudioModel
	language string
	prompt   string
	handler  func(sink.Transcript)

	mu     sync.Mutex
	closed bool
}

// config holds optional configuration for the sink.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	language     string
	prompt       string
	handler      func(sink.Transcript)
}

// Option is a functional option for Sink.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, for example to use a
// compatible self-hosted server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithLanguage sets the ISO-639-1 language of the audio. Empty or "auto"
// lets the model detect it.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithPrompt passes a prompt that guides spelling and style.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// WithHandler registers a function that receives every non-empty
// transcript. Without a handler transcripts are only logged.
func WithHandler(fn func(sink.Transcript)) Option {
	return func(c *config) { c.handler = fn }
}

// New constructs a Sink. If model is empty, [DefaultModel] is used.
func New(apiKey, model string, opts ...Option) (*Sink, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Sink{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
		prompt:   cfg.prompt,
		handler:  cfg.handler,
	}, nil
}

// Consume uploads seg and reports the transcript. Empty transcripts are
// dropped silently.
func (s *Sink) Consume(ctx context.Context, seg audio.Segment) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return sink.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var f memFile
	if err := wavsink.Encode(&f, seg); err != nil {
		return fmt.Errorf("openai: encode segment %d: %w", seg.Seq, err)
	}
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(f.buf), wavsink.FileName(seg), "audio/wav"),
		Model:          s.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if s.language != "" && s.language != "auto" {
		params.Language = param.NewOpt(s.language)
	}
	if s.prompt != "" {
		params.Prompt = param.NewOpt(s.prompt)
	}

	start := time.Now()
	resp, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("openai: transcribe segment %d: %w: %w", seg.Seq, sink.ErrClosed, err)
		}
		return fmt.Errorf("openai: transcribe segment %d: %w", seg.Seq, err)
	}

	text := strings.TrimSpace(resp.Text)
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

// Close marks the sink closed. In-flight requests are not cancelled.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Name returns "openai".
func (s *Sink) Name() string { return "openai" }

// memFile is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes once the samples are written.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	copy(m.buf[m.pos:], p)
	m.pos += len(p)
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.buf))
	default:
		return 0, fmt.Errorf("openai: invalid whence %d", whence)
	}
	pos := base + offset
	if pos < 0 {
		return 0, errors.New("openai: seek before start")
	}
	m.pos = int(pos)
	return pos, nil
}
