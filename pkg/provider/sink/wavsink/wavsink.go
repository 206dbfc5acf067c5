// Package wavsink provides a sink.Sink that writes every segment to its own
// 16-bit mono WAV file in a directory.
package wavsink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/sink"
)

var _ sink.Sink = (*Sink)(nil)

// Sink writes segments as WAV files.
type Sink struct {
	dir string

	mu     sync.Mutex
	closed bool
}

// New creates the output directory if needed and returns a Sink writing into
// it.
func New(dir string) (*Sink, error) {
	if dir == "" {
		return nil, errors.New("wavsink: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wavsink: create %q: %w", dir, err)
	}
	return &Sink{dir: dir}, nil
}

// FileName returns the base name used for seg.
func FileName(seg audio.Segment) string {
	return fmt.Sprintf("segment-%06d-%s.wav", seg.Seq, seg.Reason)
}

// Consume writes seg to <dir>/segment-<seq>-<reason>.wav.
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

	path := filepath.Join(s.dir, FileName(seg))
	f, err := os.Create(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("wavsink: create %q: %w: %w", path, sink.ErrClosed, err)
		}
		return fmt.Errorf("wavsink: create %q: %w", path, err)
	}

	werr := Encode(f, seg)
	ferr := f.Close()
	if err := errors.Join(werr, ferr); err != nil {
		return fmt.Errorf("wavsink: write %q: %w", path, err)
	}
	return nil
}

// Encode writes seg to w as a 16-bit mono WAV file.
func Encode(w io.WriteSeeker, seg audio.Segment) error {
	rate := seg.SampleRate
	if rate <= 0 {
		rate = audio.TargetSampleRate
	}
	data := make([]int, len(seg.Samples))
	for i, v := range seg.Samples {
		data[i] = int(v)
	}
	enc := wav.NewEncoder(w, rate, 16, 1, 1)
	werr := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	})
	return errors.Join(werr, enc.Close())
}

// Close marks the sink closed. Files are closed after every Consume, so
// there is nothing to flush.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Name returns "wav".
func (s *Sink) Name() string { return "wav" }

// Dir returns the output directory.
func (s *Sink) Dir() string { return s.dir }
