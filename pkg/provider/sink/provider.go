// Package sink defines the Sink interface for the downstream stage that
// consumes completed speech segments.
//
// A sink receives each segment exactly once, in emission order, from a single
// consumer goroutine. Consume may block; while it does, the pipeline's bounded
// output channel fills and eventually suspends the segmentation loop. Sinks
// therefore should not hold on to a segment longer than the work requires.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ErrClosed is returned by Consume when the sink can no longer accept
// segments (the file system went away, the remote peer hung up). The
// pipeline stops its consumer when it sees this error.
var ErrClosed = errors.New("sink: closed")

// Sink consumes emitted segments.
type Sink interface {
	// Consume hands one segment to the sink. The segment's Samples slice is
	// owned by the sink from this point on.
	Consume(ctx context.Context, seg audio.Segment) error

	// Close flushes and releases resources. Calling Close more than once is
	// safe.
	Close() error

	// Name identifies the sink in logs and metric attributes.
	Name() string
}

// Transcript is the text a transcribing sink recognised in one segment.
type Transcript struct {
	Seq      uint64
	Offset   time.Duration
	Duration time.Duration
	Text     string
	Elapsed  time.Duration
}

// Discard is a Sink that logs each segment at debug level and drops it.
type Discard struct{}

var _ Sink = Discard{}

// Consume logs seg and returns nil.
func (Discard) Consume(ctx context.Context, seg audio.Segment) error {
	slog.DebugContext(ctx, "segment discarded by sink",
		"seq", seg.Seq,
		"reason", seg.Reason.String(),
		"frames", seg.Frames,
		"duration", seg.Duration(),
	)
	return nil
}

// Close is a no-op.
func (Discard) Close() error { return nil }

// Name returns "discard".
func (Discard) Name() string { return "discard" }
