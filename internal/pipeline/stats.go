package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ringFillLimit is the fill ratio above which [Pipeline.RingCheck] fails.
const ringFillLimit = 0.9

// Stats is a point-in-time snapshot of the pipeline counters. Sample counts
// are at 8 kHz.
type Stats struct {
	Captured         uint64  `json:"captured_samples"`
	Dropped          uint64  `json:"dropped_samples"`
	Overflows        uint64  `json:"overflows"`
	Frames           uint64  `json:"frames"`
	SpeechFrames     uint64  `json:"speech_frames"`
	ClassifierErrors uint64  `json:"classifier_errors"`
	Emitted          uint64  `json:"segments_emitted"`
	Discarded        uint64  `json:"segments_discarded"`
	Delivered        uint64  `json:"segments_delivered"`
	SinkErrors       uint64  `json:"sink_errors"`
	RingFill         float64 `json:"ring_fill"`
}

// Stats returns the current counters. It is safe to call concurrently with
// Run.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Captured:         p.captured.Load(),
		Dropped:          p.dropped.Load(),
		Overflows:        p.overflows.Load(),
		Frames:           p.frames.Load(),
		SpeechFrames:     p.speech.Load(),
		ClassifierErrors: p.classErrs.Load(),
		Emitted:          p.emitted.Load(),
		Discarded:        p.discarded.Load(),
		Delivered:        p.delivered.Load(),
		SinkErrors:       p.sinkErrors.Load(),
		RingFill:         p.ringFill(),
	}
}

// LogValue implements [slog.LogValuer].
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("captured", s.Captured),
		slog.Uint64("dropped", s.Dropped),
		slog.Uint64("overflows", s.Overflows),
		slog.Uint64("frames", s.Frames),
		slog.Uint64("speech_frames", s.SpeechFrames),
		slog.Uint64("classifier_errors", s.ClassifierErrors),
		slog.Uint64("emitted", s.Emitted),
		slog.Uint64("discarded", s.Discarded),
		slog.Uint64("delivered", s.Delivered),
		slog.Uint64("sink_errors", s.SinkErrors),
		slog.Float64("ring_fill", s.RingFill),
	)
}

// CaptureCheck is a readiness check that passes while the capture device is
// delivering audio.
func (p *Pipeline) CaptureCheck(context.Context) error {
	if !p.capturing.Load() {
		return errors.New("capture device not running")
	}
	return nil
}

// RingCheck is a readiness check that fails when the ring buffer is nearly
// full, which means the segmentation loop is falling behind.
func (p *Pipeline) RingCheck(context.Context) error {
	if fill := p.ringFill(); fill > ringFillLimit {
		return fmt.Errorf("ring buffer %.0f%% full", fill*100)
	}
	return nil
}
