// Package pipeline wires a capture device, the voice activity classifier, the
// segmentation state machine, and a segment sink into one running system.
//
// Four goroutines cooperate:
//
//   - the capture task starts the device; the device's callback resamples each
//     block to 8 kHz, converts it to int16, and writes it to a lock-free SPSC
//     ring buffer, dropping (and counting) whole blocks the ring cannot hold;
//   - the segmentation loop polls the ring, reads 80-sample frames, classifies
//     them, feeds the state machine, and sends emitted segments to a bounded
//     channel;
//   - the consumer hands each segment to the sink;
//   - a reporter logs cumulative counters periodically.
//
// The ring buffer is the only state shared with the capture callback. All
// callback-side counters are atomics, so the callback never locks or
// allocates in steady state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/capture"
	"github.com/MrWong99/earshot/pkg/provider/sink"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/ringbuf"
)

var (
	// ErrDevice is returned by Run when the capture device fails to start or
	// faults while running.
	ErrDevice = errors.New("pipeline: capture device failed")

	// ErrConsumerGone is returned by Run when the consumer stopped (its sink
	// reported [sink.ErrClosed]) while the segmentation loop still had work or
	// emitted segments were left undelivered.
	ErrConsumerGone = errors.New("pipeline: segment consumer gone")

	// ErrAlreadyRun is returned by a second call to Run.
	ErrAlreadyRun = errors.New("pipeline: already run")
)

// drainTimeout bounds the delivery of segments still queued at shutdown.
const drainTimeout = 5 * time.Second

// Config holds the orchestration parameters.
type Config struct {
	// RingCapacity is the ring buffer size in samples, rounded up to a power
	// of two.
	RingCapacity int

	// OutputBuffer is the capacity of the segment channel between the
	// segmentation loop and the consumer.
	OutputBuffer int

	// PollInterval is how often the segmentation loop checks the ring for a
	// full frame.
	PollInterval time.Duration

	// ReportInterval is how often cumulative counters are logged. Zero
	// disables periodic reports.
	ReportInterval time.Duration

	// Segmenter holds the state machine thresholds.
	Segmenter segment.Config
}

// DefaultConfig returns the default orchestration parameters.
func DefaultConfig() Config {
	return Config{
		RingCapacity:   16384,
		OutputBuffer:   8,
		PollInterval:   2 * time.Millisecond,
		ReportInterval: 30 * time.Second,
		Segmenter:      segment.DefaultConfig(),
	}
}

// Validate reports every invalid parameter.
func (c Config) Validate() error {
	var errs []error
	if c.RingCapacity < audio.FrameSize {
		errs = append(errs, fmt.Errorf("pipeline: ring capacity must be at least %d samples, got %d", audio.FrameSize, c.RingCapacity))
	}
	if c.OutputBuffer < 1 {
		errs = append(errs, fmt.Errorf("pipeline: output buffer must be >= 1, got %d", c.OutputBuffer))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("pipeline: poll interval must be positive, got %s", c.PollInterval))
	}
	if c.ReportInterval < 0 {
		errs = append(errs, fmt.Errorf("pipeline: report interval must not be negative, got %s", c.ReportInterval))
	}
	errs = append(errs, c.Segmenter.Validate())
	return errors.Join(errs...)
}

// Pipeline is a single-use segmentation run.
type Pipeline struct {
	cfg        Config
	device     capture.Device
	classifier *vad.Classifier
	sink       sink.Sink
	metrics    *observe.Metrics

	ring    *ringbuf.Ring[int16]
	machine *segment.Machine

	// Owned by the capture callback.
	resampled []float32
	pcm       []int16

	captured   atomic.Uint64
	dropped    atomic.Uint64
	overflows  atomic.Uint64
	frames     atomic.Uint64
	speech     atomic.Uint64
	classErrs  atomic.Uint64
	emitted    atomic.Uint64
	discarded  atomic.Uint64
	delivered  atomic.Uint64
	sinkErrors atomic.Uint64

	capturing   atomic.Bool
	captureDone atomic.Bool
	ran         atomic.Bool

	classErrOnce sync.Once
}

// New validates cfg and assembles a pipeline. session must classify 80-sample
// frames at 8 kHz. If m is nil, [observe.DefaultMetrics] is used.
func New(cfg Config, device capture.Device, session vad.SessionHandle, snk sink.Sink, m *observe.Metrics) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if device == nil || session == nil || snk == nil {
		return nil, errors.New("pipeline: device, classifier session and sink are required")
	}
	machine, err := segment.New(cfg.Segmenter)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Pipeline{
		cfg:        cfg,
		device:     device,
		classifier: vad.NewClassifier(session),
		sink:       snk,
		metrics:    m,
		ring:       ringbuf.New[int16](cfg.RingCapacity),
		machine:    machine,
	}, nil
}

// Run executes the pipeline until ctx is cancelled, a finite device runs dry
// and everything buffered has been delivered, or a fatal error occurs.
// Cancellation is an orderly shutdown and returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}

	reg, err := p.metrics.ObserveCapture(p.captureSnapshot)
	if err != nil {
		return fmt.Errorf("pipeline: register capture metrics: %w", err)
	}
	defer func() { _ = reg.Unregister() }()

	out := make(chan audio.Segment, p.cfg.OutputBuffer)
	consumerGone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.runCapture(gctx) })
	g.Go(func() error { return p.runSegmenter(gctx, out, consumerGone) })
	g.Go(func() error { return p.runConsumer(gctx, out, consumerGone) })

	stopReport := make(chan struct{})
	reportDone := make(chan struct{})
	go p.report(stopReport, reportDone)

	slog.Info("pipeline started",
		"device", p.device.Name(),
		"sink", p.sink.Name(),
		"ring_capacity", p.ring.Cap(),
		"min_active_frames", p.cfg.Segmenter.MinActive,
		"max_active_frames", p.cfg.Segmenter.MaxActive,
		"max_inactive_frames", p.cfg.Segmenter.MaxInactive,
	)

	err = g.Wait()
	close(stopReport)
	<-reportDone

	stats := p.Stats()
	if err != nil {
		slog.Error("pipeline stopped", "err", err, "stats", stats)
		return err
	}
	slog.Info("pipeline stopped", "stats", stats)
	return nil
}

// runCapture owns the device lifecycle.
func (p *Pipeline) runCapture(ctx context.Context) error {
	name := p.device.Name()
	if pd, ok := p.device.(capture.Paced); ok {
		pd.SetPacer(p.waitForRoom)
	}
	if err := p.device.Start(ctx, p.onSamples); err != nil {
		p.captureDone.Store(true)
		return fmt.Errorf("%w: start %s: %w", ErrDevice, name, err)
	}
	p.capturing.Store(true)
	slog.Debug("capture running", "device", name)

	var (
		done   <-chan struct{}
		faults <-chan error
	)
	if f, ok := p.device.(capture.Finite); ok {
		done = f.Done()
	}
	if f, ok := p.device.(capture.Faulter); ok {
		faults = f.Faults()
	}

	var fault error
	select {
	case <-ctx.Done():
	case <-done:
		slog.Info("capture stream ended", "device", name)
	case err := <-faults:
		fault = fmt.Errorf("%w: %s: %w", ErrDevice, name, err)
	}

	p.capturing.Store(false)
	if err := p.device.Stop(); err != nil {
		slog.Warn("capture device stop failed", "device", name, "err", err)
	}
	p.captureDone.Store(true)
	return fault
}

// onSamples is the capture callback. It runs on the device thread.
func (p *Pipeline) onSamples(samples []float32, rate float64) {
	p.resampled = audio.ResampleInto(p.resampled[:0], samples, rate, audio.TargetSampleRate)
	p.pcm = audio.AppendPCM16(p.pcm[:0], p.resampled)
	n := uint64(len(p.pcm))
	if n == 0 {
		return
	}
	if err := p.ring.Write(p.pcm); err != nil {
		p.dropped.Add(n)
		p.overflows.Add(1)
		return
	}
	p.captured.Add(n)
}

// waitForRoom is the [capture.Pacer] handed to devices that can outrun real
// time. It returns once the ring can hold the resampled block. A block larger
// than the whole ring is let through so onSamples drops and counts it.
func (p *Pipeline) waitForRoom(ctx context.Context, n int, rate float64) error {
	need := audio.ResampledLen(n, rate, audio.TargetSampleRate)
	if need > p.ring.Cap() || p.ring.Free() >= need {
		return nil
	}
	t := time.NewTicker(p.cfg.PollInterval)
	defer t.Stop()
	for p.ring.Free() < need {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// runSegmenter is the ring buffer consumer. It exits once the capture side
// has finished and fewer than a frame's worth of samples remain.
func (p *Pipeline) runSegmenter(ctx context.Context, out chan<- audio.Segment, consumerGone <-chan struct{}) error {
	defer close(out)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	var frame audio.Frame
	for {
		finished := p.captureDone.Load()
		for p.ring.Len() >= audio.FrameSize {
			if err := p.ring.Read(frame[:]); err != nil {
				break
			}
			if err := p.step(ctx, &frame, out, consumerGone); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}
		if finished {
			if rest := p.ring.Len(); rest > 0 {
				slog.Debug("dropping partial frame at end of stream", "samples", rest)
			}
			select {
			case <-consumerGone:
				if len(out) > 0 {
					return ErrConsumerGone
				}
			default:
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-consumerGone:
			return ErrConsumerGone
		case <-ticker.C:
		}
	}
}

// step classifies one frame and applies the state machine.
func (p *Pipeline) step(ctx context.Context, frame *audio.Frame, out chan<- audio.Segment, consumerGone <-chan struct{}) error {
	p.frames.Add(1)
	speech, err := p.classifier.Classify(frame)
	if err != nil {
		p.classErrs.Add(1)
		p.metrics.RecordClassifierError(ctx)
		p.machine.Skip()
		logged := false
		p.classErrOnce.Do(func() {
			logged = true
			slog.Warn("voice activity classification failed; frame skipped (further failures logged at debug)", "err", err)
		})
		if !logged {
			slog.Debug("voice activity classification failed", "err", err)
		}
		return nil
	}
	if speech {
		p.speech.Add(1)
	}
	p.metrics.RecordFrame(ctx, speech)

	seg, outcome := p.machine.Push(frame, speech)
	switch outcome {
	case segment.Discarded:
		p.discarded.Add(1)
		p.metrics.RecordDiscarded(ctx)
		slog.Debug("segment discarded", "rule", p.machine.LastRule())
	case segment.Emitted:
		p.emitted.Add(1)
		p.metrics.RecordEmitted(ctx, seg)
		slog.Debug("segment emitted",
			"seq", seg.Seq,
			"reason", seg.Reason.String(),
			"frames", seg.Frames,
			"offset", seg.Offset,
		)
		// A ready send would otherwise race the closed consumerGone.
		select {
		case <-consumerGone:
			return ErrConsumerGone
		default:
		}
		select {
		case out <- seg:
		case <-ctx.Done():
			slog.Warn("segment dropped at shutdown", "seq", seg.Seq)
		case <-consumerGone:
			return ErrConsumerGone
		}
	}
	return nil
}

// runConsumer delivers segments to the sink until the channel closes or the
// sink reports it is closed. Segments still queued when the sink closes are
// reported as [ErrConsumerGone].
func (p *Pipeline) runConsumer(ctx context.Context, in <-chan audio.Segment, consumerGone chan<- struct{}) error {
	defer close(consumerGone)
	for seg := range in {
		err := p.deliver(ctx, seg)
		if errors.Is(err, sink.ErrClosed) {
			slog.Warn("sink closed; consumer stopping", "sink", p.sink.Name(), "err", err)
			if n := len(in); n > 0 {
				return fmt.Errorf("%w: %d queued segments undelivered", ErrConsumerGone, n)
			}
			return nil
		}
	}
	return nil
}

func (p *Pipeline) deliver(ctx context.Context, seg audio.Segment) error {
	dctx := context.WithoutCancel(ctx)
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(dctx, drainTimeout)
		defer cancel()
	}
	dctx, span := observe.StartSpan(dctx, "sink.consume",
		trace.WithAttributes(observe.SegmentAttributes(seg)...),
	)
	defer span.End()

	start := time.Now()
	err := p.sink.Consume(dctx, seg)
	p.metrics.RecordSink(dctx, p.sink.Name(), time.Since(start), err)
	if err != nil {
		p.sinkErrors.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(dctx).Error("sink failed to consume segment",
			"sink", p.sink.Name(),
			"seq", seg.Seq,
			"err", err,
		)
		return err
	}
	p.delivered.Add(1)
	return nil
}

// report logs counters every ReportInterval and warns when the ring buffer
// overflowed since the last report.
func (p *Pipeline) report(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if p.cfg.ReportInterval <= 0 {
		<-stop
		return
	}
	t := time.NewTicker(p.cfg.ReportInterval)
	defer t.Stop()

	var lastDropped uint64
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s := p.Stats()
			if d := s.Dropped - lastDropped; d > 0 {
				slog.Warn("ring buffer overflow; capture samples dropped", "dropped", d, "total_dropped", s.Dropped)
			}
			lastDropped = s.Dropped
			slog.Info("pipeline stats", "stats", s)
		}
	}
}

func (p *Pipeline) captureSnapshot() observe.CaptureSnapshot {
	return observe.CaptureSnapshot{
		Captured: p.captured.Load(),
		Dropped:  p.dropped.Load(),
		RingFill: p.ringFill(),
	}
}

func (p *Pipeline) ringFill() float64 {
	return float64(p.ring.Len()) / float64(p.ring.Cap())
}
