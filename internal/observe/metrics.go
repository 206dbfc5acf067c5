// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// Counters that the capture callback touches are never recorded from the
// callback itself. The pipeline keeps them in atomics and exposes them
// through [Metrics.ObserveCapture], which reads them at collection time.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/earshot/pkg/audio"
)

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/MrWong99/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Histograms ---

	// SegmentDuration tracks the playback length of emitted segments. Use
	// with attribute "reason".
	SegmentDuration metric.Float64Histogram

	// SinkDuration tracks how long a sink takes to consume one segment. Use
	// with attribute "sink".
	SinkDuration metric.Float64Histogram

	// --- Counters ---

	// Frames counts classified frames. Use with attribute "result"
	// ("speech" or "silence").
	Frames metric.Int64Counter

	// ClassifierErrors counts frames the classifier failed on.
	ClassifierErrors metric.Int64Counter

	// SegmentsEmitted counts emitted segments. Use with attribute "reason".
	SegmentsEmitted metric.Int64Counter

	// SegmentsDiscarded counts segments dropped for being too short.
	SegmentsDiscarded metric.Int64Counter

	// SinkErrors counts failed sink deliveries. Use with attribute "sink".
	SinkErrors metric.Int64Counter

	// --- Observables (read at collection time) ---

	// CapturedSamples counts 8 kHz samples written to the ring buffer.
	CapturedSamples metric.Int64ObservableCounter

	// DroppedSamples counts 8 kHz samples dropped because the ring buffer
	// was full.
	DroppedSamples metric.Int64ObservableCounter

	// RingFill reports ring buffer occupancy as a ratio in [0, 1].
	RingFill metric.Float64ObservableGauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes "method" and "path".
	HTTPRequestDuration metric.Float64Histogram

	meter metric.Meter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for sink
// latency.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// segmentBuckets defines bucket boundaries (in seconds) for segment length.
var segmentBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 80, 120,
}

var (
	speechAttrs  = metric.WithAttributeSet(attribute.NewSet(attribute.String("result", "speech")))
	silenceAttrs = metric.WithAttributeSet(attribute.NewSet(attribute.String("result", "silence")))
)

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.SegmentDuration, err = m.Float64Histogram("earshot.segment.duration",
		metric.WithDescription("Playback length of emitted speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SinkDuration, err = m.Float64Histogram("earshot.sink.duration",
		metric.WithDescription("Time a sink takes to consume one segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Frames, err = m.Int64Counter("earshot.vad.frames",
		metric.WithDescription("Classified 10 ms frames by result."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierErrors, err = m.Int64Counter("earshot.vad.errors",
		metric.WithDescription("Frames the voice activity classifier failed on."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsEmitted, err = m.Int64Counter("earshot.segments.emitted",
		metric.WithDescription("Emitted speech segments by reason."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDiscarded, err = m.Int64Counter("earshot.segments.discarded",
		metric.WithDescription("Speech segments discarded for being too short."),
	); err != nil {
		return nil, err
	}
	if met.SinkErrors, err = m.Int64Counter("earshot.sink.errors",
		metric.WithDescription("Failed segment deliveries by sink."),
	); err != nil {
		return nil, err
	}

	if met.CapturedSamples, err = m.Int64ObservableCounter("earshot.capture.samples",
		metric.WithDescription("8 kHz samples written to the ring buffer."),
	); err != nil {
		return nil, err
	}
	if met.DroppedSamples, err = m.Int64ObservableCounter("earshot.capture.dropped",
		metric.WithDescription("8 kHz samples dropped because the ring buffer was full."),
	); err != nil {
		return nil, err
	}
	if met.RingFill, err = m.Float64ObservableGauge("earshot.ring.fill",
		metric.WithDescription("Ring buffer occupancy ratio."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// CaptureSnapshot is the callback-side state read at collection time.
type CaptureSnapshot struct {
	Captured uint64
	Dropped  uint64
	RingFill float64
}

// ObserveCapture registers fn to feed the observable capture instruments.
// Unregister the returned registration when the pipeline stops.
func (m *Metrics) ObserveCapture(fn func() CaptureSnapshot) (metric.Registration, error) {
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := fn()
		o.ObserveInt64(m.CapturedSamples, int64(s.Captured))
		o.ObserveInt64(m.DroppedSamples, int64(s.Dropped))
		o.ObserveFloat64(m.RingFill, s.RingFill)
		return nil
	}, m.CapturedSamples, m.DroppedSamples, m.RingFill)
}

// RecordFrame counts one classified frame.
func (m *Metrics) RecordFrame(ctx context.Context, speech bool) {
	if speech {
		m.Frames.Add(ctx, 1, speechAttrs)
		return
	}
	m.Frames.Add(ctx, 1, silenceAttrs)
}

// RecordClassifierError counts one classifier failure.
func (m *Metrics) RecordClassifierError(ctx context.Context) {
	m.ClassifierErrors.Add(ctx, 1)
}

// RecordEmitted counts seg and records its length.
func (m *Metrics) RecordEmitted(ctx context.Context, seg audio.Segment) {
	attrs := metric.WithAttributes(attribute.String("reason", seg.Reason.String()))
	m.SegmentsEmitted.Add(ctx, 1, attrs)
	m.SegmentDuration.Record(ctx, seg.Duration().Seconds(), attrs)
}

// RecordDiscarded counts one discarded segment.
func (m *Metrics) RecordDiscarded(ctx context.Context) {
	m.SegmentsDiscarded.Add(ctx, 1)
}

// RecordSink records one sink delivery and, if err is non-nil, counts the
// failure.
func (m *Metrics) RecordSink(ctx context.Context, sinkName string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("sink", sinkName))
	m.SinkDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.SinkErrors.Add(ctx, 1, attrs)
	}
}
