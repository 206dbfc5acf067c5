package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/earshot/pkg/audio"
)

const tracerName = "github.com/MrWong99/earshot"

// Tracer returns the earshot tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// TraceID returns the hex trace ID of the span in ctx, or "" if there is
// none.
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// SegmentAttributes describes seg for span attributes.
func SegmentAttributes(seg audio.Segment) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64("segment.seq", int64(seg.Seq)),
		attribute.String("segment.reason", seg.Reason.String()),
		attribute.Int("segment.frames", seg.Frames),
		attribute.Int64("segment.offset_ms", seg.Offset.Milliseconds()),
		attribute.Float64("segment.duration_s", seg.Duration().Seconds()),
	}
}
