package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMiddleware(t *testing.T) {
	m, reader := newTestMetrics(t)
	exp := useTestTracer(t)

	var seenTraceID string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenTraceID = TraceID(r.Context())
		if r.URL.Path == "/readyz" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name        string
		path        string
		traceparent string
		wantStatus  int
		wantTraceID string
	}{
		{name: "new trace", path: "/healthz", wantStatus: http.StatusOK},
		{
			name:        "continues incoming trace",
			path:        "/metrics",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			wantStatus:  http.StatusOK,
			wantTraceID: "4bf92f3577b34da6a3ce929d0e0e4736",
		},
		{name: "status captured", path: "/readyz", wantStatus: http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exp.Reset()
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.traceparent != "" {
				req.Header.Set("traceparent", tc.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if len(seenTraceID) != 32 {
				t.Errorf("handler trace ID = %q, want 32 hex characters", seenTraceID)
			}
			if tc.wantTraceID != "" && seenTraceID != tc.wantTraceID {
				t.Errorf("trace ID = %q, want %q", seenTraceID, tc.wantTraceID)
			}
			if got := rec.Header().Get("X-Trace-ID"); got != seenTraceID {
				t.Errorf("X-Trace-ID = %q, want %q", got, seenTraceID)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			if want := "GET " + tc.path; spans[0].Name != want {
				t.Errorf("span name = %q, want %q", spans[0].Name, want)
			}
			set := attribute.NewSet(spans[0].Attributes...)
			if v, ok := set.Value("http.response.status_code"); !ok || v.AsInt64() != int64(tc.wantStatus) {
				t.Errorf("span status attribute = %v, want %d", v.Emit(), tc.wantStatus)
			}
		})
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "earshot.http.request.duration")
	if met == nil {
		t.Fatal("http duration metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != len(tests) {
		t.Errorf("data points = %d, want one per path (%d)", len(hist.DataPoints), len(tests))
	}
}
