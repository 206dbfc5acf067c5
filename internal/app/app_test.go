package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/pkg/audio"
	capmock "github.com/MrWong99/earshot/pkg/provider/capture/mock"
	sinkmock "github.com/MrWong99/earshot/pkg/provider/sink/mock"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	vadmock "github.com/MrWong99/earshot/pkg/provider/vad/mock"
)

// testConfig returns a config with small segmenter thresholds and an
// ephemeral listener.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server:    config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Segmenter: segment.Config{MinActive: 10, MaxActive: 100, MaxInactive: 5},
	}
	config.ApplyDefaults(cfg)
	cfg.Pipeline.PollInterval = time.Millisecond
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func speechBlocks(speech, silence int) [][]float32 {
	var out [][]float32
	for i := range speech + silence {
		b := make([]float32, audio.FrameSize)
		if i < speech {
			for j := range b {
				b[j] = 0.25
			}
		}
		out = append(out, b)
	}
	return out
}

func levelSession() *vadmock.Session {
	return &vadmock.Session{
		Decide: func(_ int, frame []int16) (bool, error) { return frame[0] != 0, nil },
	}
}

func TestRun_FiniteSourceDeliversSegments(t *testing.T) {
	t.Parallel()
	sess := levelSession()
	eng := &vadmock.Engine{Session: sess}
	snk := &sinkmock.Sink{}
	dev := &capmock.Device{Rate: audio.TargetSampleRate, Blocks: speechBlocks(20, 10)}

	cfg := testConfig(t)
	cfg.VAD.Mode = "very_aggressive"
	a, err := app.New(cfg, app.Providers{Capture: dev, VAD: eng, Sink: snk}, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if got := len(snk.Consumed()); got != 1 {
		t.Errorf("consumed %d segments, want 1", got)
	}
	if s := a.Stats(); s.Frames != 30 || s.Delivered != 1 {
		t.Errorf("Stats = %+v", s)
	}

	if len(eng.NewSessionCalls) != 1 {
		t.Fatalf("NewSession calls = %d, want 1", len(eng.NewSessionCalls))
	}
	want := vad.Config{SampleRate: 8000, FrameSizeMs: 10, Mode: vad.ModeVeryAggressive}
	if got := eng.NewSessionCalls[0].Cfg; got != want {
		t.Errorf("NewSession cfg = %+v, want %+v", got, want)
	}
	if snk.CloseCallCount != 1 || sess.CloseCallCount != 1 {
		t.Errorf("close calls sink=%d session=%d, want 1/1", snk.CloseCallCount, sess.CloseCallCount)
	}

	// Idempotent.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if snk.CloseCallCount != 1 {
		t.Errorf("sink closed %d times, want 1", snk.CloseCallCount)
	}
}

func TestRun_ServesHealthAndMetrics(t *testing.T) {
	t.Parallel()
	dev := &capmock.Device{Rate: audio.TargetSampleRate, Hold: true}
	metricsHit := make(chan struct{}, 1)
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		select {
		case metricsHit <- struct{}{}:
		default:
		}
		_, _ = w.Write([]byte("# metrics\n"))
	})

	a, err := app.New(testConfig(t),
		app.Providers{Capture: dev, VAD: &vadmock.Engine{Session: levelSession()}, Sink: &sinkmock.Sink{}},
		app.WithMetrics(testMetrics(t)),
		app.WithMetricsHandler(metricsHandler),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base := "http://" + a.Addr()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	get := func(path string) (int, map[string]any) {
		t.Helper()
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		code, body := get("/readyz")
		if code == http.StatusOK {
			if _, ok := body["stats"]; !ok {
				t.Errorf("/readyz body has no stats: %v", body)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("/readyz never became ready, last body %v", body)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if code, _ := get("/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", code)
	}
	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	select {
	case <-metricsHit:
	default:
		t.Error("metrics handler not invoked")
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", resp.StatusCode)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := http.Get(base + "/healthz"); err == nil {
		t.Error("server still answering after Shutdown")
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	boom := errors.New("detector unavailable")
	tests := []struct {
		name   string
		mutate func(*config.Config)
		engine *vadmock.Engine
	}{
		{"bad mode", func(c *config.Config) { c.VAD.Mode = "shouty" }, &vadmock.Engine{}},
		{"session error", func(*config.Config) {}, &vadmock.Engine{NewSessionErr: boom}},
		{"bad pipeline", func(c *config.Config) { c.Pipeline.OutputBuffer = -1 }, &vadmock.Engine{}},
		{"bad listen addr", func(c *config.Config) { c.Server.ListenAddr = "not-an-addr" }, &vadmock.Engine{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			tc.mutate(cfg)
			snk := &sinkmock.Sink{}
			_, err := app.New(cfg, app.Providers{Capture: &capmock.Device{}, VAD: tc.engine, Sink: snk}, app.WithMetrics(testMetrics(t)))
			if err == nil {
				t.Fatal("New succeeded, want error")
			}
			if snk.CloseCallCount != 1 {
				t.Errorf("sink closed %d times after failed New, want 1", snk.CloseCallCount)
			}
		})
	}

	if _, err := app.New(testConfig(t), app.Providers{}); err == nil {
		t.Error("New without providers succeeded")
	}
}

func TestNew_ServerDisabled(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Server.ListenAddr = ""
	a, err := app.New(cfg, app.Providers{Capture: &capmock.Device{}, VAD: &vadmock.Engine{}, Sink: &sinkmock.Sink{}}, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Addr() != "" {
		t.Errorf("Addr = %q, want empty", a.Addr())
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
