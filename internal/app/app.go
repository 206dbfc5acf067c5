// Package app wires the earshot subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the classifier session,
// assembles the pipeline and binds the health/metrics listener, Run serves HTTP
// and executes the pipeline, and Shutdown tears everything down in order.
//
// Providers come from main.go via the config registry; tests pass mocks
// directly.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/capture"
	"github.com/MrWong99/earshot/pkg/provider/sink"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// frameMs is the classifier frame length: [audio.FrameSize] samples at
// [audio.TargetSampleRate].
const frameMs = 10

// Providers holds one backend per pipeline stage. All three are required.
type Providers struct {
	Capture capture.Device
	VAD     vad.Engine
	Sink    sink.Sink
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler

	session  vad.SessionHandle
	pipeline *pipeline.Pipeline
	server   *http.Server
	listener net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// New creates an App. On error every resource acquired so far is released.
func New(cfg *config.Config, providers Providers, opts ...Option) (*App, error) {
	if providers.Capture == nil || providers.VAD == nil || providers.Sink == nil {
		return nil, errors.New("app: capture, vad and sink providers are required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// The sink is owned from here on, so it is closed on any failure below.
	a.closers = append(a.closers, a.closeSink)

	if err := a.initClassifier(); err != nil {
		a.release()
		return nil, fmt.Errorf("app: init classifier: %w", err)
	}

	p, err := pipeline.New(cfg.PipelineConfig(), providers.Capture, a.session, providers.Sink, a.metrics)
	if err != nil {
		a.release()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.pipeline = p

	if err := a.initServer(); err != nil {
		a.release()
		return nil, fmt.Errorf("app: init http server: %w", err)
	}
	return a, nil
}

func (a *App) initClassifier() error {
	mode, err := vad.ParseMode(a.cfg.VAD.Mode)
	if err != nil {
		return err
	}
	session, err := a.providers.VAD.NewSession(vad.Config{
		SampleRate:  audio.TargetSampleRate,
		FrameSizeMs: frameMs,
		Mode:        mode,
	})
	if err != nil {
		return err
	}
	a.session = session
	a.closers = append(a.closers, session.Close)
	return nil
}

func (a *App) initServer() error {
	if a.cfg.Server.ListenAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	health.New([]health.Checker{
		{Name: "capture", Check: a.pipeline.CaptureCheck},
		{Name: "ring", Check: a.pipeline.RingCheck},
	}, health.WithStats(func() any { return a.pipeline.Stats() })).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}

	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return err
	}
	a.listener = ln
	a.server = &http.Server{
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	// The server goes first so health checks stop answering before the pipeline's
	// resources disappear.
	a.closers = append([]func() error{a.closeServer}, a.closers...)
	return nil
}

// Addr returns the bound HTTP address, or "" when the server is disabled.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stats returns the pipeline counters.
func (a *App) Stats() pipeline.Stats { return a.pipeline.Stats() }

// Run serves HTTP in the background and runs the pipeline until ctx is
// cancelled, a finite capture source is exhausted, or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.server != nil {
		go func() {
			if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server stopped", "err", err)
			}
		}()
		slog.Info("http server listening", "addr", a.Addr())
	}
	return a.pipeline.Run(ctx)
}

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned. Later calls are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// release runs the closers collected by a failed New.
func (a *App) release() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("cleanup after failed init", "err", err)
		}
	}
	a.closers = nil
}

func (a *App) closeSink() error {
	if err := a.providers.Sink.Close(); err != nil {
		return fmt.Errorf("sink %s: %w", a.providers.Sink.Name(), err)
	}
	return nil
}

func (a *App) closeServer() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.server.Shutdown(ctx)
	// Shutdown only closes listeners Serve was called with.
	if cerr := a.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = errors.Join(err, cerr)
	}
	return err
}
