// Command earshot captures audio, detects speech and emits utterance
// segments to the configured sink.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/provider/capture"
	"github.com/MrWong99/earshot/pkg/provider/capture/discord"
	"github.com/MrWong99/earshot/pkg/provider/capture/malgo"
	"github.com/MrWong99/earshot/pkg/provider/capture/wavfile"
	"github.com/MrWong99/earshot/pkg/provider/sink"
	"github.com/MrWong99/earshot/pkg/provider/sink/openai"
	"github.com/MrWong99/earshot/pkg/provider/sink/wavsink"
	"github.com/MrWong99/earshot/pkg/provider/sink/whisper"
	"github.com/MrWong99/earshot/pkg/provider/sink/wssink"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
	"github.com/MrWong99/earshot/pkg/provider/vad/webrtc"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("earshot starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(level, config.Compare(old, new))
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, *providers, app.WithMetricsHandler(tel.MetricsHandler()))
	if err != nil {
		releaseCapture(providers.Capture)
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("listening for speech; press Ctrl+C to stop")

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	slog.Info("goodbye", "stats", application.Stats())
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in backend factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Capture ───────────────────────────────────────────────────────────────
	reg.RegisterCapture("malgo", func(c config.CaptureConfig) (capture.Device, error) {
		return malgo.New(malgo.WithDevice(c.Device), malgo.WithSampleRate(c.SampleRate)), nil
	})
	reg.RegisterCapture("wav", func(c config.CaptureConfig) (capture.Device, error) {
		return wavfile.Open(c.Path, wavfile.WithRealtime(c.IsRealtime()))
	})
	reg.RegisterCapture("discord", func(c config.CaptureConfig) (capture.Device, error) {
		d := c.Discord
		return discord.New(d.Token, d.GuildID, d.ChannelID, discord.WithSpeakerHold(d.SpeakerHold))
	})

	// ── VAD ───────────────────────────────────────────────────────────────────
	reg.RegisterVAD("webrtc", func(config.VADConfig) (vad.Engine, error) {
		return webrtc.New(), nil
	})
	reg.RegisterVAD("energy", func(c config.VADConfig) (vad.Engine, error) {
		return energy.New(energy.WithThreshold(c.EnergyThreshold)), nil
	})

	// ── Sinks ─────────────────────────────────────────────────────────────────
	reg.RegisterSink("discard", func(context.Context, config.SinkConfig) (sink.Sink, error) {
		return sink.Discard{}, nil
	})
	reg.RegisterSink("wav", func(_ context.Context, c config.SinkConfig) (sink.Sink, error) {
		return wavsink.New(c.Dir)
	})
	reg.RegisterSink("websocket", func(ctx context.Context, c config.SinkConfig) (sink.Sink, error) {
		var opts []wssink.Option
		if c.WriteTimeout > 0 {
			opts = append(opts, wssink.WithWriteTimeout(c.WriteTimeout))
		}
		return wssink.Dial(ctx, c.URL, opts...)
	})
	reg.RegisterSink("whisper", func(_ context.Context, c config.SinkConfig) (sink.Sink, error) {
		return whisper.New(c.ModelPath, whisper.WithLanguage(c.Language))
	})
	reg.RegisterSink("openai", func(_ context.Context, c config.SinkConfig) (sink.Sink, error) {
		key := c.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		opts := []openai.Option{
			openai.WithLanguage(c.Language),
			openai.WithPrompt(c.Prompt),
		}
		if c.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(c.BaseURL))
		}
		if c.WriteTimeout > 0 {
			opts = append(opts, openai.WithTimeout(c.WriteTimeout))
		}
		return openai.New(key, c.Model, opts...)
	})
}

// buildProviders instantiates the configured backends. A sink is created
// last so a failing capture or VAD backend never leaves a connection open.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	dev, err := reg.CreateCapture(cfg.Capture)
	if err != nil {
		return nil, fmt.Errorf("capture %q: %w", cfg.Capture.Backend, err)
	}
	eng, err := reg.CreateVAD(cfg.VAD)
	if err != nil {
		releaseCapture(dev)
		return nil, fmt.Errorf("vad %q: %w", cfg.VAD.Backend, err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	snk, err := reg.CreateSink(dialCtx, cfg.Sink)
	if err != nil {
		releaseCapture(dev)
		return nil, fmt.Errorf("sink %q: %w", cfg.Sink.Backend, err)
	}
	return &app.Providers{Capture: dev, VAD: eng, Sink: snk}, nil
}

// releaseCapture stops a device that never reached the pipeline.
func releaseCapture(dev capture.Device) {
	if err := dev.Stop(); err != nil && !errors.Is(err, capture.ErrNotStarted) {
		slog.Warn("failed to release capture device", "device", dev.Name(), "err", err)
	}
}

// applyReload applies what can change at runtime and flags the rest.
func applyReload(level *slog.LevelVar, d config.Diff) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.Restart) > 0 {
		slog.Warn("config changes take effect after restart", "sections", d.Restart)
	}
}

// printStartupSummary logs the effective pipeline configuration.
func printStartupSummary(cfg *config.Config) {
	slog.Info("capture", "backend", cfg.Capture.Backend, "device", cfg.Capture.Device, "path", cfg.Capture.Path)
	slog.Info("vad", "backend", cfg.VAD.Backend, "mode", cfg.VAD.Mode)
	slog.Info("segmenter",
		"min_active_frames", cfg.Segmenter.MinActive,
		"max_active_frames", cfg.Segmenter.MaxActive,
		"max_inactive_frames", cfg.Segmenter.MaxInactive,
	)
	slog.Info("sink", "backend", cfg.Sink.Backend)
}

// slogLevel converts a config.LogLevel to the equivalent slog.Level.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
