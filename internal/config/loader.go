package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// ValidBackendNames lists the built-in backend names per provider kind.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = map[string][]string{
	"capture": {"malgo", "wav", "discord"},
	"vad":     {"webrtc", "energy"},
	"sink":    {"discard", "wav", "websocket", "whisper", "openai"},
}

// Defaults used by [Default] and [ApplyDefaults].
const (
	DefaultListenAddr  = ":9464"
	DefaultCapture     = "malgo"
	DefaultSampleRate  = 48000
	DefaultVAD         = "webrtc"
	DefaultVADMode     = "aggressive"
	DefaultSink        = "discard"
	DefaultServiceName = "earshot"
	DefaultLanguage    = "en"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Keys the document omits keep their defaults, including
// single keys inside a section. Unknown keys are rejected. An empty document
// yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with every setting at its default.
func Default() *Config {
	def := pipeline.DefaultConfig()
	return &Config{
		Server: ServerConfig{ListenAddr: DefaultListenAddr, LogLevel: LogInfo},
		Capture: CaptureConfig{
			Backend:    DefaultCapture,
			SampleRate: DefaultSampleRate,
		},
		VAD:       VADConfig{Backend: DefaultVAD, Mode: DefaultVADMode},
		Segmenter: def.Segmenter,
		Pipeline: PipelineConfig{
			RingCapacity:   def.RingCapacity,
			OutputBuffer:   def.OutputBuffer,
			PollInterval:   def.PollInterval,
			ReportInterval: def.ReportInterval,
		},
		Sink:      SinkConfig{Backend: DefaultSink},
		Telemetry: TelemetryConfig{ServiceName: DefaultServiceName},
	}
}

// ApplyDefaults fills zero values of a programmatically built Config. Zero is
// meaningful for a few settings and is kept there: an empty listen address
// disables the HTTP server and a zero report interval disables periodic
// reports. The segmenter section is replaced by [segment.DefaultConfig] only
// when it is entirely zero, since zero is a valid individual threshold.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Capture.Backend == "" {
		cfg.Capture.Backend = DefaultCapture
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = DefaultSampleRate
	}

	if cfg.VAD.Backend == "" {
		cfg.VAD.Backend = DefaultVAD
	}
	if cfg.VAD.Mode == "" {
		cfg.VAD.Mode = DefaultVADMode
	}

	if cfg.Segmenter == (segment.Config{}) {
		cfg.Segmenter = segment.DefaultConfig()
	}

	def := pipeline.DefaultConfig()
	if cfg.Pipeline.RingCapacity == 0 {
		cfg.Pipeline.RingCapacity = def.RingCapacity
	}
	if cfg.Pipeline.OutputBuffer == 0 {
		cfg.Pipeline.OutputBuffer = def.OutputBuffer
	}
	if cfg.Pipeline.PollInterval == 0 {
		cfg.Pipeline.PollInterval = def.PollInterval
	}

	if cfg.Sink.Backend == "" {
		cfg.Sink.Backend = DefaultSink
	}
	if cfg.Sink.Backend == "whisper" && cfg.Sink.Language == "" {
		cfg.Sink.Language = DefaultLanguage
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// PipelineConfig assembles the orchestrator parameters from the pipeline and
// segmenter sections.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		RingCapacity:   c.Pipeline.RingCapacity,
		OutputBuffer:   c.Pipeline.OutputBuffer,
		PollInterval:   c.Pipeline.PollInterval,
		ReportInterval: c.Pipeline.ReportInterval,
		Segmenter:      c.Segmenter,
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateBackendName("capture", cfg.Capture.Backend)
	validateBackendName("vad", cfg.VAD.Backend)
	validateBackendName("sink", cfg.Sink.Backend)

	// Capture
	if cfg.Capture.Backend == "" {
		errs = append(errs, errors.New("capture.backend is required"))
	}
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Backend == "wav" && cfg.Capture.Path == "" {
		errs = append(errs, errors.New("capture.path is required when backend is wav"))
	}
	if cfg.Capture.Backend == "discord" {
		d := cfg.Capture.Discord
		if d.Token == "" || d.GuildID == "" || d.ChannelID == "" {
			errs = append(errs, errors.New("capture.discord.token, guild_id and channel_id are required when backend is discord"))
		}
		if d.SpeakerHold < 0 {
			errs = append(errs, fmt.Errorf("capture.discord.speaker_hold %s must not be negative", d.SpeakerHold))
		}
	}

	// VAD
	if cfg.VAD.Backend == "" {
		errs = append(errs, errors.New("vad.backend is required"))
	}
	if cfg.VAD.Mode != "" {
		if _, err := vad.ParseMode(cfg.VAD.Mode); err != nil {
			errs = append(errs, fmt.Errorf("vad.mode: %w", err))
		}
	}
	if cfg.VAD.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.energy_threshold %.1f must not be negative", cfg.VAD.EnergyThreshold))
	}

	// Segmenter and pipeline; PipelineConfig().Validate covers both.
	if err := cfg.PipelineConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	// Sink
	switch cfg.Sink.Backend {
	case "":
		errs = append(errs, errors.New("sink.backend is required"))
	case "wav":
		if cfg.Sink.Dir == "" {
			errs = append(errs, errors.New("sink.dir is required when backend is wav"))
		}
	case "websocket":
		if cfg.Sink.URL == "" {
			errs = append(errs, errors.New("sink.url is required when backend is websocket"))
		}
	case "whisper":
		if cfg.Sink.ModelPath == "" {
			errs = append(errs, errors.New("sink.model_path is required when backend is whisper"))
		}
	}
	if cfg.Sink.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("sink.write_timeout %s must not be negative", cfg.Sink.WriteTimeout))
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not one of the
// built-in backends for kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name; it must be registered by the embedding program",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
