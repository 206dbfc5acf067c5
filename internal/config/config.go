// Package config provides the configuration schema, loader, file watcher and
// provider registry for earshot.
package config

import (
	"time"

	"github.com/MrWong99/earshot/internal/segment"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Capture   CaptureConfig   `yaml:"capture"`
	VAD       VADConfig       `yaml:"vad"`
	Segmenter segment.Config  `yaml:"segmenter"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Sink      SinkConfig      `yaml:"sink"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics.
	// Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is the only setting applied without a
	// restart when the config file changes.
	LogLevel LogLevel `yaml:"log_level"`
}

// CaptureConfig selects and configures the audio source.
type CaptureConfig struct {
	// Backend is the registered capture backend name ("malgo", "wav" or
	// "discord").
	Backend string `yaml:"backend"`

	// Device is a case-insensitive substring of the capture device name.
	// Empty selects the system default.
	Device string `yaml:"device"`

	// SampleRate requests a device rate in Hz. The device may report a
	// different one; the pipeline resamples whatever it gets.
	SampleRate int `yaml:"sample_rate"`

	// Path is the WAV file replayed by the "wav" backend.
	Path string `yaml:"path"`

	// Realtime paces WAV replay at the file's own rate.
	Realtime *bool `yaml:"realtime"`

	// Discord configures the "discord" backend.
	Discord DiscordConfig `yaml:"discord"`
}

// DiscordConfig names the voice channel captured by the "discord" backend.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`

	// SpeakerHold is how long the followed speaker may stay silent before
	// another one is picked up. Zero uses the backend default.
	SpeakerHold time.Duration `yaml:"speaker_hold"`
}

// IsRealtime reports whether WAV replay is paced. Defaults to true.
func (c CaptureConfig) IsRealtime() bool {
	return c.Realtime == nil || *c.Realtime
}

// VADConfig selects the voice activity classifier.
type VADConfig struct {
	// Backend is the registered VAD backend name ("webrtc" or "energy").
	Backend string `yaml:"backend"`

	// Mode is the aggressiveness: quality, low_bitrate, aggressive or
	// very_aggressive.
	Mode string `yaml:"mode"`

	// EnergyThreshold is the base RMS threshold of the "energy" backend on
	// the int16 scale.
	EnergyThreshold float64 `yaml:"energy_threshold"`
}

// PipelineConfig holds the orchestration parameters.
type PipelineConfig struct {
	RingCapacity int           `yaml:"ring_capacity"`
	OutputBuffer int           `yaml:"output_buffer"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// ReportInterval is how often pipeline stats are logged. Zero disables
	// periodic reports.
	ReportInterval time.Duration `yaml:"report_interval"`
}

// SinkConfig selects where emitted segments go.
type SinkConfig struct {
	// Backend is the registered sink name ("discard", "wav", "websocket",
	// "whisper" or "openai").
	Backend string `yaml:"backend"`

	// Dir is the output directory of the "wav" sink.
	Dir string `yaml:"dir"`

	// URL is the endpoint of the "websocket" sink.
	URL string `yaml:"url"`

	// WriteTimeout bounds a single websocket delivery or openai request.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ModelPath is the ggml model file of the "whisper" sink.
	ModelPath string `yaml:"model_path"`

	// Language is the transcription language of the "whisper" and "openai"
	// sinks ("auto" to detect).
	Language string `yaml:"language"`

	// APIKey authenticates the "openai" sink. Empty falls back to the
	// OPENAI_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// Model is the "openai" transcription model. Empty selects whisper-1.
	Model string `yaml:"model"`

	// BaseURL points the "openai" sink at a compatible server.
	BaseURL string `yaml:"base_url"`

	// Prompt guides spelling and style of "openai" transcripts.
	Prompt string `yaml:"prompt"`
}

// TelemetryConfig names the service in exported metrics and traces.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}
