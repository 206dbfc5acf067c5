package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/segment"
)

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		mention string
	}{
		{"log level", "server:\n  log_level: bananas\n", "server.log_level"},
		{"wav capture without path", "capture:\n  backend: wav\n", "capture.path"},
		{"negative sample rate", "capture:\n  sample_rate: -1\n", "capture.sample_rate"},
		{"vad mode", "vad:\n  mode: loud\n", "vad.mode"},
		{"negative threshold", "vad:\n  energy_threshold: -5\n", "vad.energy_threshold"},
		{"segmenter order", "segmenter:\n  min_active_frames: 50\n  max_active_frames: 50\n", "max_active_frames"},
		{"ring too small", "pipeline:\n  ring_capacity: 40\n", "ring capacity"},
		{"negative poll", "pipeline:\n  poll_interval: -1ms\n", "poll interval"},
		{"wav sink without dir", "sink:\n  backend: wav\n", "sink.dir"},
		{"websocket without url", "sink:\n  backend: websocket\n", "sink.url"},
		{"whisper without model", "sink:\n  backend: whisper\n", "sink.model_path"},
		{"negative write timeout", "sink:\n  write_timeout: -1s\n", "sink.write_timeout"},
		{"discord without channel", "capture:\n  backend: discord\n  discord:\n    token: t\n    guild_id: g\n", "capture.discord"},
		{"negative speaker hold", "capture:\n  backend: discord\n  discord:\n    token: t\n    guild_id: g\n    channel_id: c\n    speaker_hold: -1s\n", "capture.discord.speaker_hold"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.mention) {
				t.Errorf("error should mention %q, got: %v", tc.mention, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
vad:
  mode: mellow
sink:
  backend: websocket
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "vad.mode", "sink.url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownBackendIsOnlyWarned(t *testing.T) {
	t.Parallel()
	yaml := `
capture:
  backend: pipewire
vad:
  backend: silero
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown backend names should only warn, got: %v", err)
	}
}

func TestValidate_ZeroMinActiveAllowed(t *testing.T) {
	t.Parallel()
	yaml := `
segmenter:
  min_active_frames: 0
  max_active_frames: 10
  max_inactive_frames: 0
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Segmenter.MaxActive != 10 || cfg.Segmenter.MinActive != 0 {
		t.Errorf("segmenter: got %+v", cfg.Segmenter)
	}
}

func TestLoadFromReader_PartialSectionKeepsDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
segmenter:
  max_inactive_frames: 20
pipeline:
  output_buffer: 2
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := segment.DefaultConfig()
	want.MaxInactive = 20
	if cfg.Segmenter != want {
		t.Errorf("segmenter = %+v, want %+v", cfg.Segmenter, want)
	}
	if cfg.Pipeline.OutputBuffer != 2 || cfg.Pipeline.RingCapacity != 16384 || cfg.Pipeline.ReportInterval != 30*time.Second {
		t.Errorf("pipeline = %+v, want defaults except output_buffer", cfg.Pipeline)
	}
}

func TestLoadFromReader_ExplicitZeroDisables(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ""
pipeline:
  report_interval: 0s
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != "" {
		t.Errorf("listen_addr = %q, want empty (server disabled)", cfg.Server.ListenAddr)
	}
	if cfg.Pipeline.ReportInterval != 0 {
		t.Errorf("report_interval = %s, want 0 (reports disabled)", cfg.Pipeline.ReportInterval)
	}
	if got := cfg.PipelineConfig().ReportInterval; got != 0 {
		t.Errorf("PipelineConfig().ReportInterval = %s, want 0", got)
	}
}

func TestApplyDefaults_KeepsMeaningfulZeros(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if cfg.Server.ListenAddr != "" || cfg.Pipeline.ReportInterval != 0 {
		t.Errorf("listen_addr=%q report_interval=%s, want both left zero", cfg.Server.ListenAddr, cfg.Pipeline.ReportInterval)
	}
	if cfg.Segmenter != segment.DefaultConfig() || cfg.Pipeline.RingCapacity == 0 {
		t.Errorf("zero sections not defaulted: %+v / %+v", cfg.Segmenter, cfg.Pipeline)
	}
}

func TestLoadFromReader_DiscordAndOpenAI(t *testing.T) {
	t.Parallel()
	yaml := `
capture:
  backend: discord
  discord:
    token: bot-token
    guild_id: "123"
    channel_id: "456"
    speaker_hold: 750ms
sink:
  backend: openai
  model: gpt-4o-mini-transcribe
  language: de
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	want := config.DiscordConfig{Token: "bot-token", GuildID: "123", ChannelID: "456", SpeakerHold: 750 * time.Millisecond}
	if cfg.Capture.Discord != want {
		t.Errorf("capture.discord = %+v, want %+v", cfg.Capture.Discord, want)
	}
	if cfg.Sink.Model != "gpt-4o-mini-transcribe" || cfg.Sink.Language != "de" || cfg.Sink.APIKey != "" {
		t.Errorf("sink = %+v", cfg.Sink)
	}
}
