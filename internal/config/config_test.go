package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/earwig/internal/config"
	"github.com/MrWong99/earwig/pkg/audio"
	audiomock "github.com/MrWong99/earwig/pkg/audio/mock"
	"github.com/MrWong99/earwig/pkg/listen"
	"github.com/MrWong99/earwig/pkg/provider/stt"
	"github.com/MrWong99/earwig/pkg/provider/vad"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: debug

listen:
  frame_duration_ms: 20
  end_silence_ms: 400
  preroll_ms: 0

providers:
  audio:
    name: portaudio
    options:
      device: "USB Microphone"
  vad:
    name: webrtc
  stt:
    name: whisper
    base_url: http://localhost:8081
    options:
      language: en
  stt_fallbacks:
    - name: openai
      api_key: sk-test
      model: whisper-1

commands:
  enabled: true
  insult_keywords: [stupid, dumb]
  insult_window: 90s
  time_error_margin: 3m
  fuzzy: true

effects:
  enabled: true
  correct_dir: sounds/correct
  incorrect_dir: sounds/incorrect
  crying_file: sounds/crying.wav

journal:
  postgres_dsn: postgres://localhost/earwig
`

func loadSample(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := loadSample(t)

	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	lc := cfg.ListenConfig()
	if lc.FrameDurationMs != 20 || lc.EndSilenceMs != 400 {
		t.Errorf("listen = %+v", lc)
	}
	if lc.PrerollMs != 0 {
		t.Errorf("explicit preroll_ms: 0 overwritten with %d", lc.PrerollMs)
	}
	if lc.SampleRate != listen.DefaultSampleRate || lc.ChannelCapacity != listen.DefaultChannelCapacity {
		t.Errorf("absent listen keys lost their defaults: %+v", lc)
	}
	if got := cfg.Providers.Audio.OptionString("device", ""); got != "USB Microphone" {
		t.Errorf("audio device option = %q", got)
	}
	if len(cfg.Providers.STTFallbacks) != 1 || cfg.Providers.STTFallbacks[0].Model != "whisper-1" {
		t.Errorf("stt_fallbacks = %+v", cfg.Providers.STTFallbacks)
	}
	if cfg.Commands.InsultWindow != 90*time.Second || cfg.Commands.TimeErrorMargin != 3*time.Minute {
		t.Errorf("durations = %v / %v", cfg.Commands.InsultWindow, cfg.Commands.TimeErrorMargin)
	}
	if len(cfg.Commands.TimePhrases) != len(config.DefaultTimePhrases) {
		t.Errorf("time phrases default not applied: %v", cfg.Commands.TimePhrases)
	}
	if cfg.Journal.PostgresDSN == "" {
		t.Error("journal dsn not decoded")
	}
}

func TestLoadFromReader_MinimalAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("providers:\n  stt:\n    name: whisper\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.Audio.Name != config.DefaultAudioProvider || cfg.Providers.VAD.Name != config.DefaultVADProvider {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log level = %q", cfg.Server.LogLevel)
	}
	if cfg.ListenConfig() != listen.DefaultConfig() {
		t.Errorf("listen = %+v, want defaults", cfg.ListenConfig())
	}
	if cfg.Commands.InsultWindow != config.DefaultInsultWindow {
		t.Errorf("insult window = %v", cfg.Commands.InsultWindow)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("listen:\n  sample_rat: 8000\n"))
	if err == nil || !strings.Contains(err.Error(), "sample_rat") {
		t.Fatalf("want unknown field error, got %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "earwig.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if cfg.Providers.STT.Name != "whisper-native" || len(cfg.Providers.STTFallbacks) != 1 {
		t.Errorf("stt = %q with %d fallbacks", cfg.Providers.STT.Name, len(cfg.Providers.STTFallbacks))
	}
	if cfg.Commands.InsultWindow != time.Minute {
		t.Errorf("InsultWindow = %v, want 1m", cfg.Commands.InsultWindow)
	}
}

// ── validation ───────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: loud\nproviders:\n  stt:\n    name: whisper\n",
			wantSub: "log_level",
		},
		{
			name:    "missing stt",
			yaml:    "server:\n  log_level: info\n",
			wantSub: "providers.stt.name",
		},
		{
			name:    "bad frame duration",
			yaml:    "listen:\n  frame_duration_ms: 25\nproviders:\n  stt:\n    name: whisper\n",
			wantSub: "frame_duration_ms",
		},
		{
			name:    "unnamed fallback",
			yaml:    "providers:\n  stt:\n    name: whisper\n  stt_fallbacks:\n    - model: x\n",
			wantSub: "stt_fallbacks[0]",
		},
		{
			name:    "negative margin",
			yaml:    "providers:\n  stt:\n    name: whisper\ncommands:\n  time_error_margin: -1m\n",
			wantSub: "time_error_margin",
		},
		{
			name:    "effects without paths",
			yaml:    "providers:\n  stt:\n    name: whisper\neffects:\n  enabled: true\n",
			wantSub: "effects.crying_file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidate_ListenErrorsWrapSentinel(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Providers.STT.Name = "whisper"
	cfg.Listen.ChannelCapacity = 0
	if err := config.Validate(cfg); !errors.Is(err, listen.ErrInvalidConfig) {
		t.Errorf("err = %v, want wrapping listen.ErrInvalidConfig", err)
	}
}

func TestLoadKeywords(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "insults.txt")
	if err := os.WriteFile(path, []byte("# comment\nStupid\n\n  idiot  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := config.LoadKeywords(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "stupid,idiot" {
		t.Errorf("keywords = %v", got)
	}
}

func TestProviderEntryOptions(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{"s": "x", "i": 3, "f": 0.5, "n": 7.0}}
	if e.OptionString("s", "") != "x" || e.OptionString("missing", "d") != "d" {
		t.Error("OptionString")
	}
	if e.OptionInt("i", 0) != 3 || e.OptionInt("n", 0) != 7 || e.OptionInt("s", 9) != 9 {
		t.Error("OptionInt")
	}
	if e.OptionFloat("f", 0) != 0.5 || e.OptionFloat("i", 0) != 3 {
		t.Error("OptionFloat")
	}
}

// ── registry ─────────────────────────────────────────────────────────────────

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(context.Context, []byte) (string, error) { return "", nil }

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	dev := &audiomock.Device{}
	reg.RegisterAudio("mock", func(config.ProviderEntry, listen.Config) (audio.Device, error) { return dev, nil })
	reg.RegisterVAD("always", func(config.ProviderEntry, listen.Config) (vad.Classifier, error) {
		return vad.ClassifierFunc(func([]byte, int) (bool, error) { return true, nil }), nil
	})
	var gotCfg listen.Config
	reg.RegisterSTT("fake", func(_ config.ProviderEntry, cfg listen.Config) (stt.Transcriber, error) {
		gotCfg = cfg
		return fakeTranscriber{}, nil
	})

	lc := listen.DefaultConfig()
	if got, err := reg.CreateAudio(config.ProviderEntry{Name: "mock"}, lc); err != nil || got != dev {
		t.Errorf("CreateAudio = %v, %v", got, err)
	}
	if _, err := reg.CreateVAD(config.ProviderEntry{Name: "always"}, lc); err != nil {
		t.Errorf("CreateVAD: %v", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "fake"}, lc); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if gotCfg != lc {
		t.Error("factory did not receive the listen config")
	}

	for _, err := range []error{
		func() error { _, err := reg.CreateAudio(config.ProviderEntry{Name: "nope"}, lc); return err }(),
		func() error { _, err := reg.CreateVAD(config.ProviderEntry{Name: "nope"}, lc); return err }(),
		func() error { _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}, lc); return err }(),
	} {
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("err = %v, want ErrProviderNotRegistered", err)
		}
	}
	if names := reg.STTNames(); len(names) != 1 || names[0] != "fake" {
		t.Errorf("STTNames = %v", names)
	}
}
