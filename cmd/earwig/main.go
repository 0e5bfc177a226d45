// Command earwig listens to a microphone, transcribes what it hears and
// reacts to spoken commands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/earwig/internal/app"
	"github.com/MrWong99/earwig/internal/config"
	"github.com/MrWong99/earwig/internal/observe"
	"github.com/MrWong99/earwig/pkg/audio"
	"github.com/MrWong99/earwig/pkg/audio/portaudio"
	"github.com/MrWong99/earwig/pkg/listen"
	"github.com/MrWong99/earwig/pkg/provider/stt"
	"github.com/MrWong99/earwig/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/earwig/pkg/provider/stt/openai"
	"github.com/MrWong99/earwig/pkg/provider/stt/whisper"
	"github.com/MrWong99/earwig/pkg/provider/vad"
	"github.com/MrWong99/earwig/pkg/provider/vad/energy"
	"github.com/MrWong99/earwig/pkg/provider/vad/webrtc"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earwig: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earwig: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("earwig starting",
		"config", *configPath,
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Listen:         cfg.ListenConfig(),
		Device:         cfg.Providers.Audio.OptionString("device", cfg.Providers.Audio.Name),
		VAD:            cfg.Providers.VAD.Name,
		STT:            cfg.Providers.STT.Name,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("listening, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry, _ listen.Config) (audio.Device, error) {
		opts := []portaudio.Option{portaudio.WithLogger(slog.Default())}
		if name := entry.OptionString("device", ""); name != "" {
			opts = append(opts, portaudio.WithDeviceName(name))
		}
		if rate := entry.OptionInt("capture_rate", 0); rate > 0 {
			opts = append(opts, portaudio.WithCaptureFormat(rate, entry.OptionInt("capture_channels", 1)))
		}
		return portaudio.New(opts...), nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(_ config.ProviderEntry, cfg listen.Config) (vad.Classifier, error) {
		return webrtc.New(cfg.VADConfig())
	})

	reg.RegisterVAD("energy", func(entry config.ProviderEntry, cfg listen.Config) (vad.Classifier, error) {
		var opts []energy.Option
		if t := entry.OptionFloat("threshold", 0); t > 0 {
			opts = append(opts, energy.WithThreshold(t))
		}
		return energy.New(cfg.VADConfig(), opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry, cfg listen.Config) (stt.Transcriber, error) {
		opts := []whisper.Option{whisper.WithSampleRate(cfg.SampleRate)}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if prompt := entry.OptionString("prompt", ""); prompt != "" {
			opts = append(opts, whisper.WithPrompt(prompt))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry, _ listen.Config) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptionString("model_path", "")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if prompt := entry.OptionString("prompt", ""); prompt != "" {
			opts = append(opts, whisper.WithNativePrompt(prompt))
		}
		if n := entry.OptionInt("threads", 0); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry, cfg listen.Config) (stt.Transcriber, error) {
		opts := []oastt.Option{oastt.WithSampleRate(cfg.SampleRate)}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if prompt := entry.OptionString("prompt", ""); prompt != "" {
			opts = append(opts, oastt.WithPrompt(prompt))
		}
		if ms := entry.OptionInt("timeout_ms", 0); ms > 0 {
			opts = append(opts, oastt.WithTimeout(time.Duration(ms)*time.Millisecond))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry, cfg listen.Config) (stt.Transcriber, error) {
		opts := []deepgram.Option{deepgram.WithSampleRate(cfg.SampleRate)}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if kws := entry.OptionString("keywords", ""); kws != "" {
			opts = append(opts, deepgram.WithKeywords(strings.Split(kws, ",")...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	lc := cfg.ListenConfig()
	ps := &app.Providers{}

	dev, err := reg.CreateAudio(cfg.Providers.Audio, lc)
	if err != nil {
		return nil, fmt.Errorf("create audio provider %q: %w", cfg.Providers.Audio.Name, err)
	}
	ps.Audio = dev
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	classifier, err := reg.CreateVAD(cfg.Providers.VAD, lc)
	if err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}
	ps.VAD = classifier
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	tr, err := reg.CreateSTT(cfg.Providers.STT, lc)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = app.NamedTranscriber{Name: cfg.Providers.STT.Name, Transcriber: tr}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name, "model", cfg.Providers.STT.Model)

	for _, entry := range cfg.Providers.STTFallbacks {
		fb, err := reg.CreateSTT(entry, lc)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		ps.STTFallbacks = append(ps.STTFallbacks, app.NamedTranscriber{Name: entry.Name, Transcriber: fb})
		slog.Info("provider created", "kind", "stt_fallback", "name", entry.Name, "model", entry.Model)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	lc := cfg.ListenConfig()
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          earwig: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio", cfg.Providers.Audio.Name)
	printRow("VAD", fmt.Sprintf("%s / mode %d", cfg.Providers.VAD.Name, lc.VADAggressiveness))
	printRow("STT", providerLabel(cfg.Providers.STT))
	printRow("STT fallbacks", fmt.Sprintf("%d", len(cfg.Providers.STTFallbacks)))
	printRow("Format", fmt.Sprintf("%d Hz / %d ms", lc.SampleRate, lc.FrameDurationMs))
	printRow("Commands", enabled(cfg.Commands.Enabled))
	printRow("Effects", enabled(cfg.Effects.Enabled))
	if cfg.Journal.PostgresDSN != "" {
		printRow("Journal", "postgres")
	} else {
		printRow("Journal", "memory")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + " / " + e.Model
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "(disabled)"
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
