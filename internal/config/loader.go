package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio": {"portaudio"},
	"vad":   {"webrtc", "energy"},
	"stt":   {"whisper", "whisper-native", "openai", "deepgram"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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
// validates the result. Useful in tests where configs are constructed from
// string literals.
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

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Pipeline
	if err := cfg.Listen.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("listen: %w", err))
	}

	// Providers
	if cfg.Providers.Audio.Name == "" {
		errs = append(errs, errors.New("providers.audio.name is required"))
	}
	if cfg.Providers.VAD.Name == "" {
		errs = append(errs, errors.New("providers.vad.name is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("audio", cfg.Providers.Audio.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}

	// Commands
	if cfg.Commands.InsultWindow < 0 {
		errs = append(errs, fmt.Errorf("commands.insult_window %v must not be negative", cfg.Commands.InsultWindow))
	}
	if cfg.Commands.TimeErrorMargin < 0 {
		errs = append(errs, fmt.Errorf("commands.time_error_margin %v must not be negative", cfg.Commands.TimeErrorMargin))
	}
	if cfg.Commands.Enabled && len(cfg.Commands.InsultKeywords) == 0 && cfg.Commands.InsultsFile == "" {
		slog.Warn("commands enabled without insult keywords; the crying reaction can never trigger")
	}

	// Effects
	if cfg.Effects.Enabled {
		if cfg.Effects.CorrectDir == "" {
			errs = append(errs, errors.New("effects.correct_dir is required when effects are enabled"))
		}
		if cfg.Effects.IncorrectDir == "" {
			errs = append(errs, errors.New("effects.incorrect_dir is required when effects are enabled"))
		}
		if cfg.Effects.CryingFile == "" {
			errs = append(errs, errors.New("effects.crying_file is required when effects are enabled"))
		}
		if !cfg.Commands.Enabled {
			slog.Warn("effects enabled but commands disabled; no effect will ever play")
		}
	}

	// Journal
	if cfg.Journal.PostgresDSN == "" {
		slog.Debug("journal.postgres_dsn is empty; transcripts are kept in memory only")
	}

	return errors.Join(errs...)
}

// LoadKeywords reads a newline-separated keyword file. Blank lines and lines
// starting with '#' are skipped; keywords are lower-cased.
func LoadKeywords(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open keywords %q: %w", path, err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, strings.ToLower(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: read keywords %q: %w", path, err)
	}
	return out, nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
