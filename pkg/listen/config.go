package listen

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/earwig/pkg/audio"
	"github.com/MrWong99/earwig/pkg/endpoint"
	"github.com/MrWong99/earwig/pkg/provider/vad"
)

// Default values for [Config].
const (
	DefaultSampleRate        = 16000
	DefaultFrameDurationMs   = 30
	DefaultVADAggressiveness = 2
	DefaultEndSilenceMs      = 300
	DefaultPrerollMs         = 300
	DefaultMaxUtteranceS     = 15
	DefaultChannelCapacity   = 400
	DefaultPopTimeoutMs      = 100
	DefaultJoinTimeoutMs     = 1000
)

// Config is the immutable pipeline configuration. Obtain one from
// [DefaultConfig] and override fields; [New] validates it.
type Config struct {
	// SampleRate is the capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameDurationMs is the length of one frame: 10, 20 or 30.
	FrameDurationMs int `yaml:"frame_duration_ms"`

	// VADAggressiveness is the classifier mode, 0 (permissive) to 3 (strict).
	VADAggressiveness int `yaml:"vad_aggressiveness"`

	// EndSilenceMs is the trailing silence that closes an utterance.
	EndSilenceMs int `yaml:"end_silence_ms"`

	// PrerollMs is the audio retained before speech onset. Zero disables
	// pre-roll.
	PrerollMs int `yaml:"preroll_ms"`

	// MaxUtteranceS caps the length of one utterance.
	MaxUtteranceS int `yaml:"max_utterance_s"`

	// ChannelCapacity bounds the frames buffered between capture and
	// endpointing before the oldest are dropped.
	ChannelCapacity int `yaml:"channel_capacity"`

	// PopTimeoutMs bounds how long the processing loop waits for a frame
	// before rechecking for cancellation.
	PopTimeoutMs int `yaml:"pop_timeout_ms"`

	// JoinTimeoutMs bounds how long Close waits for the capture goroutine to
	// release the device.
	JoinTimeoutMs int `yaml:"join_timeout_ms"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:        DefaultSampleRate,
		FrameDurationMs:   DefaultFrameDurationMs,
		VADAggressiveness: DefaultVADAggressiveness,
		EndSilenceMs:      DefaultEndSilenceMs,
		PrerollMs:         DefaultPrerollMs,
		MaxUtteranceS:     DefaultMaxUtteranceS,
		ChannelCapacity:   DefaultChannelCapacity,
		PopTimeoutMs:      DefaultPopTimeoutMs,
		JoinTimeoutMs:     DefaultJoinTimeoutMs,
	}
}

// Validate reports every invalid field. All returned errors wrap
// [ErrInvalidConfig].
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.SampleRate <= 0 {
		add("sample_rate must be positive, got %d", c.SampleRate)
	}
	if !vad.ValidFrameDuration(c.FrameDurationMs) {
		add("frame_duration_ms must be one of %v, got %d", vad.FrameDurations, c.FrameDurationMs)
	}
	if c.VADAggressiveness < 0 || c.VADAggressiveness > vad.MaxAggressiveness {
		add("vad_aggressiveness must be in 0..%d, got %d", vad.MaxAggressiveness, c.VADAggressiveness)
	}
	if c.EndSilenceMs <= 0 {
		add("end_silence_ms must be positive, got %d", c.EndSilenceMs)
	}
	if c.PrerollMs < 0 {
		add("preroll_ms must not be negative, got %d", c.PrerollMs)
	}
	if c.MaxUtteranceS*1000 <= c.EndSilenceMs {
		add("max_utterance_s (%d s) must exceed end_silence_ms (%d ms)", c.MaxUtteranceS, c.EndSilenceMs)
	}
	if c.ChannelCapacity <= 0 {
		add("channel_capacity must be positive, got %d", c.ChannelCapacity)
	}
	if c.PopTimeoutMs <= 0 {
		add("pop_timeout_ms must be positive, got %d", c.PopTimeoutMs)
	}
	if c.JoinTimeoutMs <= 0 {
		add("join_timeout_ms must be positive, got %d", c.JoinTimeoutMs)
	}
	if c.SampleRate > 0 && vad.ValidFrameDuration(c.FrameDurationMs) && c.FrameSamples() == 0 {
		add("sample_rate %d too low for %d ms frames", c.SampleRate, c.FrameDurationMs)
	}
	return errors.Join(errs...)
}

// FrameSamples returns the number of samples in one frame.
func (c Config) FrameSamples() int {
	return audio.FrameSamples(c.SampleRate, c.FrameDurationMs)
}

// FrameBytes returns the byte length of one frame.
func (c Config) FrameBytes() int {
	return c.FrameSamples() * audio.BytesPerSample
}

// FrameDuration returns the length of one frame.
func (c Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameDurationMs) * time.Millisecond
}

// PrerollFrames returns the pre-roll ring capacity in frames.
func (c Config) PrerollFrames() int {
	if c.FrameDurationMs <= 0 {
		return 0
	}
	return c.PrerollMs / c.FrameDurationMs
}

// EndSilence returns the end-of-utterance silence threshold.
func (c Config) EndSilence() time.Duration {
	return time.Duration(c.EndSilenceMs) * time.Millisecond
}

// MaxUtterance returns the utterance length cap.
func (c Config) MaxUtterance() time.Duration {
	return time.Duration(c.MaxUtteranceS) * time.Second
}

// PopTimeout returns the frame wait bound of the processing loop.
func (c Config) PopTimeout() time.Duration {
	return time.Duration(c.PopTimeoutMs) * time.Millisecond
}

// JoinTimeout returns the capture shutdown bound.
func (c Config) JoinTimeout() time.Duration {
	return time.Duration(c.JoinTimeoutMs) * time.Millisecond
}

// VADConfig returns the classifier configuration matching c.
func (c Config) VADConfig() vad.Config {
	return vad.Config{
		SampleRate:      c.SampleRate,
		FrameDurationMs: c.FrameDurationMs,
		Aggressiveness:  c.VADAggressiveness,
	}
}

// EndpointConfig returns the endpointer configuration matching c.
func (c Config) EndpointConfig() endpoint.Config {
	return endpoint.Config{
		SampleRate:    c.SampleRate,
		FrameDuration: c.FrameDuration(),
		EndSilence:    c.EndSilence(),
		MaxUtterance:  c.MaxUtterance(),
		PrerollFrames: c.PrerollFrames(),
	}
}
