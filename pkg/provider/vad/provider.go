// Package vad defines the Classifier interface for Voice Activity Detection
// backends.
//
// A Classifier is a per-frame binary decision: given one fixed-size frame of
// 16-bit little-endian mono PCM it reports whether the frame contains speech.
// Onset lag, hangover and utterance grouping are the endpointer's business, not
// the classifier's.
//
// Classifiers are called synchronously from the processing goroutine and must
// not block. Implementations that keep internal state document whether they
// are safe for concurrent use; the built-in ones are.
package vad

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidConfig is wrapped by every error returned from [Config.Validate].
var ErrInvalidConfig = errors.New("vad: invalid config")

// FrameDurations lists the frame lengths, in milliseconds, that every
// classifier in this module accepts.
var FrameDurations = []int{10, 20, 30}

// SampleRates lists the accepted sample rates in Hz.
var SampleRates = []int{8000, 16000, 32000, 48000}

// MaxAggressiveness is the highest supported aggressiveness mode.
const MaxAggressiveness = 3

// Config holds the parameters shared by all classifiers.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to IsSpeech.
	SampleRate int

	// FrameDurationMs is the duration of each frame in milliseconds. One of
	// [FrameDurations].
	FrameDurationMs int

	// Aggressiveness trades recall for precision: 0 reports speech most
	// readily, 3 filters non-speech most aggressively.
	Aggressiveness int
}

// FrameBytes returns the byte length of one frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameDurationMs / 1000 * 2
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if !slices.Contains(SampleRates, c.SampleRate) {
		errs = append(errs, fmt.Errorf("%w: sample rate %d not in %v", ErrInvalidConfig, c.SampleRate, SampleRates))
	}
	if !ValidFrameDuration(c.FrameDurationMs) {
		errs = append(errs, fmt.Errorf("%w: frame duration %d ms not in %v", ErrInvalidConfig, c.FrameDurationMs, FrameDurations))
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > MaxAggressiveness {
		errs = append(errs, fmt.Errorf("%w: aggressiveness %d not in 0..%d", ErrInvalidConfig, c.Aggressiveness, MaxAggressiveness))
	}
	return errors.Join(errs...)
}

// ValidFrameDuration reports whether ms is an accepted frame duration.
func ValidFrameDuration(ms int) bool {
	return slices.Contains(FrameDurations, ms)
}

// Classifier decides whether a single frame contains speech.
type Classifier interface {
	// IsSpeech classifies frame, which must hold exactly one frame of 16-bit
	// little-endian mono PCM at sampleRate. Returns an error if the frame length
	// or rate does not match the classifier's configuration.
	IsSpeech(frame []byte, sampleRate int) (bool, error)
}

// ClassifierFunc adapts an ordinary function to [Classifier].
type ClassifierFunc func(frame []byte, sampleRate int) (bool, error)

// IsSpeech calls f.
func (f ClassifierFunc) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	return f(frame, sampleRate)
}
