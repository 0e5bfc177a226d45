// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber turns one finalized utterance, a contiguous buffer of 16-bit
// little-endian mono PCM, into text. It is a batch call: there is no streaming
// or partial-result contract. The endpointer decides where utterances start
// and end; the transcriber only ever sees complete ones.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned by implementations when asked to transcribe a
// zero-length buffer.
var ErrEmptyAudio = errors.New("stt: empty audio buffer")

// DefaultPrompt biases recognition toward spoken clock times, the phrases the
// command interpreter acts on.
const DefaultPrompt = `The speaker is announcing the current time.
Examples:
"It's 12:13."
"It is 1:45."
"It's 9:05."
"It is 10:30."
Times are spoken as hours and minutes and written using H:MM format.`

// Config holds the parameters shared by all transcribers.
type Config struct {
	// SampleRate is the rate of the PCM passed to Transcribe, in Hz.
	SampleRate int

	// Language is the ISO-639-1 language hint (e.g., "en"). Empty lets the
	// backend auto-detect, if supported.
	Language string

	// Prompt is an optional initial prompt that conditions decoding.
	Prompt string
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe returns the text spoken in pcm, which holds 16-bit
	// little-endian mono samples at the configured sample rate, in arrival
	// order. An empty string is a valid result. Implementations must honour
	// ctx cancellation.
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// TranscriberFunc adapts an ordinary function to [Transcriber].
type TranscriberFunc func(ctx context.Context, pcm []byte) (string, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	return f(ctx, pcm)
}
