// Package audio defines the frame type, the bounded frame channel and the
// capture-device interfaces shared by the earwig pipeline.
//
// The two device abstractions are:
//
//   - [Device] opens an input stream with a negotiated sample rate and
//     frame size.
//   - [InputStream] is an open capture handle that yields exactly one frame
//     per [InputStream.Read] call.
//
// Implementations live in driver-specific packages (e.g., audio/portaudio).
// This package lives under pkg/ because third-party drivers are expected to
// implement [Device] and [InputStream].
package audio

import (
	"context"
	"errors"
)

// ErrTransient marks a read failure that loses the current frame but leaves
// the stream usable (buffer overflow, momentary I/O hiccup). Capture loops
// skip the cycle and read again. Drivers wrap their own errors with it:
//
//	return nil, fmt.Errorf("portaudio: read: %w: %w", audio.ErrTransient, err)
var ErrTransient = errors.New("audio: transient read error")

// InputStream is an open capture handle.
//
// Read blocks until exactly one frame of samples is available and returns it
// as 16-bit little-endian mono PCM. The returned slice must not be reused by
// the implementation after Read returns.
//
// Close stops the stream and releases the underlying device. It is only ever
// called from the goroutine that performs Reads, so implementations need not
// support concurrent Read and Close. Calling Close more than once is safe and
// returns nil.
type InputStream interface {
	Read() ([]byte, error)
	Close() error
}

// Device is the entry point for an audio input driver.
//
// Implementations must be safe for concurrent use: Open may be called from any
// goroutine, and each returned [InputStream] is independent.
type Device interface {
	// Open starts capture at sampleRate Hz, delivering frames of frameSamples
	// mono samples. Returns an error if the device cannot be opened or does
	// not support the requested format; no stream is left open in that case.
	Open(ctx context.Context, sampleRate, frameSamples int) (InputStream, error)
}
