// Package mock provides a test double for the stt package.
//
// Transcriber returns scripted texts in order and records every audio buffer
// it was given, so tests can assert exactly which utterances reached the
// transcription engine.
//
// Example:
//
//	tr := &mock.Transcriber{Texts: []string{"it is 10:30", ""}}
//	text, _ := tr.Transcribe(ctx, pcm)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/earwig/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio bytes passed to Transcribe.
	PCM []byte
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Texts holds the result of each successive call. Once exhausted, Default
	// is returned.
	Texts []string

	// Default is returned after Texts is exhausted.
	Default string

	// Errs maps a zero-based call index to an error returned by that call.
	Errs map[int]error

	// Delay is slept before returning, honouring ctx cancellation.
	Delay time.Duration

	// --- Call records ---

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted text.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	t.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	idx := len(t.Calls)
	t.Calls = append(t.Calls, TranscribeCall{PCM: cp})
	delay := t.Delay
	var (
		text string
		err  error
	)
	if e, ok := t.Errs[idx]; ok {
		err = e
	} else if idx < len(t.Texts) {
		text = t.Texts[idx]
	} else {
		text = t.Default
	}
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return text, err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// CallsSnapshot returns a copy of the recorded calls. Thread-safe.
func (t *Transcriber) CallsSnapshot() []TranscribeCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscribeCall, len(t.Calls))
	copy(out, t.Calls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
