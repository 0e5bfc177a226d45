// Package mock provides a test double for the vad package.
//
// Classifier returns a scripted sequence of decisions and records every frame
// it was asked about.
//
// Example:
//
//	c := &mock.Classifier{Script: []bool{false, true, true, false}}
//	speech, _ := c.IsSpeech(frame, 16000)
package mock

import (
	"sync"

	"github.com/MrWong99/earwig/pkg/provider/vad"
)

// IsSpeechCall records a single invocation of Classifier.IsSpeech.
type IsSpeechCall struct {
	// Frame is a copy of the bytes passed to IsSpeech.
	Frame []byte

	// SampleRate is the rate passed to IsSpeech.
	SampleRate int
}

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Script holds the decision for each successive call. Once exhausted,
	// Default is returned.
	Script []bool

	// Default is returned after Script is exhausted, and for every call when
	// Func is nil and Script is empty.
	Default bool

	// Func, if set, decides every call and takes precedence over Script.
	Func func(frame []byte) bool

	// Err, if non-nil, is returned by every IsSpeech call.
	Err error

	// --- Call records ---

	// Calls records every call to IsSpeech in order.
	Calls []IsSpeechCall
}

// IsSpeech records the call and returns the next scripted decision.
func (c *Classifier) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	idx := len(c.Calls)
	c.Calls = append(c.Calls, IsSpeechCall{Frame: cp, SampleRate: sampleRate})
	if c.Err != nil {
		return false, c.Err
	}
	if c.Func != nil {
		return c.Func(frame), nil
	}
	if idx < len(c.Script) {
		return c.Script[idx], nil
	}
	return c.Default, nil
}

// CallCount returns the number of IsSpeech calls. Thread-safe.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}

var _ vad.Classifier = (*Classifier)(nil)
