// Package webrtc provides a [vad.Classifier] backed by the WebRTC voice
// activity detector (github.com/maxhawkins/go-webrtcvad).
//
// The detector's mode maps one-to-one onto [vad.Config.Aggressiveness]. It
// accepts 10, 20 and 30 ms frames at 8, 16, 32 or 48 kHz.
package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/earwig/pkg/provider/vad"
	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// ErrFrameLength is returned by IsSpeech for a frame the detector cannot
// process at the given rate.
var ErrFrameLength = errors.New("webrtc vad: invalid rate/frame length")

// Classifier wraps a single WebRTC VAD instance. The underlying C state is not
// re-entrant; calls are serialised with a mutex.
type Classifier struct {
	mu  sync.Mutex
	vad *webrtcvad.VAD
	cfg vad.Config
}

// New creates a WebRTC classifier for cfg.
func New(cfg vad.Config) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("webrtc vad: %w", err)
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create: %w", err)
	}
	if err := v.SetMode(cfg.Aggressiveness); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", cfg.Aggressiveness, err)
	}
	if !v.ValidRateAndFrameLength(cfg.SampleRate, cfg.FrameBytes()/2) {
		return nil, fmt.Errorf("webrtc vad: %w: %d Hz / %d ms", ErrFrameLength, cfg.SampleRate, cfg.FrameDurationMs)
	}
	return &Classifier{vad: v, cfg: cfg}, nil
}

// IsSpeech implements [vad.Classifier].
func (c *Classifier) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.vad.ValidRateAndFrameLength(sampleRate, len(frame)/2) {
		return false, fmt.Errorf("%w: %d bytes at %d Hz", ErrFrameLength, len(frame), sampleRate)
	}
	speech, err := c.vad.Process(sampleRate, frame)
	if err != nil {
		return false, fmt.Errorf("webrtc vad: process: %w", err)
	}
	return speech, nil
}

var _ vad.Classifier = (*Classifier)(nil)
