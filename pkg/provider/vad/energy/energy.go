// Package energy provides a dependency-free [vad.Classifier] that thresholds
// the RMS amplitude of each frame.
//
// It is far less robust than the WebRTC detector against steady background
// noise, but needs no cgo and is handy on machines without the native
// library or as a fallback.
package energy

import (
	"fmt"

	"github.com/MrWong99/earwig/pkg/audio"
	"github.com/MrWong99/earwig/pkg/provider/vad"
)

// thresholds maps aggressiveness 0..3 to a normalised RMS threshold.
var thresholds = [vad.MaxAggressiveness + 1]float64{0.005, 0.01, 0.02, 0.04}

// Option is a functional option for [Classifier].
type Option func(*Classifier)

// WithThreshold overrides the aggressiveness-derived RMS threshold. Values are
// normalised to [0, 1] full scale.
func WithThreshold(t float64) Option {
	return func(c *Classifier) { c.threshold = t }
}

// Classifier reports speech when a frame's RMS exceeds a fixed threshold. It
// is stateless and safe for concurrent use.
type Classifier struct {
	cfg       vad.Config
	threshold float64
}

// New creates an energy classifier for cfg.
func New(cfg vad.Config, opts ...Option) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("energy vad: %w", err)
	}
	c := &Classifier{cfg: cfg, threshold: thresholds[cfg.Aggressiveness]}
	for _, o := range opts {
		o(c)
	}
	if c.threshold <= 0 || c.threshold >= 1 {
		return nil, fmt.Errorf("energy vad: %w: threshold %v not in (0, 1)", vad.ErrInvalidConfig, c.threshold)
	}
	return c, nil
}

// Threshold returns the RMS threshold in use.
func (c *Classifier) Threshold() float64 { return c.threshold }

// IsSpeech implements [vad.Classifier].
func (c *Classifier) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	if sampleRate != c.cfg.SampleRate || len(frame) != c.cfg.FrameBytes() {
		return false, fmt.Errorf("energy vad: frame of %d bytes at %d Hz, want %d bytes at %d Hz",
			len(frame), sampleRate, c.cfg.FrameBytes(), c.cfg.SampleRate)
	}
	return audio.RMS(frame) > c.threshold, nil
}

var _ vad.Classifier = (*Classifier)(nil)
