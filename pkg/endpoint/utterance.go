package endpoint

import (
	"time"

	"github.com/MrWong99/earwig/pkg/audio"
)

// FinalizeReason says why an utterance ended.
type FinalizeReason int

const (
	// ReasonSilence means enough trailing silence accumulated.
	ReasonSilence FinalizeReason = iota + 1

	// ReasonMaxDuration means the hard duration cap was reached. This is a
	// safety flush, typically caused by continuous speech or by the
	// classifier misreading steady background noise as speech.
	ReasonMaxDuration
)

func (r FinalizeReason) String() string {
	switch r {
	case ReasonSilence:
		return "silence"
	case ReasonMaxDuration:
		return "max_duration"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r FinalizeReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Utterance is one finalized span of voiced audio: the pre-roll captured
// before onset, every frame from the trigger onward, and the trailing
// silence that closed it.
type Utterance struct {
	// Frames in strict arrival order.
	Frames []audio.Frame

	// Reason is why the utterance was finalized.
	Reason FinalizeReason

	// Preroll is how many of the leading Frames came from the pre-roll ring.
	Preroll int

	// Speech is the total duration of frames classified as speech.
	Speech time.Duration
}

// PCM concatenates all frames in arrival order.
func (u Utterance) PCM() []byte {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Data...)
	}
	return out
}

// Duration is the captured-audio length of the utterance.
func (u Utterance) Duration() time.Duration {
	var d time.Duration
	for _, f := range u.Frames {
		d += f.Duration
	}
	return d
}

// Len returns the number of frames.
func (u Utterance) Len() int { return len(u.Frames) }
