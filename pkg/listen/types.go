// Package listen is the public surface of the capture-and-endpointing
// pipeline.
//
// A [Stream] wires three collaborators together: an [audio.Device] that yields
// fixed-size PCM frames, a [vad.Classifier] that labels each frame as speech or
// non-speech, and an [stt.Transcriber] that turns each finalized utterance into
// text. Frames flow device → capture goroutine → bounded drop-oldest
// [audio.FrameChannel] → [endpoint.Endpointer] → transcriber → caller.
//
// Capture runs on its own goroutine; everything downstream of the channel runs
// on the goroutine that calls [Stream.Next], so the endpointer needs no
// locking and transcripts come out in finalize order.
//
// Typical usage:
//
//	s, err := listen.New(listen.DefaultConfig(), dev, classifier, transcriber)
//	if err != nil {
//	    return err
//	}
//	for t, err := range s.All(ctx) {
//	    if err != nil {
//	        return err // device failed to open
//	    }
//	    fmt.Println(t.Text)
//	}
package listen

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/earwig/pkg/endpoint"
)

var (
	// ErrInvalidConfig is wrapped by configuration errors returned from New.
	ErrInvalidConfig = errors.New("listen: invalid config")

	// ErrDeviceOpen is wrapped by the error returned when the audio device
	// cannot be opened. No frames are produced in that case.
	ErrDeviceOpen = errors.New("listen: open audio device")

	// ErrClosed is returned by Next after Close, or once capture has ended
	// fatally; Err reports the cause in the latter case.
	ErrClosed = errors.New("listen: stream closed")

	// ErrJoinTimeout is returned by Close when the capture goroutine did not
	// release the device within the join timeout.
	ErrJoinTimeout = errors.New("listen: capture did not stop in time")

	// ErrNotStarted is returned by Running before Start.
	ErrNotStarted = errors.New("listen: stream not started")

	// ErrEmptyTranscript is passed to Observer.Discarded when the transcriber
	// returned no text.
	ErrEmptyTranscript = errors.New("listen: empty transcript")
)

// Transcript is one non-empty transcribed utterance.
type Transcript struct {
	// ID uniquely identifies the transcript.
	ID uuid.UUID `json:"id"`

	// Text is the trimmed transcriber output. Never empty.
	Text string `json:"text"`

	// Reason is why the utterance ended.
	Reason endpoint.FinalizeReason `json:"reason"`

	// AudioDuration is the captured-audio length of the utterance.
	AudioDuration time.Duration `json:"audio_duration"`

	// Frames is the number of frames in the utterance.
	Frames int `json:"frames"`

	// FinalizedAt is when the endpointer closed the utterance.
	FinalizedAt time.Time `json:"finalized_at"`

	// Latency is the time spent in the transcriber.
	Latency time.Duration `json:"latency"`
}

// Observer receives pipeline events. Methods are called synchronously on the
// goroutine driving Next and must not block. Embed [NopObserver] to implement
// only some of them.
type Observer interface {
	// Finalized is called for every utterance the endpointer closes, before
	// transcription.
	Finalized(u endpoint.Utterance)

	// Transcribed is called for every transcript about to be returned.
	Transcribed(t Transcript)

	// Discarded is called when an utterance yields no transcript, with
	// ErrEmptyTranscript or the transcriber's error.
	Discarded(u endpoint.Utterance, err error)
}

// NopObserver implements [Observer] with no-ops.
type NopObserver struct{}

// Finalized implements [Observer].
func (NopObserver) Finalized(endpoint.Utterance) {}

// Transcribed implements [Observer].
func (NopObserver) Transcribed(Transcript) {}

// Discarded implements [Observer].
func (NopObserver) Discarded(endpoint.Utterance, error) {}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	// FramesCaptured counts frames pushed into the channel.
	FramesCaptured uint64

	// FramesDropped counts frames evicted by the channel's overflow policy.
	FramesDropped uint64

	// ReadErrors counts transient device read errors and malformed frames.
	ReadErrors uint64

	// ClassifierErrors counts frames treated as non-speech because the
	// classifier failed.
	ClassifierErrors uint64

	// Utterances counts finalized utterances.
	Utterances uint64

	// Transcripts counts non-empty transcripts returned.
	Transcripts uint64

	// Discarded counts utterances whose transcription was empty.
	Discarded uint64

	// TranscribeErrors counts failed transcriber calls.
	TranscribeErrors uint64
}
