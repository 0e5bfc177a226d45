// Package endpoint implements voice-activity endpointing: the state machine
// that decides where utterances begin and end in a continuous frame stream.
//
// The machine has two states. Idle keeps a short pre-roll ring of the most
// recent non-speech frames so the onset of speech is not clipped by classifier
// lag. The first speech frame arms the machine: the ring contents plus that
// frame seed the voiced buffer, and every following frame is appended. An
// armed utterance is finalized when trailing silence reaches EndSilence, or
// unconditionally once its captured-audio length reaches MaxUtterance. After
// finalizing, the machine is idle again with an empty ring.
//
// An Endpointer is driven from a single goroutine and does no locking.
package endpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/earwig/pkg/audio"
	"github.com/MrWong99/earwig/pkg/provider/vad"
)

// ErrInvalidConfig is wrapped by every error returned from [Config.Validate].
var ErrInvalidConfig = errors.New("endpoint: invalid config")

// Config holds the endpointing thresholds.
type Config struct {
	// SampleRate is passed to the classifier with every frame.
	SampleRate int

	// FrameDuration is the nominal length of one frame. It is used for
	// frames that do not carry their own Duration.
	FrameDuration time.Duration

	// EndSilence is the trailing silence that closes an utterance.
	EndSilence time.Duration

	// MaxUtterance caps the captured-audio length of one utterance.
	MaxUtterance time.Duration

	// PrerollFrames is the pre-roll ring capacity. Zero disables pre-roll.
	PrerollFrames int
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, c.SampleRate))
	}
	if c.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("%w: frame duration must be positive, got %s", ErrInvalidConfig, c.FrameDuration))
	}
	if c.EndSilence <= 0 {
		errs = append(errs, fmt.Errorf("%w: end silence must be positive, got %s", ErrInvalidConfig, c.EndSilence))
	}
	if c.MaxUtterance <= c.EndSilence {
		errs = append(errs, fmt.Errorf("%w: max utterance %s must exceed end silence %s", ErrInvalidConfig, c.MaxUtterance, c.EndSilence))
	}
	if c.PrerollFrames < 0 {
		errs = append(errs, fmt.Errorf("%w: preroll frames must not be negative, got %d", ErrInvalidConfig, c.PrerollFrames))
	}
	return errors.Join(errs...)
}

// State names the endpointer's current state.
type State int

const (
	// Idle is listening for speech onset.
	Idle State = iota
	// Armed is accumulating an in-progress utterance.
	Armed
)

func (s State) String() string {
	if s == Armed {
		return "armed"
	}
	return "idle"
}

// state is the tagged state value. Each variant holds exactly the fields that
// are meaningful in that state.
type state interface{ kind() State }

type idle struct {
	preroll *ring
}

type armed struct {
	voiced   []audio.Frame
	preroll  int
	silence  time.Duration
	elapsed  time.Duration
	speech   time.Duration
	startSeq uint64
}

func (*idle) kind() State  { return Idle }
func (*armed) kind() State { return Armed }

// Option is a functional option for [Endpointer].
type Option func(*Endpointer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Endpointer) { e.log = l }
}

// Endpointer is the endpointing state machine. Not safe for concurrent use.
type Endpointer struct {
	cfg        Config
	classifier vad.Classifier
	log        *slog.Logger
	state      state

	classifyErrs uint64
}

// New returns an idle Endpointer.
func New(cfg Config, classifier vad.Classifier, opts ...Option) (*Endpointer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if classifier == nil {
		return nil, fmt.Errorf("%w: classifier must not be nil", ErrInvalidConfig)
	}
	e := &Endpointer{
		cfg:        cfg,
		classifier: classifier,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	e.state = e.newIdle()
	return e, nil
}

func (e *Endpointer) newIdle() *idle {
	return &idle{preroll: newRing(e.cfg.PrerollFrames)}
}

// Push consumes one frame. When the frame completes an utterance, the
// utterance is returned with ok == true and the machine is idle again.
func (e *Endpointer) Push(f audio.Frame) (u Utterance, ok bool) {
	if f.Duration <= 0 {
		f.Duration = e.cfg.FrameDuration
	}
	speech := e.classify(f)

	switch s := e.state.(type) {
	case *idle:
		if !speech {
			s.preroll.push(f)
			return Utterance{}, false
		}
		a := &armed{
			preroll:  s.preroll.len(),
			elapsed:  f.Duration,
			speech:   f.Duration,
			startSeq: f.Seq,
		}
		a.voiced = append(s.preroll.drain(1), f)
		e.state = a
		e.log.Debug("endpoint: speech onset", "seq", f.Seq, "preroll_frames", a.preroll)
		if a.elapsed >= e.cfg.MaxUtterance {
			return e.finalize(ReasonMaxDuration), true
		}
		return Utterance{}, false

	case *armed:
		s.voiced = append(s.voiced, f)
		s.elapsed += f.Duration

		// The cap takes priority: the frame that reaches it is part of the
		// utterance but never counted toward silence.
		if s.elapsed >= e.cfg.MaxUtterance {
			return e.finalize(ReasonMaxDuration), true
		}
		if speech {
			s.silence = 0
			s.speech += f.Duration
			return Utterance{}, false
		}
		s.silence += f.Duration
		if s.silence >= e.cfg.EndSilence {
			return e.finalize(ReasonSilence), true
		}
		return Utterance{}, false
	}
	panic(fmt.Sprintf("endpoint: unknown state %T", e.state))
}

func (e *Endpointer) classify(f audio.Frame) bool {
	speech, err := e.classifier.IsSpeech(f.Data, e.cfg.SampleRate)
	if err != nil {
		e.classifyErrs++
		e.log.Warn("endpoint: classifier failed, treating frame as non-speech", "seq", f.Seq, "err", err)
		return false
	}
	return speech
}

// finalize moves the voiced buffer out and returns to Idle with an empty
// pre-roll ring.
func (e *Endpointer) finalize(reason FinalizeReason) Utterance {
	a := e.state.(*armed)
	u := Utterance{
		Frames:  a.voiced,
		Reason:  reason,
		Preroll: a.preroll,
		Speech:  a.speech,
	}
	e.state = e.newIdle()
	e.log.Debug("endpoint: utterance finalized",
		"reason", reason.String(),
		"frames", len(u.Frames),
		"start_seq", a.startSeq,
		"duration", a.elapsed,
	)
	return u
}

// Reset abandons any in-progress utterance without finalizing it and clears
// the pre-roll ring. It returns the number of voiced frames discarded.
func (e *Endpointer) Reset() int {
	var abandoned int
	if a, ok := e.state.(*armed); ok {
		abandoned = len(a.voiced)
	}
	e.state = e.newIdle()
	return abandoned
}

// State reports the current state.
func (e *Endpointer) State() State { return e.state.kind() }

// PrerollLen returns the number of frames in the pre-roll ring. Always zero
// while armed.
func (e *Endpointer) PrerollLen() int {
	if s, ok := e.state.(*idle); ok {
		return s.preroll.len()
	}
	return 0
}

// VoicedLen returns the number of frames in the in-progress utterance. Always
// zero while idle.
func (e *Endpointer) VoicedLen() int {
	if s, ok := e.state.(*armed); ok {
		return len(s.voiced)
	}
	return 0
}

// ClassifierErrors returns how many frames were treated as non-speech because
// the classifier failed.
func (e *Endpointer) ClassifierErrors() uint64 { return e.classifyErrs }
