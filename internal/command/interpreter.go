// Package command turns finalized transcripts into reactions: it checks
// spoken clock times against the real time, and reacts to insults that
// follow a time announcement until an apology is heard.
package command

import (
	"log/slog"
	"sync"
	"time"
)

// Action is the reaction chosen for one transcript.
type Action int

const (
	ActionNone Action = iota
	ActionCorrect
	ActionIncorrect
	ActionStartCrying
	ActionStopCrying
)

// String returns the action name used in logs and metrics.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionCorrect:
		return "correct"
	case ActionIncorrect:
		return "incorrect"
	case ActionStartCrying:
		return "start_crying"
	case ActionStopCrying:
		return "stop_crying"
	default:
		return "unknown"
	}
}

// Config configures an [Interpreter]. Phrases and keywords are matched
// against cleaned, lower-case text, so they should be lower-case without
// punctuation.
type Config struct {
	TimePhrases     []string
	InsultKeywords  []string
	ApologyKeywords []string
	InsultWindow    time.Duration
	TimeErrorMargin time.Duration

	// Fuzzy enables phonetic matching of single-word keywords.
	Fuzzy bool
}

// Decision is the outcome of [Interpreter.Handle].
type Decision struct {
	Action Action

	// Reason explains an ActionNone decision ("no time phrase", ...).
	Reason string

	// Text is the cleaned transcript.
	Text string

	// Spoken and Delta are set for ActionCorrect and ActionIncorrect: the
	// parsed time and its distance from the current time.
	Spoken time.Time
	Delta  time.Duration
}

// Option configures an [Interpreter].
type Option func(*Interpreter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Interpreter) { i.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(i *Interpreter) { i.log = l }
}

// Interpreter holds the conversational state between transcripts: when the
// last time announcement was heard and whether the device is crying. It is
// safe for concurrent use.
type Interpreter struct {
	cfg     Config
	matcher *Matcher
	now     func() time.Time
	log     *slog.Logger

	mu          sync.Mutex
	lastTimeCmd time.Time
	crying      bool
}

// New returns an interpreter in the not-crying state with no time command
// heard yet.
func New(cfg Config, opts ...Option) *Interpreter {
	i := &Interpreter{
		cfg: cfg,
		now: time.Now,
		log: slog.Default(),
	}
	if cfg.Fuzzy {
		i.matcher = NewMatcher()
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Handle interprets one transcript. Rules are checked in order and the first
// that applies wins:
//
//  1. An insult within InsultWindow of the last time announcement, while
//     not crying, starts crying.
//  2. An apology while crying stops crying.
//  3. A time phrase followed by a parseable time is judged correct when
//     within TimeErrorMargin of now, and becomes the last time announcement.
func (i *Interpreter) Handle(text string) Decision {
	clean := Clean(text)
	now := i.now()

	i.mu.Lock()
	defer i.mu.Unlock()

	d := Decision{Text: clean}

	if !i.crying && !i.lastTimeCmd.IsZero() && now.Sub(i.lastTimeCmd) < i.cfg.InsultWindow &&
		HasKeyphrase(clean, i.cfg.InsultKeywords, i.matcher) {
		i.crying = true
		d.Action = ActionStartCrying
		i.log.Info("command: insult after time announcement, crying", "text", clean)
		return d
	}

	if i.crying && HasKeyphrase(clean, i.cfg.ApologyKeywords, i.matcher) {
		i.crying = false
		d.Action = ActionStopCrying
		i.log.Info("command: apology accepted", "text", clean)
		return d
	}

	rest, ok := TextAfterKeyphrase(clean, i.cfg.TimePhrases)
	if !ok {
		d.Reason = "no time phrase"
		i.log.Debug("command: not a time command", "text", clean)
		return d
	}
	spoken, ok := ParseTime(rest, now)
	if !ok {
		d.Reason = "unparseable time"
		i.log.Debug("command: could not parse time", "text", clean)
		return d
	}

	d.Spoken = spoken
	d.Delta = clockDistance(now, spoken)
	d.Action = ActionIncorrect
	if d.Delta <= i.cfg.TimeErrorMargin {
		d.Action = ActionCorrect
	}
	i.lastTimeCmd = now
	i.log.Info("command: time announced",
		"spoken", spoken.Format("15:04"),
		"delta", d.Delta,
		"correct", d.Action == ActionCorrect,
	)
	return d
}

// Crying reports whether the interpreter is in the crying state.
func (i *Interpreter) Crying() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.crying
}
