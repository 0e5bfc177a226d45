package listen

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/earwig/pkg/audio"
	"github.com/MrWong99/earwig/pkg/endpoint"
	"github.com/MrWong99/earwig/pkg/provider/stt"
	"github.com/MrWong99/earwig/pkg/provider/vad"
)

// Option is a functional option for [New].
type Option func(*Stream)

// WithObserver registers an observer for pipeline events.
func WithObserver(o Observer) Option {
	return func(s *Stream) { s.obs = o }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) { s.log = l }
}

// Stream is a lazy, cancellable sequence of transcripts from a live audio
// device. It is single-pass: once closed it cannot be restarted.
//
// Start, Close, Stats, Running and Err are safe for concurrent use. Next is
// serialised internally; calling it from several goroutines is safe but
// pointless.
type Stream struct {
	cfg Config
	dev audio.Device
	tr  stt.Transcriber
	obs Observer
	log *slog.Logger
	now func() time.Time

	ch *audio.FrameChannel
	ep *endpoint.Endpointer

	// life is cancelled by Close and aborts an in-flight transcription.
	life       context.Context
	cancelLife context.CancelFunc

	mu       sync.Mutex
	capture  *capture
	startErr error
	fatal    error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	nextMu sync.Mutex

	utterances       atomic.Uint64
	transcripts      atomic.Uint64
	discarded        atomic.Uint64
	transcribeErrs   atomic.Uint64
	classifierErrors atomic.Uint64
}

// New validates cfg and builds a stream. Nothing is started: the device is
// opened by Start or the first Next. All configuration errors wrap
// [ErrInvalidConfig].
func New(cfg Config, dev audio.Device, classifier vad.Classifier, tr stt.Transcriber, opts ...Option) (*Stream, error) {
	var errs []error
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if dev == nil {
		errs = append(errs, fmt.Errorf("%w: audio device must not be nil", ErrInvalidConfig))
	}
	if classifier == nil {
		errs = append(errs, fmt.Errorf("%w: classifier must not be nil", ErrInvalidConfig))
	}
	if tr == nil {
		errs = append(errs, fmt.Errorf("%w: transcriber must not be nil", ErrInvalidConfig))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	s := &Stream{
		cfg: cfg,
		dev: dev,
		tr:  tr,
		obs: NopObserver{},
		log: slog.Default(),
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	ch, err := audio.NewFrameChannel(cfg.ChannelCapacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	ep, err := endpoint.New(cfg.EndpointConfig(), classifier, endpoint.WithLogger(s.log))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	s.ch = ch
	s.ep = ep
	s.life, s.cancelLife = context.WithCancel(context.Background())
	return s, nil
}

// Config returns the stream's configuration.
func (s *Stream) Config() Config { return s.cfg }

// Start opens the device and starts the capture goroutine. It is idempotent;
// a device-open failure is returned (wrapping [ErrDeviceOpen]) on this and
// every later call, and leaves the stream closed.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if s.capture != nil {
		return nil
	}

	c, err := startCapture(ctx, s.dev, s.cfg, s.ch, s.log)
	if err != nil {
		s.startErr = err
		s.closed.Store(true)
		s.cancelLife()
		s.log.Error("listen: start failed", "err", err)
		return err
	}
	s.capture = c
	s.log.Info("listen: capture started",
		"sample_rate", s.cfg.SampleRate,
		"frame_ms", s.cfg.FrameDurationMs,
		"channel_capacity", s.cfg.ChannelCapacity,
	)
	return nil
}

// Next blocks until the next non-empty transcript is available.
//
// It returns ctx.Err() when ctx is cancelled (after closing the stream),
// [ErrClosed] after Close or once capture ended fatally, and a device-open
// error if the implicit Start fails. Empty transcriptions and transcriber
// failures are absorbed: they are logged, counted and reported to the
// Observer, never returned.
func (s *Stream) Next(ctx context.Context) (Transcript, error) {
	s.nextMu.Lock()
	defer s.nextMu.Unlock()

	if err := s.Start(ctx); err != nil {
		return Transcript{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			s.abandon()
			_ = s.Close()
			return Transcript{}, err
		}
		if s.closed.Load() {
			s.abandon()
			return Transcript{}, ErrClosed
		}

		f, ok := s.ch.Pop(s.cfg.PopTimeout())
		if !ok {
			if done, err := s.capture.finished(); done && s.ch.Len() == 0 {
				s.fail(err)
				s.abandon()
				_ = s.Close()
				return Transcript{}, ErrClosed
			}
			continue
		}

		u, finalized := s.ep.Push(f)
		s.classifierErrors.Store(s.ep.ClassifierErrors())
		if !finalized {
			continue
		}
		if ctx.Err() != nil || s.closed.Load() {
			// Closed while this frame was classified; the loop head returns.
			s.log.Debug("listen: finalized utterance abandoned on close", "frames", u.Len())
			continue
		}
		if t, ok := s.transcribe(ctx, u); ok {
			return t, nil
		}
	}
}

// transcribe runs the transcriber on a finalized utterance. ok is false when
// the utterance produced no transcript.
func (s *Stream) transcribe(ctx context.Context, u endpoint.Utterance) (Transcript, bool) {
	finalizedAt := s.now()
	s.utterances.Add(1)
	s.obs.Finalized(u)

	tctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.life, cancel)
	defer stop()

	start := time.Now()
	text, err := s.tr.Transcribe(tctx, u.PCM())
	latency := time.Since(start)
	if err != nil {
		s.transcribeErrs.Add(1)
		s.log.Warn("listen: transcription failed, utterance discarded",
			"frames", u.Len(),
			"reason", u.Reason.String(),
			"err", err,
		)
		s.obs.Discarded(u, err)
		return Transcript{}, false
	}

	text = strings.TrimSpace(text)
	if text == "" {
		s.discarded.Add(1)
		s.log.Debug("listen: empty transcript discarded", "frames", u.Len(), "reason", u.Reason.String())
		s.obs.Discarded(u, ErrEmptyTranscript)
		return Transcript{}, false
	}

	t := Transcript{
		ID:            uuid.New(),
		Text:          text,
		Reason:        u.Reason,
		AudioDuration: u.Duration(),
		Frames:        u.Len(),
		FinalizedAt:   finalizedAt,
		Latency:       latency,
	}
	s.transcripts.Add(1)
	s.log.Debug("listen: transcript",
		"id", t.ID,
		"reason", t.Reason.String(),
		"audio", t.AudioDuration,
		"latency", t.Latency,
	)
	s.obs.Transcribed(t)
	return t, true
}

// abandon drops any in-progress utterance. Called with nextMu held.
func (s *Stream) abandon() {
	if n := s.ep.Reset(); n > 0 {
		s.log.Debug("listen: in-progress utterance abandoned", "frames", n)
	}
}

func (s *Stream) fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal == nil {
		s.fatal = err
	}
}

// All returns the stream as a range-over-func sequence. It yields only
// non-empty transcripts with a nil error, or a single error if the device
// cannot be opened. The sequence ends on cancellation, Close or fatal capture
// failure; breaking out of the loop closes the stream.
func (s *Stream) All(ctx context.Context) iter.Seq2[Transcript, error] {
	return func(yield func(Transcript, error) bool) {
		defer s.Close()
		if err := s.Start(ctx); err != nil {
			yield(Transcript{}, err)
			return
		}
		for {
			t, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(t, nil) {
				return
			}
		}
	}
}

// Close stops capture, waits up to the join timeout for the device to be
// released, and abandons any in-progress utterance without transcribing it.
// It is idempotent and returns [ErrJoinTimeout] if the capture goroutine did
// not acknowledge in time; the device is still released by that goroutine
// whenever its pending read returns.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancelLife()

		s.mu.Lock()
		c := s.capture
		s.mu.Unlock()
		if c == nil {
			return
		}

		if err := c.stop(s.cfg.JoinTimeout()); err != nil {
			s.log.Warn("listen: capture did not stop in time", "timeout", s.cfg.JoinTimeout())
			s.closeErr = err
			return
		}
		if _, err := c.finished(); err != nil {
			s.fail(err)
		}
		s.log.Info("listen: capture stopped", "frames", s.ch.Pushed(), "dropped", s.ch.Dropped())
	})
	return s.closeErr
}

// Err returns the fatal capture error that ended the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return s.fatal
	}
	return s.startErr
}

// Running reports nil while the capture goroutine is alive. It is shaped for
// use as a readiness probe.
func (s *Stream) Running() error {
	s.mu.Lock()
	c, startErr := s.capture, s.startErr
	s.mu.Unlock()

	switch {
	case startErr != nil:
		return startErr
	case c == nil:
		return ErrNotStarted
	}
	if done, err := c.finished(); done {
		if err != nil {
			return err
		}
		return ErrClosed
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Stats returns a snapshot of the pipeline counters.
func (s *Stream) Stats() Stats {
	st := Stats{
		FramesCaptured:   s.ch.Pushed(),
		FramesDropped:    s.ch.Dropped(),
		ClassifierErrors: s.classifierErrors.Load(),
		Utterances:       s.utterances.Load(),
		Transcripts:      s.transcripts.Load(),
		Discarded:        s.discarded.Load(),
		TranscribeErrors: s.transcribeErrs.Load(),
	}
	s.mu.Lock()
	c := s.capture
	s.mu.Unlock()
	if c != nil {
		st.ReadErrors = c.readErrs.Load() + c.shortFrames.Load()
	}
	return st
}
