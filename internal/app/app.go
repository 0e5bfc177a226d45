// Package app wires the earwig subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the capture stream and
// everything that consumes its transcripts, Run drives the transcript loop and
// the HTTP server, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithJournal, WithPlayer,
// WithMetrics, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earwig/internal/command"
	"github.com/MrWong99/earwig/internal/config"
	"github.com/MrWong99/earwig/internal/effects"
	"github.com/MrWong99/earwig/internal/feed"
	"github.com/MrWong99/earwig/internal/health"
	"github.com/MrWong99/earwig/internal/journal"
	"github.com/MrWong99/earwig/internal/journal/postgres"
	"github.com/MrWong99/earwig/internal/observe"
	"github.com/MrWong99/earwig/internal/resilience"
	"github.com/MrWong99/earwig/pkg/audio"
	"github.com/MrWong99/earwig/pkg/listen"
	"github.com/MrWong99/earwig/pkg/provider/stt"
	"github.com/MrWong99/earwig/pkg/provider/vad"
)

// ErrCaptureEnded is returned by Run when the audio device failed and the
// stream stopped producing transcripts.
var ErrCaptureEnded = errors.New("app: capture ended")

// serverShutdownTimeout bounds the HTTP server drain when Run's context ends.
const serverShutdownTimeout = 5 * time.Second

// NamedTranscriber is a transcriber with the provider name used in metrics,
// logs and breaker state.
type NamedTranscriber struct {
	Name        string
	Transcriber stt.Transcriber
}

// Providers holds the pipeline collaborators. Populated by main.go via the
// config registry.
type Providers struct {
	Audio audio.Device
	VAD   vad.Classifier

	// STT is the primary transcriber; STTFallbacks are tried in order when it
	// fails or its circuit breaker is open.
	STT          NamedTranscriber
	STTFallbacks []NamedTranscriber
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	now       func() time.Time

	meterProvider metric.MeterProvider
	metrics       *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	transcriber *resilience.TranscriberFallback
	stream      *listen.Stream
	interp      *command.Interpreter
	player      effects.Player
	journal     journal.Store
	hub         *feed.Hub
	server      *http.Server
	statsReg    metric.Registration

	addrMu   sync.Mutex
	addr     net.Addr
	addrSet  chan struct{}
	addrOnce sync.Once

	// owned holds closers for what New created itself, run if New fails.
	owned []func() error

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithJournal injects a journal store instead of creating one from config.
func WithJournal(s journal.Store) Option {
	return func(a *App) { a.journal = s }
}

// WithPlayer injects a sound effect player instead of creating one from
// config.
func WithPlayer(p effects.Player) Option {
	return func(a *App) { a.player = p }
}

// WithMeterProvider sets the meter provider used for metric instruments and
// the observable pipeline counters. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *App) { a.meterProvider = mp }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithClock sets the clock the command interpreter compares spoken times
// against.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Nothing is started:
// the device is opened by Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Audio == nil || providers.VAD == nil || providers.STT.Transcriber == nil {
		return nil, errors.New("app: audio, vad and stt providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		now:       time.Now,
		addrSet:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Metrics ───────────────────────────────────────────────────────
	if a.meterProvider == nil {
		a.meterProvider = otel.GetMeterProvider()
	}
	m, err := observe.NewMetrics(a.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	a.metrics = m

	// ── 2. Transcriber chain ─────────────────────────────────────────────
	a.initTranscriber()

	// ── 3. Capture stream ────────────────────────────────────────────────
	stream, err := listen.New(cfg.ListenConfig(), providers.Audio, providers.VAD, a.transcriber,
		listen.WithObserver(observe.NewStreamObserver(m)),
		listen.WithLogger(a.log),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init stream: %w", err)
	}
	a.stream = stream

	reg, err := observe.RegisterStreamStats(a.meterProvider, stream.Stats)
	if err != nil {
		return nil, fmt.Errorf("app: register stream stats: %w", err)
	}
	a.statsReg = reg

	// ── 4. Command interpreter ───────────────────────────────────────────
	if err := a.initInterpreter(); err != nil {
		a.cleanup()
		return nil, fmt.Errorf("app: init commands: %w", err)
	}

	// ── 5. Sound effects ─────────────────────────────────────────────────
	if err := a.initPlayer(); err != nil {
		a.cleanup()
		return nil, fmt.Errorf("app: init effects: %w", err)
	}

	// ── 6. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		a.cleanup()
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 7. Live feed + HTTP ──────────────────────────────────────────────
	a.hub = feed.NewHub(feed.WithMetrics(m), feed.WithLogger(a.log))
	a.initServer()

	a.closers = append(a.closers,
		a.player.Close,
		a.journal.Close,
		a.statsReg.Unregister,
		a.closeProviders,
	)
	return a, nil
}

func (a *App) initTranscriber() {
	p := a.providers
	primary := observe.InstrumentTranscriber(p.STT.Transcriber, p.STT.Name, a.metrics)
	a.transcriber = resilience.NewTranscriberFallback(primary, p.STT.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Logger: a.log},
	})
	for _, fb := range p.STTFallbacks {
		a.transcriber.AddFallback(fb.Name, observe.InstrumentTranscriber(fb.Transcriber, fb.Name, a.metrics))
	}
}

func (a *App) initInterpreter() error {
	cc := a.cfg.Commands
	if !cc.Enabled {
		return nil
	}
	insults := append([]string(nil), cc.InsultKeywords...)
	if cc.InsultsFile != "" {
		extra, err := config.LoadKeywords(cc.InsultsFile)
		if err != nil {
			return err
		}
		insults = append(insults, extra...)
	}
	a.interp = command.New(command.Config{
		TimePhrases:     cc.TimePhrases,
		InsultKeywords:  insults,
		ApologyKeywords: cc.ApologyKeywords,
		InsultWindow:    cc.InsultWindow,
		TimeErrorMargin: cc.TimeErrorMargin,
		Fuzzy:           cc.Fuzzy,
	}, command.WithClock(a.now), command.WithLogger(a.log))
	a.log.Info("command interpreter enabled",
		"time_phrases", len(cc.TimePhrases),
		"insult_keywords", len(insults),
		"fuzzy", cc.Fuzzy,
	)
	return nil
}

func (a *App) initPlayer() error {
	if a.player != nil {
		return nil
	}
	if !a.cfg.Effects.Enabled {
		a.player = effects.Nop{}
		return nil
	}
	p, err := effects.NewBeepPlayer(effects.WithLogger(a.log))
	if err != nil {
		return err
	}
	a.player = p
	a.owned = append(a.owned, p.Close)
	return nil
}

func (a *App) initJournal(ctx context.Context) error {
	if a.journal != nil {
		return nil
	}
	if dsn := a.cfg.Journal.PostgresDSN; dsn != "" {
		store, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.journal = store
		a.owned = append(a.owned, store.Close)
		a.log.Info("journal connected to postgres")
		return nil
	}
	a.journal = journal.NewMemStore(0)
	return nil
}

func (a *App) initServer() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}
	mux := http.NewServeMux()
	health.New(
		[]health.Checker{
			health.CaptureChecker(a.stream.Running),
			health.PingChecker("journal", a.journal.Ping),
		},
		health.WithStats(func() any { return a.Stats() }),
	).Register(mux)
	journal.NewHandler(a.journal, a.log).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET "+feed.Path, a.hub)

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// cleanup releases what New acquired before failing. Injected doubles are
// left alone.
func (a *App) cleanup() {
	for _, c := range a.owned {
		_ = c()
	}
	_ = a.statsReg.Unregister()
	_ = a.stream.Close()
}

// closeProviders closes every provider that holds resources (native models,
// audio host API).
func (a *App) closeProviders() error {
	var errs []error
	closeIf := func(v any) {
		if c, ok := v.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	closeIf(a.providers.Audio)
	closeIf(a.providers.VAD)
	closeIf(a.providers.STT.Transcriber)
	for _, fb := range a.providers.STTFallbacks {
		closeIf(fb.Transcriber)
	}
	return errors.Join(errs...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens the audio device and processes transcripts until ctx is
// cancelled, the stream is closed by Shutdown, or capture fails. It returns
// ctx.Err() on cancellation, a device-open error wrapping
// [listen.ErrDeviceOpen], or [ErrCaptureEnded] wrapping the fatal capture
// error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
		a.setAddr(ln.Addr())
		a.log.Info("http server listening", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		err := a.transcriptLoop(gctx)
		if err == nil && a.server != nil {
			// The stream was closed by Shutdown; stop the server goroutines
			// too.
			return errStopped
		}
		return err
	})

	err := g.Wait()
	if errors.Is(err, errStopped) {
		err = nil
	}
	if err == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// errStopped ends the errgroup once the transcript loop is done.
var errStopped = errors.New("app: stopped")

func (a *App) transcriptLoop(ctx context.Context) error {
	a.log.Info("app running",
		"stt", a.transcriber.Names(),
		"commands", a.interp != nil,
	)
	for t, err := range a.stream.All(ctx) {
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.handle(ctx, t)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.stream.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCaptureEnded, err)
	}
	return nil
}

// handle runs one transcript through the interpreter, the effects, the live
// feed and the journal.
func (a *App) handle(ctx context.Context, t listen.Transcript) {
	log := a.log.With("transcript_id", t.ID.String())
	log.Info("transcript", "text", t.Text, "reason", t.Reason.String(), "audio", t.AudioDuration)

	action := command.ActionNone
	if a.interp != nil {
		d := a.interp.Handle(t.Text)
		action = d.Action
		a.metrics.RecordCommand(ctx, action.String())
		if err := a.react(d); err != nil {
			log.Warn("sound effect failed", "action", action.String(), "err", err)
		}
	}

	a.hub.Publish(t, action.String())
	if err := a.journal.Write(ctx, journal.FromTranscript(t, action.String())); err != nil {
		log.Warn("journal write failed", "err", err)
	}
}

// react plays the sound effect for a decision.
func (a *App) react(d command.Decision) error {
	fx := a.cfg.Effects
	switch d.Action {
	case command.ActionCorrect:
		return a.player.PlayRandom(fx.CorrectDir)
	case command.ActionIncorrect:
		return a.player.PlayRandom(fx.IncorrectDir)
	case command.ActionStartCrying:
		return a.player.StartLoop(fx.CryingFile)
	case command.ActionStopCrying:
		a.player.StopLoop()
	}
	return nil
}

// ─── Introspection ───────────────────────────────────────────────────────────

// Stats is the document served on /statsz.
type Stats struct {
	Pipeline    listen.Stats      `json:"pipeline"`
	Breakers    map[string]string `json:"breakers"`
	FeedClients int               `json:"feed_clients"`
	FeedDropped uint64            `json:"feed_dropped"`
	Crying      bool              `json:"crying"`
}

// Stats returns a snapshot of the running application.
func (a *App) Stats() Stats {
	st := Stats{
		Pipeline:    a.stream.Stats(),
		Breakers:    make(map[string]string),
		FeedClients: a.hub.Clients(),
		FeedDropped: a.hub.Dropped(),
	}
	for name, state := range a.transcriber.States() {
		st.Breakers[name] = state.String()
	}
	if a.interp != nil {
		st.Crying = a.interp.Crying()
	}
	return st
}

// Addr blocks until the HTTP server is listening and returns its address, or
// returns nil once ctx is done. It is nil for an app without a listen
// address.
func (a *App) Addr(ctx context.Context) net.Addr {
	if a.server == nil {
		return nil
	}
	select {
	case <-a.addrSet:
	case <-ctx.Done():
		return nil
	}
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

func (a *App) setAddr(addr net.Addr) {
	a.addrMu.Lock()
	a.addr = addr
	a.addrMu.Unlock()
	a.addrOnce.Do(func() { close(a.addrSet) })
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. The stream is closed first so the
// device is released even when the deadline is short. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if err := a.stream.Close(); err != nil {
			a.log.Warn("stream close error", "err", err)
		}
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				a.log.Warn("http server shutdown error", "err", err)
			}
		}
		a.hub.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
