package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/earwig/pkg/endpoint"
	"github.com/MrWong99/earwig/pkg/listen"
	"github.com/MrWong99/earwig/pkg/provider/stt"
)

// ─── Stream counters ─────────────────────────────────────────────────────────

// RegisterStreamStats exposes the capture counters of a running stream as
// observable counters: earwig.frames.captured, earwig.frames.dropped and
// earwig.capture.read_errors. stats is polled on every collection. The returned
// registration should be unregistered when the stream is discarded.
func RegisterStreamStats(mp metric.MeterProvider, stats func() listen.Stats) (metric.Registration, error) {
	m := mp.Meter(meterName)

	captured, err := m.Int64ObservableCounter("earwig.frames.captured",
		metric.WithDescription("Frames read from the input device."),
	)
	if err != nil {
		return nil, err
	}
	dropped, err := m.Int64ObservableCounter("earwig.frames.dropped",
		metric.WithDescription("Frames evicted from the full frame channel."),
	)
	if err != nil {
		return nil, err
	}
	readErrs, err := m.Int64ObservableCounter("earwig.capture.read_errors",
		metric.WithDescription("Transient device read errors and malformed frames."),
	)
	if err != nil {
		return nil, err
	}

	return m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := stats()
		o.ObserveInt64(captured, int64(st.FramesCaptured))
		o.ObserveInt64(dropped, int64(st.FramesDropped))
		o.ObserveInt64(readErrs, int64(st.ReadErrors))
		return nil
	}, captured, dropped, readErrs)
}

// ─── Stream observer ─────────────────────────────────────────────────────────

// StreamObserver is a [listen.Observer] that records utterance outcomes on
// [Metrics.Utterances] and [Metrics.UtteranceAudioDuration].
type StreamObserver struct {
	listen.NopObserver
	m *Metrics
}

// NewStreamObserver returns an observer recording into m.
func NewStreamObserver(m *Metrics) *StreamObserver {
	return &StreamObserver{m: m}
}

// Transcribed records an emitted utterance.
func (o *StreamObserver) Transcribed(t listen.Transcript) {
	o.m.RecordUtterance(context.Background(), t.Reason.String(), OutcomeEmitted, t.AudioDuration.Seconds())
}

// Discarded records an utterance that produced no transcript.
func (o *StreamObserver) Discarded(u endpoint.Utterance, err error) {
	outcome := OutcomeFailed
	if errors.Is(err, listen.ErrEmptyTranscript) {
		outcome = OutcomeEmpty
	}
	o.m.RecordUtterance(context.Background(), u.Reason.String(), outcome, u.Duration().Seconds())
}

var _ listen.Observer = (*StreamObserver)(nil)

// ─── Instrumented transcriber ────────────────────────────────────────────────

// instrumentedTranscriber wraps an [stt.Transcriber] with a span, a latency
// histogram and request counters.
type instrumentedTranscriber struct {
	inner    stt.Transcriber
	provider string
	m        *Metrics
}

// InstrumentTranscriber wraps tr so every call is traced as "stt.transcribe"
// and recorded on m under the given provider name.
func InstrumentTranscriber(tr stt.Transcriber, provider string, m *Metrics) stt.Transcriber {
	return &instrumentedTranscriber{inner: tr, provider: provider, m: m}
}

// Transcribe implements [stt.Transcriber].
func (t *instrumentedTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	ctx, span := StartSpan(ctx, "stt.transcribe",
		trace.WithAttributes(
			attribute.String("stt.provider", t.provider),
			attribute.Int("stt.audio_bytes", len(pcm)),
		),
	)
	defer span.End()

	start := time.Now()
	text, err := t.inner.Transcribe(ctx, pcm)
	t.m.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", t.provider)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.m.RecordProviderRequest(ctx, t.provider, "stt", "error")
		t.m.RecordProviderError(ctx, t.provider, "stt")
		Logger(ctx).Warn("stt: transcription failed", "provider", t.provider, "err", err)
		return "", err
	}
	span.SetAttributes(attribute.Int("stt.text_len", len(text)))
	t.m.RecordProviderRequest(ctx, t.provider, "stt", "ok")
	return text, nil
}
