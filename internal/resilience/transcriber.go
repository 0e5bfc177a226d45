package resilience

import (
	"context"

	"github.com/MrWong99/earwig/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with automatic failover
// across several transcription backends. Each backend has its own circuit
// breaker.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcriber tried after the ones already
// registered.
func (f *TranscriberFallback) AddFallback(name string, tr stt.Transcriber) {
	f.group.AddFallback(name, tr)
}

// Transcribe sends pcm to the first healthy backend, moving on to the next
// when one fails. An empty transcript is a success and is not retried
// elsewhere.
func (f *TranscriberFallback) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(tr stt.Transcriber) (string, error) {
		return tr.Transcribe(ctx, pcm)
	})
}

// States returns the breaker state of every backend keyed by name.
func (f *TranscriberFallback) States() map[string]State {
	return f.group.States()
}

// Names returns the backend names in failover order.
func (f *TranscriberFallback) Names() []string {
	return f.group.Names()
}
