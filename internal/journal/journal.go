// Package journal keeps a searchable log of transcribed utterances.
//
// Only text and metadata are stored; audio never leaves the pipeline. Two
// [Store] implementations exist: [MemStore] for running without a database,
// and journal/postgres for a persistent log with full-text search.
package journal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/earwig/pkg/listen"
)

// Entry is one journalled transcript.
type Entry struct {
	// ID is the transcript ID assigned by the stream.
	ID uuid.UUID `json:"id"`

	// Text is the transcribed text.
	Text string `json:"text"`

	// Reason is why the utterance ended ("silence" or "max_duration").
	Reason string `json:"reason"`

	// Action is the command the text triggered, "none" if it triggered
	// nothing.
	Action string `json:"action"`

	// AudioDuration is the captured-audio length of the utterance.
	AudioDuration time.Duration `json:"audio_duration"`

	// Timestamp is when the utterance was finalized.
	Timestamp time.Time `json:"timestamp"`
}

// FromTranscript builds an entry for t with the triggered action.
func FromTranscript(t listen.Transcript, action string) Entry {
	return Entry{
		ID:            t.ID,
		Text:          t.Text,
		Reason:        t.Reason.String(),
		Action:        action,
		AudioDuration: t.AudioDuration,
		Timestamp:     t.FinalizedAt,
	}
}

// Store persists journal entries.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Write appends an entry.
	Write(ctx context.Context, e Entry) error

	// Recent returns entries no older than d, oldest first.
	Recent(ctx context.Context, d time.Duration) ([]Entry, error)

	// Search returns entries whose text matches every word of query, newest
	// first. limit <= 0 means no limit.
	Search(ctx context.Context, query string, limit int) ([]Entry, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
