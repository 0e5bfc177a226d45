// Package postgres provides a PostgreSQL-backed [journal.Store].
//
// Entries live in a single transcripts table with a GIN full-text index over
// the text column. [Migrate] creates the table and indexes and is run by
// [NewStore] on every start.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Write(ctx, entry)
//	hits, _ := store.Search(ctx, "what time", 20)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id                UUID         PRIMARY KEY,
    text              TEXT         NOT NULL,
    reason            TEXT         NOT NULL DEFAULT '',
    action            TEXT         NOT NULL DEFAULT '',
    audio_duration_ns BIGINT       NOT NULL DEFAULT 0,
    timestamp         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_timestamp
    ON transcripts (timestamp);

CREATE INDEX IF NOT EXISTS idx_transcripts_fts
    ON transcripts USING GIN (to_tsvector('english', text));
`

// Migrate creates the journal schema if it does not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("journal postgres: migrate: %w", err)
	}
	return nil
}
