package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/earwig/internal/journal"
)

var _ journal.Store = (*Store)(nil)

// Store is a [journal.Store] backed by a [pgxpool.Pool]. All methods are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Write implements [journal.Store]. Writing an entry whose ID already exists
// is a no-op.
func (s *Store) Write(ctx context.Context, e journal.Entry) error {
	const q = `
		INSERT INTO transcripts (id, text, reason, action, audio_duration_ns, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.pool.Exec(ctx, q, e.ID, e.Text, e.Reason, e.Action, e.AudioDuration.Nanoseconds(), ts)
	if err != nil {
		return fmt.Errorf("journal postgres: write: %w", err)
	}
	return nil
}

// Recent implements [journal.Store].
func (s *Store) Recent(ctx context.Context, d time.Duration) ([]journal.Entry, error) {
	const q = `
		SELECT id, text, reason, action, audio_duration_ns, timestamp
		FROM   transcripts
		WHERE  timestamp >= now() - ($1::bigint * interval '1 microsecond')
		ORDER  BY timestamp`

	rows, err := s.pool.Query(ctx, q, d.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("journal postgres: recent: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [journal.Store]. The query is passed to plainto_tsquery,
// so every word must match (after English stemming) and no operator syntax is
// needed.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]journal.Entry, error) {
	q := `
		SELECT id, text, reason, action, audio_duration_ns, timestamp
		FROM   transcripts
		WHERE  to_tsvector('english', text) @@ plainto_tsquery('english', $1)
		ORDER  BY timestamp DESC`
	args := []any{query}
	if limit > 0 {
		q += "\n\t\tLIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: search: %w", err)
	}
	return collectEntries(rows)
}

// Ping implements [journal.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [journal.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func collectEntries(rows pgx.Rows) ([]journal.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.Entry, error) {
		var (
			e          journal.Entry
			durationNS int64
		)
		if err := row.Scan(&e.ID, &e.Text, &e.Reason, &e.Action, &durationNS, &e.Timestamp); err != nil {
			return journal.Entry{}, err
		}
		e.AudioDuration = time.Duration(durationNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal postgres: scan rows: %w", err)
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return entries, nil
}
