package journal

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store] holding at most a fixed number of entries.
// Once full, the oldest entry is evicted on every write.
type MemStore struct {
	mu      sync.RWMutex
	entries []Entry
	limit   int
	now     func() time.Time
}

// DefaultMemEntries is the capacity of a MemStore created with limit <= 0.
const DefaultMemEntries = 10_000

// NewMemStore returns an empty store keeping the last limit entries.
func NewMemStore(limit int) *MemStore {
	if limit <= 0 {
		limit = DefaultMemEntries
	}
	return &MemStore{limit: limit, now: time.Now}
}

// Write implements [Store].
func (s *MemStore) Write(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == s.limit {
		s.entries = slices.Delete(s.entries, 0, 1)
	}
	s.entries = append(s.entries, e)
	return nil
}

// Recent implements [Store].
func (s *MemStore) Recent(_ context.Context, d time.Duration) ([]Entry, error) {
	cutoff := s.now().Add(-d)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Entry{}
	for _, e := range s.entries {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b Entry) int { return a.Timestamp.Compare(b.Timestamp) })
	return out, nil
}

// Search implements [Store]. Matching is case-insensitive on whole words.
func (s *MemStore) Search(_ context.Context, query string, limit int) ([]Entry, error) {
	terms := strings.Fields(strings.ToLower(query))
	out := []Entry{}
	if len(terms) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if !containsAll(e.Text, terms) {
			continue
		}
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b Entry) int { return b.Timestamp.Compare(a.Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func containsAll(text string, terms []string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	})
	for _, t := range terms {
		if !slices.Contains(words, t) {
			return false
		}
	}
	return true
}

// Ping implements [Store].
func (s *MemStore) Ping(context.Context) error { return nil }

// Close implements [Store].
func (s *MemStore) Close() error { return nil }

// Len returns the number of stored entries.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
