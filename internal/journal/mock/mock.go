// Package mock provides a recording test double for [journal.Store].
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/earwig/internal/journal"
)

var _ journal.Store = (*Store)(nil)

// Store records written entries and returns configurable errors. It is safe
// for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries []journal.Entry
	closed  int

	// WriteErr is returned by Write when non-nil. Entries are not recorded
	// in that case.
	WriteErr error

	// PingErr is returned by Ping.
	PingErr error

	// SearchResult is returned by Search.
	SearchResult []journal.Entry

	// ReadErr is returned by Recent and Search when non-nil.
	ReadErr error

	searches []SearchCall
}

// SearchCall records the arguments of one Search.
type SearchCall struct {
	Query string
	Limit int
}

// Write implements [journal.Store].
func (s *Store) Write(_ context.Context, e journal.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.entries = append(s.entries, e)
	return nil
}

// Recent implements [journal.Store] by returning every written entry.
func (s *Store) Recent(context.Context, time.Duration) ([]journal.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	return append([]journal.Entry{}, s.entries...), nil
}

// Search implements [journal.Store].
func (s *Store) Search(_ context.Context, query string, limit int) ([]journal.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches = append(s.searches, SearchCall{Query: query, Limit: limit})
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	return append([]journal.Entry{}, s.SearchResult...), nil
}

// Searches returns the recorded Search calls.
func (s *Store) Searches() []SearchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SearchCall{}, s.searches...)
}

// Ping implements [journal.Store].
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close implements [journal.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// Entries returns a copy of the written entries.
func (s *Store) Entries() []journal.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]journal.Entry{}, s.entries...)
}

// CloseCount returns how many times Close was called.
func (s *Store) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
