// Package memory is an in-process record store for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/types"
)

// Store keeps records in a map. Records are cloned on the way in and out so
// callers never share memory with the store.
type Store struct {
	mu      sync.Mutex
	records map[string]*types.Record
	archive []storage.ArchivedRecord
}

// New creates an empty memory store.
func New() *Store {
	return &Store{records: make(map[string]*types.Record)}
}

// Load returns a copy of the record for key.
func (s *Store) Load(_ context.Context, key string) (*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", key, storage.ErrNotFound)
	}
	return rec.Clone(), nil
}

// Create stores a copy of rec under key.
func (s *Store) Create(_ context.Context, key string, rec *types.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec.Clone()
	return nil
}

// Update applies fn to a copy and stores it if fn and validation succeed.
func (s *Store) Update(_ context.Context, key string, fn storage.Mutator) (*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", key, storage.ErrNotFound)
	}
	rec := cur.Clone()
	if err := fn(rec); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("update %s: %w", key, err)
	}
	s.records[key] = rec
	return rec.Clone(), nil
}

// Delete removes the record for key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// List returns copies of all records sorted by key.
func (s *Store) List(_ context.Context) ([]storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]storage.Entry, 0, len(s.records))
	for key, rec := range s.records {
		entries = append(entries, storage.Entry{Key: key, Record: rec.Clone()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Archive keeps a copy of rec in the in-memory audit trail.
func (s *Store) Archive(_ context.Context, key string, rec *types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = append(s.archive, storage.ArchivedRecord{Key: key, Record: rec.Clone(), ArchivedAt: time.Now().UTC()})
	return nil
}

// Archived returns the archived records, oldest first.
func (s *Store) Archived() []storage.ArchivedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.ArchivedRecord(nil), s.archive...)
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
