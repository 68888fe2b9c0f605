// Package storage defines the persistence contract for review records.
//
// One Record exists per storage key (see identity.StorageKey). Backends live
// in sub-packages: file (JSON files guarded by flock), memory (tests and
// dry runs) and sqlstore (SQLite or MySQL). factory picks one from config.
//
// Crash tolerance is the caller's job: a missing key is ErrNotFound and an
// unreadable record is ErrStateCorruption, and the engine treats both as NEW.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/steveyegge/converge/internal/types"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("not found")

// ErrStateCorruption is returned when a stored record cannot be decoded or
// fails validation.
var ErrStateCorruption = errors.New("state corruption")

// Mutator edits a record in place during Update. Returning an error aborts
// the update and leaves the stored record untouched.
type Mutator func(rec *types.Record) error

// Entry is one stored record as returned by List. Err is set instead of
// Record when the stored data is unreadable.
type Entry struct {
	Key    string        `json:"storage_key"`
	Record *types.Record `json:"record,omitempty"`
	Err    error         `json:"-"`
}

// ArchivedRecord is a finished record kept for the audit trail.
type ArchivedRecord struct {
	Key        string        `json:"storage_key"`
	Record     *types.Record `json:"record"`
	ArchivedAt time.Time     `json:"archived_at"`
}

// Store is implemented by every record backend.
type Store interface {
	// Load returns the record for key, ErrNotFound, or ErrStateCorruption.
	Load(ctx context.Context, key string) (*types.Record, error)

	// Create writes rec under key, replacing whatever was there (including
	// a corrupt record).
	Create(ctx context.Context, key string, rec *types.Record) error

	// Update atomically loads, mutates and writes the record for key.
	// Returns the stored result.
	Update(ctx context.Context, key string, fn Mutator) (*types.Record, error)

	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every stored record, sorted by key.
	List(ctx context.Context) ([]Entry, error)

	// Archive appends a finished record to the audit trail.
	Archive(ctx context.Context, key string, rec *types.Record) error

	// Close releases backend resources.
	Close() error
}
