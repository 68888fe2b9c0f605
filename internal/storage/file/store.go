// Package file stores one JSON document per review record under a state
// directory. Writes go through a temp file and rename; Update holds an
// exclusive flock on a per-key lock file for the read-modify-write.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"

	"github.com/steveyegge/converge/internal/debug"
	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/types"
)

const (
	recordExt = ".json"
	lockExt   = ".lock"

	// ArchiveFileName is the JSONL audit trail, written next to the state directory.
	ArchiveFileName = "archive.jsonl"

	// DefaultLockTimeout bounds how long Update waits for another writer.
	DefaultLockTimeout = 30 * time.Second
)

var errLockBusy = errors.New("lock busy")

// Store is a directory of JSON records.
type Store struct {
	dir         string
	archivePath string
	lockTimeout time.Duration
}

// New creates a file store rooted at dir, creating it if needed.
func New(dir string, lockTimeout time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Store{
		dir:         dir,
		archivePath: filepath.Join(filepath.Dir(dir), ArchiveFileName),
		lockTimeout: lockTimeout,
	}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// ArchivePath returns the JSONL archive file path.
func (s *Store) ArchivePath() string {
	return s.archivePath
}

func (s *Store) recordPath(key string) string {
	return filepath.Join(s.dir, key+recordExt)
}

func (s *Store) lockPath(key string) string {
	return filepath.Join(s.dir, key+lockExt)
}

// Load reads the record for key.
func (s *Store) Load(_ context.Context, key string) (*types.Record, error) {
	return s.read(key)
}

func (s *Store) read(key string) (*types.Record, error) {
	// #nosec G304 -- key is sanitized by identity.StorageKey
	data, err := os.ReadFile(s.recordPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("record %s: %w", key, storage.ErrNotFound)
		}
		// A record that exists but cannot be read is as good as corrupt.
		return nil, fmt.Errorf("read record %s: %w: %w", key, storage.ErrStateCorruption, err)
	}
	return decode(key, data)
}

func decode(key string, data []byte) (*types.Record, error) {
	var rec types.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("record %s: %w: %v", key, storage.ErrStateCorruption, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("record %s: %w: %v", key, storage.ErrStateCorruption, err)
	}
	return &rec, nil
}

// Create writes rec under key, replacing any existing file.
func (s *Store) Create(ctx context.Context, key string, rec *types.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	return s.withLock(ctx, key, func() error {
		return s.write(key, rec)
	})
}

// Update runs fn on the stored record while holding the key's lock.
func (s *Store) Update(ctx context.Context, key string, fn storage.Mutator) (*types.Record, error) {
	var out *types.Record
	err := s.withLock(ctx, key, func() error {
		rec, err := s.read(key)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("update %s: %w", key, err)
		}
		if err := s.write(key, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// Delete removes the record file for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	// The lock file stays: removing it would let a waiter lock an unlinked inode.
	return s.withLock(ctx, key, func() error {
		if err := os.Remove(s.recordPath(key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete record %s: %w", key, err)
		}
		return nil
	})
}

// List returns every record in the state directory.
func (s *Store) List(_ context.Context) ([]storage.Entry, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+recordExt))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	entries := make([]storage.Entry, 0, len(matches))
	for _, path := range matches {
		key := strings.TrimSuffix(filepath.Base(path), recordExt)
		rec, err := s.read(key)
		entries = append(entries, storage.Entry{Key: key, Record: rec, Err: err})
	}
	return entries, nil
}

// Archive appends rec to the JSONL archive.
func (s *Store) Archive(ctx context.Context, key string, rec *types.Record) error {
	line, err := json.Marshal(storage.ArchivedRecord{Key: key, Record: rec, ArchivedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal archive entry: %w", err)
	}
	fl := flock.New(s.archivePath + lockExt)
	if err := s.acquire(ctx, fl); err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()

	f, err := os.OpenFile(s.archivePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}

// ReadArchive returns archived records, oldest first. A missing archive is empty.
func (s *Store) ReadArchive() ([]storage.ArchivedRecord, error) {
	f, err := os.Open(s.archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []storage.ArchivedRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var a storage.ArchivedRecord
		if err := json.Unmarshal([]byte(line), &a); err != nil {
			debug.Logf("archive line %d unreadable: %v\n", lineNo, err)
			continue
		}
		out = append(out, a)
	}
	return out, scanner.Err()
}

// Close is a no-op for the file store.
func (s *Store) Close() error {
	return nil
}

// write replaces the record file atomically via temp file and rename.
func (s *Store) write(key string, rec *types.Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.recordPath(key)); err != nil {
		return fmt.Errorf("rename record %s: %w", key, err)
	}
	return nil
}

// withLock runs fn while holding the exclusive lock for key.
func (s *Store) withLock(ctx context.Context, key string, fn func() error) error {
	fl := flock.New(s.lockPath(key))
	if err := s.acquire(ctx, fl); err != nil {
		return err
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			debug.Logf("unlock %s: %v\n", fl.Path(), err)
		}
	}()
	return fn()
}

// acquire takes an exclusive flock, retrying with exponential backoff until
// the lock timeout or ctx expires.
func (s *Store) acquire(ctx context.Context, fl *flock.Flock) error {
	start := time.Now()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = s.lockTimeout

	err := backoff.Retry(func() error {
		locked, err := fl.TryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !locked {
			return errLockBusy
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		if errors.Is(err, errLockBusy) {
			return fmt.Errorf("timeout waiting for lock %s after %v (another review may be running for this artifact)", fl.Path(), time.Since(start).Round(time.Millisecond))
		}
		return fmt.Errorf("acquire lock %s: %w", fl.Path(), err)
	}
	debug.Logf("acquired lock %s after %v\n", fl.Path(), time.Since(start))
	return nil
}
