// Package factory opens the record store selected by configuration.
package factory

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/storage/file"
	"github.com/steveyegge/converge/internal/storage/memory"
	"github.com/steveyegge/converge/internal/storage/sqlstore"
)

// Backend names accepted by storage.backend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

// Default file and directory names under the project state directory.
const (
	StateDirName   = "state"
	SQLiteFileName = "state.db"
)

// Options configures how the store is opened.
type Options struct {
	Backend     string        // file (default), sqlite, mysql, memory
	Dir         string        // project state directory, e.g. .converge
	DSN         string        // mysql DSN, or a sqlite path override
	LockTimeout time.Duration // file backend lock wait
}

// New opens the configured backend.
func New(ctx context.Context, opts Options) (storage.Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		return file.New(filepath.Join(opts.Dir, StateDirName), opts.LockTimeout)
	case BackendSQLite:
		path := opts.DSN
		if path == "" {
			path = filepath.Join(opts.Dir, SQLiteFileName)
		}
		return sqlstore.OpenSQLite(ctx, path)
	case BackendMySQL:
		return sqlstore.OpenMySQL(ctx, opts.DSN)
	case BackendMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown storage backend: %s (supported: file, sqlite, mysql, memory)", opts.Backend)
}
