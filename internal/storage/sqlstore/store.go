// Package sqlstore keeps review records in a SQL database: an embedded
// SQLite file for a single workstation, or a MySQL server when several
// machines share review state.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"

	"github.com/steveyegge/converge/internal/debug"
	"github.com/steveyegge/converge/internal/storage"
	"github.com/steveyegge/converge/internal/types"
)

// Store is a database/sql record store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	retry   time.Duration
}

// OpenSQLite opens (or creates) a SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	dsn, err := SQLiteDSN(path)
	if err != nil {
		return nil, err
	}
	return Open(ctx, SQLite, dsn)
}

// OpenMySQL connects to a MySQL server.
func OpenMySQL(ctx context.Context, dsn string) (*Store, error) {
	norm, err := MySQLDSN(dsn)
	if err != nil {
		return nil, err
	}
	return Open(ctx, MySQL, norm)
}

// Open connects with the given dialect and ensures the schema exists.
func Open(ctx context.Context, d Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", d.Name, err)
	}
	db.SetMaxOpenConns(d.MaxConns)
	db.SetMaxIdleConns(d.MaxConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s db: %w", d.Name, err)
	}

	s := &Store{db: db, dialect: d, retry: 10 * time.Second}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init %s schema: %w", d.Name, err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range strings.Split(s.dialect.Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w\nSQL: %s", err, stmt)
		}
	}
	return tx.Commit()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Load returns the record for key.
func (s *Store) Load(ctx context.Context, key string) (*types.Record, error) {
	var rec *types.Record
	err := s.withRetry(ctx, func() error {
		var err error
		rec, err = s.selectRecord(ctx, s.db, key, false)
		return err
	})
	return rec, err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) selectRecord(ctx context.Context, q querier, key string, lock bool) (*types.Record, error) {
	var (
		rec       types.Record
		status    string
		history   string
		updatedAt string
	)
	query, args, err := s.dialect.selectRecord(key, lock)
	if err != nil {
		return nil, fmt.Errorf("build select %s: %w", key, err)
	}
	err = q.QueryRowContext(ctx, query, args...).Scan(&rec.Gate, &rec.ArtifactID, &rec.Round, &rec.MaxRounds, &status, &history, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select record %s: %w", key, err)
	}
	rec.Status = types.RecordStatus(status)
	if err := json.Unmarshal([]byte(history), &rec.History); err != nil {
		return nil, fmt.Errorf("record %s: %w: history: %v", key, storage.ErrStateCorruption, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("record %s: %w: updated_at: %v", key, storage.ErrStateCorruption, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("record %s: %w: %v", key, storage.ErrStateCorruption, err)
	}
	return &rec, nil
}

func (s *Store) upsert(ctx context.Context, q querier, key string, rec *types.Record) error {
	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	query, args, err := s.dialect.upsertRecord(
		key, rec.Gate, rec.ArtifactID, rec.Round, rec.MaxRounds, string(rec.Status),
		string(history), rec.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("build upsert %s: %w", key, err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record %s: %w", key, err)
	}
	return nil
}

// Create writes rec under key, replacing any existing row.
func (s *Store) Create(ctx context.Context, key string, rec *types.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	return s.withRetry(ctx, func() error {
		return s.upsert(ctx, s.db, key, rec)
	})
}

// Update runs fn inside a transaction holding the row.
func (s *Store) Update(ctx context.Context, key string, fn storage.Mutator) (*types.Record, error) {
	var out *types.Record
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rec, err := s.selectRecord(ctx, tx, key, true)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("update %s: %w", key, err)
		}
		if err := s.upsert(ctx, tx, key, rec); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		out = rec
		return nil
	})
	return out, err
}

// Delete removes the row for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	query, args, err := sq.Delete("review_records").Where(sq.Eq{"storage_key": key}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete %s: %w", key, err)
	}
	return s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete record %s: %w", key, err)
		}
		return nil
	})
}

// List returns all records sorted by key. Undecodable rows are reported per entry.
func (s *Store) List(ctx context.Context) ([]storage.Entry, error) {
	query, args, err := sq.Select("storage_key").From("review_records").OrderBy("storage_key").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return nil, err
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entries := make([]storage.Entry, 0, len(keys))
	for _, k := range keys {
		rec, err := s.selectRecord(ctx, s.db, k, false)
		entries = append(entries, storage.Entry{Key: k, Record: rec, Err: err})
	}
	return entries, nil
}

// Archive inserts rec into review_archive.
func (s *Store) Archive(ctx context.Context, key string, rec *types.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal archive entry: %w", err)
	}
	query, args, err := sq.Insert("review_archive").
		Columns("storage_key", "status", "record", "archived_at").
		Values(key, string(rec.Status), string(data), time.Now().UTC().Format(time.RFC3339Nano)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build archive insert %s: %w", key, err)
	}
	return s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("archive record %s: %w", key, err)
		}
		return nil
	})
}

// ReadArchive returns archived records for key (all keys when empty), oldest first.
func (s *Store) ReadArchive(ctx context.Context, key string) ([]storage.ArchivedRecord, error) {
	q := sq.Select("storage_key", "record", "archived_at").From("review_archive").OrderBy("id")
	if key != "" {
		q = q.Where(sq.Eq{"storage_key": key})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build archive query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	defer rows.Close()

	var out []storage.ArchivedRecord
	for rows.Next() {
		var k, data, at string
		if err := rows.Scan(&k, &data, &at); err != nil {
			return nil, err
		}
		var rec types.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			debug.Logf("archive row for %s unreadable: %v\n", k, err)
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, at)
		out = append(out, storage.ArchivedRecord{Key: k, Record: &rec, ArchivedAt: ts})
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// withRetry retries transient database errors with exponential backoff.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxElapsedTime = s.retry

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			debug.Logf("%s: retrying after transient error: %v\n", s.dialect.Name, err)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

// isRetryable reports whether err is a lock/busy/connection error worth retrying.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrStateCorruption) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
