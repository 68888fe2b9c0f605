package sqlstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	Name       string
	DriverName string
	Schema     string
	OnConflict string // appended to the record INSERT to make it an upsert
	ForUpdate  string // appended to the SELECT inside Update's transaction
	MaxConns   int
}

var recordColumns = []string{
	"storage_key", "gate", "artifact_id", "round", "max_rounds", "status", "history", "updated_at",
}

// selectRecord builds the single-row record query. lock adds the dialect's
// row-lock clause.
func (d Dialect) selectRecord(key string, lock bool) (string, []any, error) {
	q := sq.Select(recordColumns[1:]...).
		From("review_records").
		Where(sq.Eq{"storage_key": key})
	if lock && d.ForUpdate != "" {
		q = q.Suffix(d.ForUpdate)
	}
	return q.ToSql()
}

// upsertRecord builds the INSERT that replaces the row for the first value.
func (d Dialect) upsertRecord(values ...any) (string, []any, error) {
	return sq.Insert("review_records").
		Columns(recordColumns...).
		Values(values...).
		Suffix(d.OnConflict).
		ToSql()
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS review_records (
    storage_key TEXT PRIMARY KEY,
    gate        TEXT NOT NULL,
    artifact_id TEXT NOT NULL,
    round       INTEGER NOT NULL,
    max_rounds  INTEGER NOT NULL,
    status      TEXT NOT NULL,
    history     TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_review_records_status ON review_records(status);
CREATE TABLE IF NOT EXISTS review_archive (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    storage_key TEXT NOT NULL,
    status      TEXT NOT NULL,
    record      TEXT NOT NULL,
    archived_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_review_archive_key ON review_archive(storage_key)
`

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS review_records (
    storage_key VARCHAR(512) NOT NULL PRIMARY KEY,
    gate        VARCHAR(255) NOT NULL,
    artifact_id TEXT NOT NULL,
    round       INT NOT NULL,
    max_rounds  INT NOT NULL,
    status      VARCHAR(32) NOT NULL,
    history     LONGTEXT NOT NULL,
    updated_at  VARCHAR(64) NOT NULL,
    INDEX idx_review_records_status (status)
);
CREATE TABLE IF NOT EXISTS review_archive (
    id          BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    storage_key VARCHAR(512) NOT NULL,
    status      VARCHAR(32) NOT NULL,
    record      LONGTEXT NOT NULL,
    archived_at VARCHAR(64) NOT NULL,
    INDEX idx_review_archive_key (storage_key)
)
`

// SQLite is the embedded dialect backed by modernc.org/sqlite.
var SQLite = Dialect{
	Name:       "sqlite",
	DriverName: "sqlite",
	Schema:     sqliteSchema,
	OnConflict: `ON CONFLICT(storage_key) DO UPDATE SET
    gate = excluded.gate, artifact_id = excluded.artifact_id, round = excluded.round,
    max_rounds = excluded.max_rounds, status = excluded.status, history = excluded.history,
    updated_at = excluded.updated_at`,
	MaxConns: 1,
}

// MySQL is the shared-server dialect backed by go-sql-driver/mysql.
var MySQL = Dialect{
	Name:       "mysql",
	DriverName: "mysql",
	Schema:     mysqlSchema,
	OnConflict: `ON DUPLICATE KEY UPDATE
    gate = VALUES(gate), artifact_id = VALUES(artifact_id), round = VALUES(round),
    max_rounds = VALUES(max_rounds), status = VALUES(status), history = VALUES(history),
    updated_at = VALUES(updated_at)`,
	ForUpdate: "FOR UPDATE",
	MaxConns:  10,
}

// SQLiteDSN returns a modernc DSN for path with WAL and a busy timeout.
func SQLiteDSN(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create sqlite dir: %w", err)
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path), nil
}

// MySQLDSN validates dsn and returns it normalized with the options the
// store relies on.
func MySQLDSN(dsn string) (string, error) {
	if strings.TrimSpace(dsn) == "" {
		return "", fmt.Errorf("mysql backend requires storage.dsn")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	if cfg.DBName == "" {
		return "", fmt.Errorf("mysql dsn must name a database")
	}
	cfg.MultiStatements = false
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}
	return cfg.FormatDSN(), nil
}
