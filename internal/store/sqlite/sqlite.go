// Package sqlite is the embedded key store backend, backed by the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/faucetdb/keygate/internal/store"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Dialect returns the SQLite description of the api_keys schema.
func Dialect() store.Dialect {
	return store.Dialect{
		Name:       "sqlite",
		DriverName: "sqlite",
		Migrations: []store.Migration{
			{SQL: `CREATE TABLE IF NOT EXISTS api_keys (
				api_key TEXT PRIMARY KEY,
				is_active INTEGER NOT NULL DEFAULT 1,
				never_expire INTEGER NOT NULL DEFAULT 0,
				expiration_date DATETIME,
				latest_query_date DATETIME,
				total_queries INTEGER NOT NULL DEFAULT 0
			)`},

			// v2: owner metadata and the bcrypt hash of the owner's password.
			{SQL: `ALTER TABLE api_keys ADD COLUMN owner_name TEXT`},
			{SQL: `ALTER TABLE api_keys ADD COLUMN owner_email TEXT`},
			{SQL: `ALTER TABLE api_keys ADD COLUMN credential_hash TEXT`},

			// v3: one key per owner name and per email. NULLs are distinct.
			{SQL: `CREATE UNIQUE INDEX IF NOT EXISTS ux_api_keys_owner_name ON api_keys(owner_name)`, Optional: true},
			{SQL: `CREATE UNIQUE INDEX IF NOT EXISTS ux_api_keys_owner_email ON api_keys(owner_email)`, Optional: true},

			// v4
			{SQL: `ALTER TABLE api_keys ADD COLUMN created_at DATETIME`},
			{SQL: `CREATE INDEX IF NOT EXISTS ix_api_keys_latest_query ON api_keys(latest_query_date)`, Optional: true},
		},
		IsDuplicate:      IsDuplicate,
		IsAlreadyApplied: IsAlreadyApplied,
	}
}

// Open opens (creating if needed) the database file at cfg.Path, or cfg.DSN
// when set. An empty path opens a private in-memory database.
func Open(ctx context.Context, cfg store.ConnectionConfig, logger *slog.Logger) (store.Store, error) {
	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}

	pool := cfg.Pool
	// SQLite serializes writers; one connection also keeps an in-memory
	// database from splitting into several independent ones.
	pool.MaxOpenConns = 1
	pool.MaxIdleConns = 1
	pool.ConnMaxLifetime = 0
	pool.ConnMaxIdleTime = 0

	s, err := store.Connect(ctx, Dialect(), dsn, pool, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// BuildDSN turns the connection config into a modernc DSN with WAL, a busy
// timeout and a sortable timestamp format.
func BuildDSN(cfg store.ConnectionConfig) (string, error) {
	if cfg.DSN != "" {
		return withParams(cfg.DSN), nil
	}
	if cfg.Path == "" || cfg.Path == ":memory:" {
		return withParams(":memory:"), nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create data dir: %w", err)
		}
	}
	return withParams(cfg.Path), nil
}

func withParams(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "_time_format=") {
		params = append(params, "_time_format=sqlite")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout(5000)")
	}
	if !strings.HasPrefix(dsn, ":memory:") && !strings.Contains(dsn, "journal_mode") {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	if len(params) == 0 {
		return dsn
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// IsDuplicate reports whether err is a UNIQUE or PRIMARY KEY violation.
func IsDuplicate(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// IsAlreadyApplied reports whether err comes from re-adding an existing
// column, table or index.
func IsAlreadyApplied(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
