// Package postgres is the PostgreSQL key store backend, using pgx through
// database/sql.
package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/faucetdb/keygate/internal/store"
)

// SQLSTATE codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	codeUniqueViolation = "23505"
	codeDuplicateColumn = "42701"
	codeDuplicateTable  = "42P07"
	codeDuplicateObject = "42710"
)

// Dialect returns the PostgreSQL description of the api_keys schema.
func Dialect() store.Dialect {
	return store.Dialect{
		Name:       "postgres",
		DriverName: "pgx",
		Migrations: []store.Migration{
			{SQL: `CREATE TABLE IF NOT EXISTS api_keys (
				api_key VARCHAR(64) PRIMARY KEY,
				is_active SMALLINT NOT NULL DEFAULT 1,
				never_expire SMALLINT NOT NULL DEFAULT 0,
				expiration_date TIMESTAMPTZ,
				latest_query_date TIMESTAMPTZ,
				total_queries BIGINT NOT NULL DEFAULT 0
			)`},
			{SQL: `ALTER TABLE api_keys ADD COLUMN IF NOT EXISTS owner_name VARCHAR(255)`},
			{SQL: `ALTER TABLE api_keys ADD COLUMN IF NOT EXISTS owner_email VARCHAR(320)`},
			{SQL: `ALTER TABLE api_keys ADD COLUMN IF NOT EXISTS credential_hash VARCHAR(100)`},
			{SQL: `CREATE UNIQUE INDEX IF NOT EXISTS ux_api_keys_owner_name ON api_keys(owner_name)`, Optional: true},
			{SQL: `CREATE UNIQUE INDEX IF NOT EXISTS ux_api_keys_owner_email ON api_keys(owner_email)`, Optional: true},
			{SQL: `ALTER TABLE api_keys ADD COLUMN IF NOT EXISTS created_at TIMESTAMPTZ`},
			{SQL: `CREATE INDEX IF NOT EXISTS ix_api_keys_latest_query ON api_keys(latest_query_date)`, Optional: true},
		},
		IsDuplicate:      IsDuplicate,
		IsAlreadyApplied: IsAlreadyApplied,
	}
}

// Open connects to the server named by cfg.DSN, a postgres:// URL or a
// key=value connection string.
func Open(ctx context.Context, cfg store.ConnectionConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres store requires a DSN")
	}
	s, err := store.Connect(ctx, Dialect(), store.EscapeURLCredentials(cfg.DSN), cfg.Pool, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsDuplicate reports whether err is a unique_violation.
func IsDuplicate(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

// IsAlreadyApplied reports whether err means the column, table or index
// being created already exists.
func IsAlreadyApplied(err error) bool {
	switch pgCode(err) {
	case codeDuplicateColumn, codeDuplicateTable, codeDuplicateObject:
		return true
	}
	return false
}
