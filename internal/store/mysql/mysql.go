// Package mysql is the MySQL/MariaDB key store backend.
package mysql

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/faucetdb/keygate/internal/store"
)

// Server error numbers, see
// https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errDupEntry     = 1062 // ER_DUP_ENTRY
	errDupFieldName = 1060 // ER_DUP_FIELDNAME
	errDupKeyName   = 1061 // ER_DUP_KEYNAME
	errTableExists  = 1050 // ER_TABLE_EXISTS_ERROR
)

// Dialect returns the MySQL description of the api_keys schema.
func Dialect() store.Dialect {
	return store.Dialect{
		Name:       "mysql",
		DriverName: "mysql",
		Migrations: []store.Migration{
			{SQL: `CREATE TABLE IF NOT EXISTS api_keys (
				api_key VARCHAR(64) NOT NULL PRIMARY KEY,
				is_active TINYINT(1) NOT NULL DEFAULT 1,
				never_expire TINYINT(1) NOT NULL DEFAULT 0,
				expiration_date DATETIME NULL,
				latest_query_date DATETIME NULL,
				total_queries BIGINT NOT NULL DEFAULT 0
			)`},
			{SQL: `ALTER TABLE api_keys ADD COLUMN owner_name VARCHAR(255) NULL`},
			{SQL: `ALTER TABLE api_keys ADD COLUMN owner_email VARCHAR(320) NULL`},
			{SQL: `ALTER TABLE api_keys ADD COLUMN credential_hash VARCHAR(100) NULL`},
			{SQL: `CREATE UNIQUE INDEX ux_api_keys_owner_name ON api_keys(owner_name)`, Optional: true},
			{SQL: `CREATE UNIQUE INDEX ux_api_keys_owner_email ON api_keys(owner_email)`, Optional: true},
			{SQL: `ALTER TABLE api_keys ADD COLUMN created_at DATETIME NULL`},
			{SQL: `CREATE INDEX ix_api_keys_latest_query ON api_keys(latest_query_date)`, Optional: true},
		},
		IsDuplicate:      IsDuplicate,
		IsAlreadyApplied: IsAlreadyApplied,
	}
}

// Open connects to the server named by cfg.DSN.
func Open(ctx context.Context, cfg store.ConnectionConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("mysql store requires a DSN")
	}
	dsn, err := NormalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	s, err := store.Connect(ctx, Dialect(), dsn, cfg.Pool, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// bareHostPort matches "user:pass@host:port/db", a DSN written without the
// tcp() wrapper the driver expects.
var bareHostPort = regexp.MustCompile(`^(.+)@([^(@]+:\d+)(/.*)?$`)

// NormalizeDSN repairs common DSN mistakes and forces the options the store
// relies on: DATETIME columns parsed as UTC time.Time, and UPDATE reporting
// matched rather than changed rows.
//
//	user:pass@host:port/db      -> user:pass@tcp(host:port)/db
//	user:pass@(host:port)/db    -> user:pass@tcp(host:port)/db
//	user:pass@tcp(host:port)/db    unchanged
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := parseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

func parseDSN(dsn string) (*mysqldriver.Config, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err == nil && (cfg.Net == "tcp" || cfg.Net == "unix") {
		return cfg, nil
	}

	if idx := strings.LastIndex(dsn, "@("); idx >= 0 {
		if fixed, ferr := mysqldriver.ParseDSN(dsn[:idx] + "@tcp" + dsn[idx+1:]); ferr == nil {
			return fixed, nil
		}
	}

	if m := bareHostPort.FindStringSubmatch(dsn); m != nil {
		if fixed, ferr := mysqldriver.ParseDSN(m[1] + "@tcp(" + m[2] + ")" + m[3]); ferr == nil {
			return fixed, nil
		}
	}

	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func errNumber(err error) uint16 {
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// IsDuplicate reports whether err is ER_DUP_ENTRY.
func IsDuplicate(err error) bool {
	return errNumber(err) == errDupEntry
}

// IsAlreadyApplied reports whether err means the column, index or table
// already exists.
func IsAlreadyApplied(err error) bool {
	switch errNumber(err) {
	case errDupFieldName, errDupKeyName, errTableExists:
		return true
	}
	return false
}
