// Package mssql is the SQL Server key store backend.
package mssql

import (
	"context"
	"errors"
	"log/slog"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/faucetdb/keygate/internal/store"
)

// Database engine error numbers.
const (
	errUniqueConstraint = 2627 // violation of PRIMARY KEY or UNIQUE constraint
	errUniqueIndex      = 2601 // duplicate key row in unique index
	errObjectExists     = 2714 // there is already an object named ...
	errColumnExists     = 2705 // column names in each table must be unique
	errIndexExists      = 1913 // an index with the same name already exists
)

// Dialect returns the SQL Server description of the api_keys schema.
// Unique owner indexes are filtered so NULL owners do not collide.
func Dialect() store.Dialect {
	return store.Dialect{
		Name:       "mssql",
		DriverName: "sqlserver",
		Migrations: []store.Migration{
			{SQL: `IF OBJECT_ID(N'api_keys', N'U') IS NULL
			CREATE TABLE api_keys (
				api_key NVARCHAR(64) NOT NULL PRIMARY KEY,
				is_active BIT NOT NULL DEFAULT 1,
				never_expire BIT NOT NULL DEFAULT 0,
				expiration_date DATETIME2(0) NULL,
				latest_query_date DATETIME2(0) NULL,
				total_queries BIGINT NOT NULL DEFAULT 0
			)`},
			{SQL: `ALTER TABLE api_keys ADD owner_name NVARCHAR(255) NULL`},
			{SQL: `ALTER TABLE api_keys ADD owner_email NVARCHAR(320) NULL`},
			{SQL: `ALTER TABLE api_keys ADD credential_hash NVARCHAR(100) NULL`},
			{SQL: `CREATE UNIQUE INDEX ux_api_keys_owner_name ON api_keys(owner_name) WHERE owner_name IS NOT NULL`, Optional: true},
			{SQL: `CREATE UNIQUE INDEX ux_api_keys_owner_email ON api_keys(owner_email) WHERE owner_email IS NOT NULL`, Optional: true},
			{SQL: `ALTER TABLE api_keys ADD created_at DATETIME2(0) NULL`},
			{SQL: `CREATE INDEX ix_api_keys_latest_query ON api_keys(latest_query_date)`, Optional: true},
		},
		IsDuplicate:      IsDuplicate,
		IsAlreadyApplied: IsAlreadyApplied,
	}
}

// Open connects to the server named by cfg.DSN, a sqlserver:// URL.
func Open(ctx context.Context, cfg store.ConnectionConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("mssql store requires a DSN")
	}
	s, err := store.Connect(ctx, Dialect(), store.EscapeURLCredentials(cfg.DSN), cfg.Pool, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func errNumber(err error) int32 {
	var me mssqldb.Error
	if errors.As(err, &me) {
		return me.Number
	}
	var mp *mssqldb.Error
	if errors.As(err, &mp) && mp != nil {
		return mp.Number
	}
	return 0
}

// IsDuplicate reports whether err is a primary key or unique index violation.
func IsDuplicate(err error) bool {
	switch errNumber(err) {
	case errUniqueConstraint, errUniqueIndex:
		return true
	}
	return false
}

// IsAlreadyApplied reports whether err means the object being created
// already exists.
func IsAlreadyApplied(err error) bool {
	switch errNumber(err) {
	case errObjectExists, errColumnExists, errIndexExists:
		return true
	}
	return false
}
