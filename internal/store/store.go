// Package store persists API key records. The Store interface is the only
// thing the lifecycle engine depends on; SQLStore implements it on top of
// sqlx for every supported SQL backend, with per-backend differences
// captured in a Dialect.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/keygate/internal/model"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned by Insert when a unique constraint (the
	// api_key primary key or an owner index) rejects the row.
	ErrDuplicateKey = errors.New("duplicate key")
)

// Store is the storage contract of the key lifecycle engine.
type Store interface {
	// FindByOwner returns the first record whose owner_name equals name or
	// whose owner_email equals email. Empty arguments never match.
	FindByOwner(ctx context.Context, name, email string) (*model.KeyRecord, error)
	FindByKey(ctx context.Context, apiKey string) (*model.KeyRecord, error)
	Insert(ctx context.Context, rec *model.KeyRecord) error
	UpdateFields(ctx context.Context, apiKey string, f Fields) error
	// ListAll returns every record ordered by latest_query_date descending,
	// never-used records last.
	ListAll(ctx context.Context) ([]model.KeyRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// Fields is a partial update. Nil pointers and a zero QueriesDelta leave the
// corresponding column untouched.
type Fields struct {
	IsActive        *bool
	ExpirationDate  *time.Time
	LatestQueryDate *time.Time
	// QueriesDelta is added to total_queries in the same statement, so
	// concurrent increments never overwrite each other.
	QueriesDelta int64
}

// IsZero reports whether f changes nothing.
func (f Fields) IsZero() bool {
	return f.IsActive == nil && f.ExpirationDate == nil && f.LatestQueryDate == nil && f.QueriesDelta == 0
}

// Bool returns a pointer to b, for building Fields.
func Bool(b bool) *bool { return &b }

// Time returns a pointer to t, for building Fields.
func Time(t time.Time) *time.Time { return &t }

// SQLStore implements Store for any database/sql driver described by a
// Dialect.
type SQLStore struct {
	db      *sqlx.DB
	dialect Dialect
	logger  *slog.Logger
}

// New wraps an open connection pool. It does not run migrations; call
// Migrate (Connect does both).
func New(db *sqlx.DB, dialect Dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLStore{db: db, dialect: dialect, logger: logger}
}

// Connect opens a pool for dialect, applies pool settings, verifies the
// connection and migrates the schema.
func Connect(ctx context.Context, dialect Dialect, dsn string, pool model.PoolConfig, logger *slog.Logger) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", dialect.Name, err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	s := New(db, dialect, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", dialect.Name, err)
	}
	return s, nil
}

// DB returns the underlying sqlx.DB connection pool.
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the backend description this store was built with.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// keyRow is a flat struct that maps 1:1 to the api_keys table. Owner fields
// and timestamps are nullable in the schema because they were added by later
// migrations.
type keyRow struct {
	APIKey          string         `db:"api_key"`
	IsActive        Flag           `db:"is_active"`
	NeverExpire     Flag           `db:"never_expire"`
	ExpirationDate  sql.NullTime   `db:"expiration_date"`
	LatestQueryDate sql.NullTime   `db:"latest_query_date"`
	TotalQueries    int64          `db:"total_queries"`
	OwnerName       sql.NullString `db:"owner_name"`
	OwnerEmail      sql.NullString `db:"owner_email"`
	CredentialHash  sql.NullString `db:"credential_hash"`
	CreatedAt       sql.NullTime   `db:"created_at"`
}

var keyColumns = []string{
	"api_key", "is_active", "never_expire", "expiration_date", "latest_query_date",
	"total_queries", "owner_name", "owner_email", "credential_hash", "created_at",
}

// selectList renders the column list of a SELECT on api_keys.
func (s *SQLStore) selectList() string {
	if !s.dialect.UpperCaseColumns {
		return strings.Join(keyColumns, ", ")
	}
	cols := make([]string, len(keyColumns))
	for i, c := range keyColumns {
		cols[i] = c + ` AS "` + c + `"`
	}
	return strings.Join(cols, ", ")
}

func keyRowFromModel(r *model.KeyRecord) keyRow {
	row := keyRow{
		APIKey:         r.APIKey,
		IsActive:       Flag(r.IsActive),
		NeverExpire:    Flag(r.NeverExpire),
		ExpirationDate: sql.NullTime{Time: r.ExpirationDate.UTC(), Valid: !r.ExpirationDate.IsZero()},
		TotalQueries:   r.TotalQueries,
		OwnerName:      nullString(r.OwnerName),
		OwnerEmail:     nullString(r.OwnerEmail),
		CredentialHash: nullString(r.CredentialHash),
		CreatedAt:      sql.NullTime{Time: r.CreatedAt.UTC(), Valid: !r.CreatedAt.IsZero()},
	}
	if r.LatestQueryDate != nil {
		row.LatestQueryDate = sql.NullTime{Time: r.LatestQueryDate.UTC(), Valid: true}
	}
	return row
}

func (r keyRow) toModel() model.KeyRecord {
	rec := model.KeyRecord{
		APIKey:         r.APIKey,
		IsActive:       bool(r.IsActive),
		NeverExpire:    bool(r.NeverExpire),
		TotalQueries:   r.TotalQueries,
		OwnerName:      r.OwnerName.String,
		OwnerEmail:     r.OwnerEmail.String,
		CredentialHash: r.CredentialHash.String,
	}
	if r.ExpirationDate.Valid {
		rec.ExpirationDate = r.ExpirationDate.Time.UTC()
	}
	if r.LatestQueryDate.Valid {
		t := r.LatestQueryDate.Time.UTC()
		rec.LatestQueryDate = &t
	}
	if r.CreatedAt.Valid {
		rec.CreatedAt = r.CreatedAt.Time.UTC()
	}
	return rec
}

// nullString stores empty owner metadata as NULL so the unique owner indexes
// admit any number of anonymous keys.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// FindByKey returns the record for apiKey.
func (s *SQLStore) FindByKey(ctx context.Context, apiKey string) (*model.KeyRecord, error) {
	var row keyRow
	q := s.db.Rebind("SELECT " + s.selectList() + " FROM api_keys WHERE api_key = ?")
	if err := s.db.GetContext(ctx, &row, q, apiKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find key: %w", err)
	}
	rec := row.toModel()
	return &rec, nil
}

// FindByOwner returns a record owned by name or email.
func (s *SQLStore) FindByOwner(ctx context.Context, name, email string) (*model.KeyRecord, error) {
	var (
		conds []string
		args  []interface{}
	)
	if name != "" {
		conds = append(conds, "owner_name = ?")
		args = append(args, name)
	}
	if email != "" {
		conds = append(conds, "owner_email = ?")
		args = append(args, email)
	}
	if len(conds) == 0 {
		return nil, ErrNotFound
	}

	var rows []keyRow
	q := s.db.Rebind("SELECT " + s.selectList() + " FROM api_keys WHERE " + strings.Join(conds, " OR ") + " ORDER BY api_key")
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("find by owner: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	rec := rows[0].toModel()
	return &rec, nil
}

// Insert persists a new record. CreatedAt is filled in when unset.
func (s *SQLStore) Insert(ctx context.Context, rec *model.KeyRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	const q = `INSERT INTO api_keys
		(api_key, is_active, never_expire, expiration_date, latest_query_date,
		 total_queries, owner_name, owner_email, credential_hash, created_at)
		VALUES
		(:api_key, :is_active, :never_expire, :expiration_date, :latest_query_date,
		 :total_queries, :owner_name, :owner_email, :credential_hash, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, keyRowFromModel(rec)); err != nil {
		if s.dialect.IsDuplicate != nil && s.dialect.IsDuplicate(err) {
			return fmt.Errorf("insert api key: %w", ErrDuplicateKey)
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// UpdateFields applies f to the record for apiKey in a single statement.
func (s *SQLStore) UpdateFields(ctx context.Context, apiKey string, f Fields) error {
	if f.IsZero() {
		_, err := s.FindByKey(ctx, apiKey)
		return err
	}

	var (
		sets []string
		args []interface{}
	)
	if f.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, Flag(*f.IsActive))
	}
	if f.ExpirationDate != nil {
		sets = append(sets, "expiration_date = ?")
		args = append(args, f.ExpirationDate.UTC())
	}
	if f.LatestQueryDate != nil {
		sets = append(sets, "latest_query_date = ?")
		args = append(args, f.LatestQueryDate.UTC())
	}
	if f.QueriesDelta != 0 {
		sets = append(sets, "total_queries = total_queries + ?")
		args = append(args, f.QueriesDelta)
	}
	args = append(args, apiKey)

	q := s.db.Rebind("UPDATE api_keys SET " + strings.Join(sets, ", ") + " WHERE api_key = ?")
	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAll returns all records, most recently used first. Records that were
// never used sort after every used record, ties broken by api_key.
func (s *SQLStore) ListAll(ctx context.Context) ([]model.KeyRecord, error) {
	q := "SELECT " + s.selectList() + ` FROM api_keys
		ORDER BY CASE WHEN latest_query_date IS NULL THEN 1 ELSE 0 END,
			latest_query_date DESC, api_key`

	var rows []keyRow
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	records := make([]model.KeyRecord, len(rows))
	for i, r := range rows {
		records[i] = r.toModel()
	}
	return records, nil
}
