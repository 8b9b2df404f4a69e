package store

// Migration is one schema statement. Statements are applied in order on
// every start and must be safe to re-apply.
type Migration struct {
	SQL string
	// Optional steps may fail without aborting startup. Owner indexes are
	// optional because legacy data can already violate them.
	Optional bool
}

// Dialect describes what differs between SQL backends. Query text is shared;
// placeholders are rebound by sqlx based on DriverName.
type Dialect struct {
	// Name is the registry name, e.g. "sqlite" or "postgres".
	Name string
	// DriverName is the database/sql driver name, e.g. "pgx".
	DriverName string
	Migrations []Migration
	// UpperCaseColumns is set for backends that report unquoted column
	// names in upper case. Selects then alias every column back to the
	// lower-case name the row struct is tagged with.
	UpperCaseColumns bool
	// IsDuplicate reports whether err is a unique or primary key violation.
	IsDuplicate func(error) bool
	// IsAlreadyApplied reports whether a migration error means the object
	// (column, index, table) is already there.
	IsAlreadyApplied func(error) bool
}
