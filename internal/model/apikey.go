package model

import "time"

// KeyState is the read-time lifecycle state of a key. It is never stored;
// expiry is derived from the expiration date on every read.
type KeyState string

const (
	KeyStateActive  KeyState = "active"
	KeyStateExpired KeyState = "expired"
	KeyStateRevoked KeyState = "revoked"
)

// KeyRecord is the persisted state of one API key. The api_key column is the
// primary key and never changes after creation.
type KeyRecord struct {
	APIKey          string     `json:"api_key" db:"api_key"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	NeverExpire     bool       `json:"never_expire" db:"never_expire"`
	ExpirationDate  time.Time  `json:"expiration_date" db:"expiration_date"`
	LatestQueryDate *time.Time `json:"latest_query_date,omitempty" db:"latest_query_date"`
	TotalQueries    int64      `json:"total_queries" db:"total_queries"`
	OwnerName       string     `json:"owner_name,omitempty" db:"owner_name"`
	OwnerEmail      string     `json:"owner_email,omitempty" db:"owner_email"`
	CredentialHash  string     `json:"-" db:"credential_hash"` // bcrypt hash, never expose
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// State reports whether the record is active, expired or revoked at now.
// A never-expire key ignores its expiration date entirely.
func (r *KeyRecord) State(now time.Time) KeyState {
	switch {
	case !r.IsActive:
		return KeyStateRevoked
	case !r.NeverExpire && r.ExpirationDate.Before(now):
		return KeyStateExpired
	default:
		return KeyStateActive
	}
}

// Prefix returns the first eight characters of the key, safe for logs.
func (r *KeyRecord) Prefix() string {
	return KeyPrefix(r.APIKey)
}

// KeyPrefix shortens a raw key for log output.
func KeyPrefix(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}

// UsageLog is the LOGS view of a key: everything except the credential hash,
// with timestamps rendered as second-precision ISO-8601 strings.
type UsageLog struct {
	APIKey          string   `json:"api_key"`
	Username        string   `json:"username,omitempty"`
	Email           string   `json:"email,omitempty"`
	IsActive        bool     `json:"is_active"`
	NeverExpire     bool     `json:"never_expire"`
	State           KeyState `json:"state"`
	ExpirationDate  string   `json:"expiration_date"`
	LatestQueryDate *string  `json:"latest_query_date"`
	TotalQueries    int64    `json:"total_queries"`
}

// ISOSeconds formats t as UTC ISO-8601 with second precision, without a zone
// suffix, matching the format stored and reported for expiration dates.
func ISOSeconds(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05")
}

// NewUsageLog builds the LOGS view of r evaluated at now.
func NewUsageLog(r KeyRecord, now time.Time) UsageLog {
	log := UsageLog{
		APIKey:         r.APIKey,
		Username:       r.OwnerName,
		Email:          r.OwnerEmail,
		IsActive:       r.IsActive,
		NeverExpire:    r.NeverExpire,
		State:          r.State(now),
		ExpirationDate: ISOSeconds(r.ExpirationDate),
		TotalQueries:   r.TotalQueries,
	}
	if r.LatestQueryDate != nil {
		s := ISOSeconds(*r.LatestQueryDate)
		log.LatestQueryDate = &s
	}
	return log
}
