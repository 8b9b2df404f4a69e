package store

import (
	"database/sql/driver"
	"fmt"
	"strconv"
)

// Flag is a boolean column value. Backends disagree on how booleans come
// back from a SELECT (bool, integer, NUMBER as float or text), so Flag
// accepts all of them.
type Flag bool

// Scan implements sql.Scanner.
func (f *Flag) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*f = false
	case bool:
		*f = Flag(v)
	case int64:
		*f = v != 0
	case float64:
		*f = v != 0
	case []byte:
		return f.parse(string(v))
	case string:
		return f.parse(v)
	default:
		return fmt.Errorf("store: cannot scan %T into Flag", src)
	}
	return nil
}

func (f *Flag) parse(s string) error {
	if b, err := strconv.ParseBool(s); err == nil {
		*f = Flag(b)
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("store: cannot parse %q as Flag", s)
	}
	*f = n != 0
	return nil
}

// Value implements driver.Valuer. Flags are written as 0/1 so the same
// statement works for BOOLEAN, BIT, TINYINT and NUMBER(1) columns.
func (f Flag) Value() (driver.Value, error) {
	if f {
		return int64(1), nil
	}
	return int64(0), nil
}
