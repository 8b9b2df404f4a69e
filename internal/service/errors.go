package service

import (
	"errors"
	"fmt"
)

var (
	ErrUserExists        = errors.New("an api key already exists for this user")
	ErrKeyNotFound       = errors.New("api key not found")
	ErrInvalidDate       = errors.New("invalid expiration date")
	ErrMissingCredential = errors.New("an api key must be passed as query or header")
	ErrInvalidCredential = errors.New("wrong, revoked, or expired api key")

	// ErrStoreUnavailable wraps any store failure on the request path. The
	// driver error stays reachable through errors.As.
	ErrStoreUnavailable = errors.New("key store unavailable")
)

func storeUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
