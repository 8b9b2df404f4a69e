package service

import (
	"context"
)

// Validator decides whether a single key is currently usable.
type Validator interface {
	IsValid(ctx context.Context, key string) (bool, error)
}

// Gateway authenticates requests that may carry an API key in the query
// string, in a header, or both.
type Gateway struct {
	keys Validator
}

// NewGateway creates a Gateway backed by v.
func NewGateway(v Validator) *Gateway {
	return &Gateway{keys: v}
}

// Authenticate returns the first supplied key that validates, trying the
// query value before the header value. It fails with ErrMissingCredential
// when neither is present and ErrInvalidCredential when none validates.
// Store failures are returned as is.
func (g *Gateway) Authenticate(ctx context.Context, queryKey, headerKey string) (string, error) {
	if queryKey == "" && headerKey == "" {
		return "", ErrMissingCredential
	}

	candidates := []string{queryKey}
	if headerKey != queryKey {
		candidates = append(candidates, headerKey)
	}

	var lastErr error
	for _, key := range candidates {
		if key == "" {
			continue
		}
		ok, err := g.keys.IsValid(ctx, key)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return key, nil
		}
	}

	if lastErr != nil {
		return "", lastErr
	}
	return "", ErrInvalidCredential
}
