package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
)

type contextKeyAuth string

// APIKeyContextKey is the context key for the accepted API key.
const APIKeyContextKey contextKeyAuth = "api_key"

// Authenticator validates the API key candidates of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, queryKey, headerKey string) (string, error)
}

// RequireAPIKey returns an HTTP middleware that only lets requests through
// when they carry a valid API key named name, either as a query parameter
// or as a header. The accepted key is stored in the request context.
func RequireAPIKey(auth Authenticator, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := auth.Authenticate(r.Context(), r.URL.Query().Get(name), r.Header.Get(name))
			switch {
			case err == nil:
			case errors.Is(err, service.ErrMissingCredential):
				writeAuthError(w, http.StatusForbidden, "An API key must be passed as query or header", "missing_api_key")
				return
			case errors.Is(err, service.ErrInvalidCredential):
				writeAuthError(w, http.StatusForbidden, "Wrong, revoked, or expired API key.", "invalid_api_key")
				return
			default:
				writeAuthError(w, http.StatusServiceUnavailable, "API key validation is temporarily unavailable", "store_unavailable")
				return
			}

			ctx := context.WithValue(r.Context(), APIKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAPIKey extracts the accepted API key from the context. Returns an
// empty string for requests that did not pass RequireAPIKey.
func GetAPIKey(ctx context.Context) string {
	if key, ok := ctx.Value(APIKeyContextKey).(string); ok {
		return key
	}
	return ""
}

// RequireSecret returns an HTTP middleware that gates administrative routes
// behind the shared secret carried in header.
func RequireSecret(secret, header string) func(http.Handler) http.Handler {
	want := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if got == "" {
				writeAuthError(w, http.StatusForbidden,
					fmt.Sprintf("%s must be passed as a header field", header), "missing_secret")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeAuthError(w, http.StatusForbidden,
					"Wrong secret key. If not set through the KEYGATE_AUTH_SECRET environment variable, "+
						"it was generated automatically at startup and appears in the server logs.",
					"wrong_secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    status,
			Message: message,
			Context: map[string]interface{}{"reason": reason},
		},
	})
}
