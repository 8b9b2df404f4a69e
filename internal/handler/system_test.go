package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/faucetdb/keygate/internal/openapi"
	"github.com/faucetdb/keygate/internal/server/middleware"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newSystemHandler(ping pingFunc) *SystemHandler {
	return NewSystemHandler(ping, func() *openapi3.T {
		return openapi.Generate(openapi.Options{})
	})
}

func TestHealthz(t *testing.T) {
	h := newSystemHandler(func(context.Context) error { return errors.New("down") })

	rr := serve(http.HandlerFunc(h.Healthz), "GET", "/healthz", nil)
	assertStatus(t, rr, http.StatusOK)
}

func TestReadyz(t *testing.T) {
	up := newSystemHandler(func(context.Context) error { return nil })
	rr := serve(http.HandlerFunc(up.Readyz), "GET", "/readyz", nil)
	assertStatus(t, rr, http.StatusOK)

	down := newSystemHandler(func(context.Context) error { return errors.New("connection refused") })
	rr = serve(http.HandlerFunc(down.Readyz), "GET", "/readyz", nil)
	assertStatus(t, rr, http.StatusServiceUnavailable)

	var body map[string]string
	decodeJSON(t, rr, &body)
	if body["status"] != "unavailable" || body["error"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestOpenAPI(t *testing.T) {
	h := newSystemHandler(func(context.Context) error { return nil })

	for i := 0; i < 2; i++ {
		rr := serve(http.HandlerFunc(h.OpenAPI), "GET", "/openapi.json", nil)
		assertStatus(t, rr, http.StatusOK)
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if _, ok := doc["paths"].(map[string]interface{})[openapi.PathNewKey]; !ok {
			t.Error("missing NEW path")
		}
	}
}

func TestSecureReportsKeyPrefix(t *testing.T) {
	h := newSystemHandler(nil)
	gate := middleware.RequireAPIKey(staticAuth("0123456789abcdef"), "api-key")

	rr := serve(gate(http.HandlerFunc(h.Secure)), "GET", "/api/v1/secure?api-key=0123456789abcdef", nil)
	assertStatus(t, rr, http.StatusOK)

	var body map[string]string
	decodeJSON(t, rr, &body)
	if body["api_key_prefix"] != "01234567" {
		t.Errorf("api_key_prefix = %q", body["api_key_prefix"])
	}
}

func TestUnsecure(t *testing.T) {
	h := newSystemHandler(nil)
	rr := serve(http.HandlerFunc(h.Unsecure), "GET", "/api/v1/unsecure", nil)
	assertStatus(t, rr, http.StatusOK)

	var body map[string]string
	decodeJSON(t, rr, &body)
	if body["message"] != "Hello World" {
		t.Errorf("message = %q", body["message"])
	}
}

// staticAuth accepts exactly one key.
type staticAuth string

func (s staticAuth) Authenticate(ctx context.Context, queryKey, headerKey string) (string, error) {
	if queryKey == string(s) || headerKey == string(s) {
		return string(s), nil
	}
	return "", errors.New("rejected")
}
