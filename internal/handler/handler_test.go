package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/faucetdb/keygate/internal/credential"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
	"github.com/faucetdb/keygate/internal/store"
	"github.com/faucetdb/keygate/internal/store/sqlite"
)

// testEnv holds shared state for handler tests.
type testEnv struct {
	store  store.Store
	keys   *service.KeyService
	router chi.Router
}

// newTestEnv creates a key service over an in-memory store and mounts the
// key routes without the secret gate.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.Open(context.Background(), store.ConnectionConfig{Driver: "sqlite"}, nil)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	keys := service.NewKeyService(st, service.Options{
		Dispatcher: service.SyncDispatcher{},
		Policy:     credential.Policy{Cost: bcrypt.MinCost},
	})

	return &testEnv{
		store:  st,
		keys:   keys,
		router: newKeyRouter(NewKeyHandler(keys, "api-key", nil)),
	}
}

func newKeyRouter(h *KeyHandler) chi.Router {
	r := chi.NewRouter()
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/new", h.Create)
		r.Post("/revoke", h.Revoke)
		r.Post("/renew", h.Renew)
		r.Get("/logs", h.Logs)
	})
	return r
}

// issue creates a key through the HTTP surface and returns it.
func (e *testEnv) issue(t *testing.T, body interface{}) string {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/auth/new", toJSON(t, body))
	assertStatus(t, rr, http.StatusCreated)
	var resp newKeyResponse
	decodeJSON(t, rr, &resp)
	if resp.APIKey == "" {
		t.Fatal("expected a non-empty api_key")
	}
	return resp.APIKey
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	return serve(e.router, method, path, body)
}

func serve(h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) model.ErrorDetail {
	t.Helper()
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	return resp.Error
}

// failingKeys is a KeyManager whose every call fails with err.
type failingKeys struct{ err error }

func (f failingKeys) Issue(context.Context, service.IssueRequest) (string, error) { return "", f.err }
func (f failingKeys) Revoke(context.Context, string) error                        { return f.err }
func (f failingKeys) Renew(context.Context, string, string) (*service.RenewResult, error) {
	return nil, f.err
}
func (f failingKeys) UsageStats(context.Context) ([]model.KeyRecord, error) { return nil, f.err }

var errDriver = errors.New("dial tcp 10.0.0.5:5432: connection refused")

func storeDown() error {
	return fmt.Errorf("%w: find key: %w", service.ErrStoreUnavailable, errDriver)
}
