package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/faucetdb/keygate/internal/config"
	"github.com/faucetdb/keygate/internal/credential"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
	"github.com/faucetdb/keygate/internal/store"
	"github.com/faucetdb/keygate/internal/store/sqlite"
	"github.com/faucetdb/keygate/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const testSecret = "test-admin-secret"

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server  *Server
	store   store.Store
	keys    *service.KeyService
	metrics *telemetry.Metrics
}

// newTestEnv creates a fully wired Server over an in-memory store.
func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	st, err := sqlite.Open(context.Background(), store.ConnectionConfig{Driver: "sqlite"}, nil)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := telemetry.New()
	keys := service.NewKeyService(st, service.Options{
		Dispatcher: service.SyncDispatcher{},
		Logger:     logger,
		Metrics:    metrics,
		Policy:     credential.Policy{Cost: bcrypt.MinCost},
	})

	cfg := DefaultConfig()
	cfg.Secret = testSecret
	cfg.Version = "test"
	for _, m := range mutate {
		m(&cfg)
	}

	return &testEnv{
		server:  New(cfg, keys, metrics, logger),
		store:   st,
		keys:    keys,
		metrics: metrics,
	}
}

// do executes an HTTP request against the test server and returns the recorder.
// headers is an optional map of header key-value pairs.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doAdmin executes a request carrying the administrative secret.
func (e *testEnv) doAdmin(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{"secret-key": testSecret})
}

// doAPIKey executes a request carrying key in the api-key header.
func (e *testEnv) doAPIKey(t *testing.T, method, path, key string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, nil, map[string]string{"api-key": key})
}

// issue creates a key through the admin API and returns it.
func (e *testEnv) issue(t *testing.T, body interface{}) string {
	t.Helper()
	rr := e.doAdmin(t, "POST", "/api/v1/auth/new", jsonBody(t, body))
	assertStatus(t, rr, http.StatusCreated)
	var resp struct {
		APIKey string `json:"api_key"`
	}
	decodeJSON(t, rr, &resp)
	if resp.APIKey == "" {
		t.Fatal("issue: got empty api_key")
	}
	return resp.APIKey
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return bytes.NewBuffer(b)
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func assertContentType(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	got := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(got, want) {
		t.Errorf("Content-Type = %q, want prefix %q", got, want)
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v; body = %s", err, rr.Body.String())
	}
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) model.ErrorDetail {
	t.Helper()
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	return resp.Error
}

// ---------------------------------------------------------------------------
// Probes
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	env.store.Close()
	rr = env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusServiceUnavailable)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/healthz", nil, nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header")
	}
}

// ---------------------------------------------------------------------------
// Administrative secret
// ---------------------------------------------------------------------------

func TestAdminRoutesRequireSecret(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/auth/new"},
		{"GET", "/api/v1/auth/new"},
		{"POST", "/api/v1/auth/revoke?api-key=x"},
		{"POST", "/api/v1/auth/renew?api-key=x"},
		{"GET", "/api/v1/auth/logs"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rr := env.do(t, rt.method, rt.path, nil, nil)
			assertStatus(t, rr, http.StatusForbidden)
			if got := decodeError(t, rr).Context["reason"]; got != "missing_secret" {
				t.Errorf("reason = %v, want missing_secret", got)
			}

			rr = env.do(t, rt.method, rt.path, nil, map[string]string{"secret-key": "wrong"})
			assertStatus(t, rr, http.StatusForbidden)
			if got := decodeError(t, rr).Context["reason"]; got != "wrong_secret" {
				t.Errorf("reason = %v, want wrong_secret", got)
			}
		})
	}
}

func TestCustomSecretHeaderAndKeyName(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.SecretHeader = "x-admin"
		c.APIKeyName = "token"
	})

	rr := env.do(t, "POST", "/api/v1/auth/new", nil, map[string]string{"x-admin": testSecret})
	assertStatus(t, rr, http.StatusCreated)
	var resp struct {
		APIKey string `json:"api_key"`
	}
	decodeJSON(t, rr, &resp)

	rr = env.do(t, "GET", "/api/v1/secure?token="+resp.APIKey, nil, nil)
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "POST", "/api/v1/auth/revoke?token="+resp.APIKey, nil, map[string]string{"x-admin": testSecret})
	assertStatus(t, rr, http.StatusOK)
}

// ---------------------------------------------------------------------------
// Full workflow: issue -> use -> revoke -> renew -> logs
// ---------------------------------------------------------------------------

func TestFullWorkflow(t *testing.T) {
	env := newTestEnv(t)

	key := env.issue(t, map[string]interface{}{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "Str0ng#Pass",
	})

	// Header and query both authenticate.
	rr := env.doAPIKey(t, "GET", "/api/v1/secure", key)
	assertStatus(t, rr, http.StatusOK)
	var secure map[string]string
	decodeJSON(t, rr, &secure)
	if secure["api_key_prefix"] != key[:8] {
		t.Errorf("api_key_prefix = %q, want %q", secure["api_key_prefix"], key[:8])
	}
	rr = env.do(t, "GET", "/api/v1/secure?api-key="+key, nil, nil)
	assertStatus(t, rr, http.StatusOK)

	// Revoke blocks access.
	rr = env.doAdmin(t, "POST", "/api/v1/auth/revoke?api-key="+key, nil)
	assertStatus(t, rr, http.StatusOK)
	rr = env.doAPIKey(t, "GET", "/api/v1/secure", key)
	assertStatus(t, rr, http.StatusForbidden)
	if got := decodeError(t, rr).Context["reason"]; got != "invalid_api_key" {
		t.Errorf("reason = %v, want invalid_api_key", got)
	}

	// Renew reactivates.
	rr = env.doAdmin(t, "POST", "/api/v1/auth/renew?api-key="+key+"&expiration-date=2099-12-31", nil)
	assertStatus(t, rr, http.StatusOK)
	var renew struct {
		Message        string `json:"message"`
		ExpirationDate string `json:"expiration_date"`
		Reactivated    bool   `json:"reactivated"`
	}
	decodeJSON(t, rr, &renew)
	if !renew.Reactivated || renew.ExpirationDate != "2099-12-31T00:00:00" {
		t.Errorf("renew = %+v", renew)
	}
	rr = env.doAPIKey(t, "GET", "/api/v1/secure", key)
	assertStatus(t, rr, http.StatusOK)

	// Three successful validations are counted.
	rr = env.doAdmin(t, "GET", "/api/v1/auth/logs", nil)
	assertStatus(t, rr, http.StatusOK)
	var logs model.UsageLogs
	decodeJSON(t, rr, &logs)
	if len(logs.Logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(logs.Logs))
	}
	entry := logs.Logs[0]
	if entry.TotalQueries != 3 {
		t.Errorf("total_queries = %d, want 3", entry.TotalQueries)
	}
	if entry.LatestQueryDate == nil {
		t.Error("expected latest_query_date to be set")
	}
	if entry.State != model.KeyStateActive || entry.Username != "alice" {
		t.Errorf("log entry = %+v", entry)
	}
}

func TestGetAliases(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doAdmin(t, "GET", "/api/v1/auth/new?username=bob&never_expires=true", nil)
	assertStatus(t, rr, http.StatusCreated)
	var resp struct {
		APIKey string `json:"api_key"`
	}
	decodeJSON(t, rr, &resp)

	rec, err := env.store.FindByKey(context.Background(), resp.APIKey)
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if rec.OwnerName != "bob" || !rec.NeverExpire {
		t.Errorf("record = %+v", rec)
	}

	rr = env.doAdmin(t, "GET", "/api/v1/auth/revoke?api-key="+resp.APIKey, nil)
	assertStatus(t, rr, http.StatusOK)
	rr = env.doAdmin(t, "GET", "/api/v1/auth/renew?api-key="+resp.APIKey, nil)
	assertStatus(t, rr, http.StatusOK)
}

func TestSecureRequiresKey(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/secure", nil, nil)
	assertStatus(t, rr, http.StatusForbidden)
	if got := decodeError(t, rr).Context["reason"]; got != "missing_api_key" {
		t.Errorf("reason = %v, want missing_api_key", got)
	}

	rr = env.doAPIKey(t, "GET", "/api/v1/secure", "not-a-key")
	assertStatus(t, rr, http.StatusForbidden)
}

func TestUnsecure(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/api/v1/unsecure", nil, nil)
	assertStatus(t, rr, http.StatusOK)
}

func TestDuplicateOwner(t *testing.T) {
	env := newTestEnv(t)
	env.issue(t, map[string]string{"username": "alice"})

	rr := env.doAdmin(t, "POST", "/api/v1/auth/new", jsonBody(t, map[string]string{"username": "alice"}))
	assertStatus(t, rr, http.StatusConflict)
}

func TestErrorResponseFormat(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doAdmin(t, "POST", "/api/v1/auth/revoke?api-key=does-not-exist", nil)
	assertStatus(t, rr, http.StatusNotFound)
	assertContentType(t, rr, "application/json")

	var raw map[string]map[string]interface{}
	decodeJSON(t, rr, &raw)
	errObj, ok := raw["error"]
	if !ok {
		t.Fatal("expected error envelope")
	}
	if errObj["code"] != float64(http.StatusNotFound) {
		t.Errorf("code = %v, want 404", errObj["code"])
	}
	if _, ok := errObj["message"].(string); !ok {
		t.Errorf("message = %v, want string", errObj["message"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doAdmin(t, "PUT", "/api/v1/auth/new", nil)
	assertStatus(t, rr, http.StatusMethodNotAllowed)
}

func TestInvalidJSONBody(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doAdmin(t, "POST", "/api/v1/auth/new", strings.NewReader("{not json"))
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxBodySize = 64 })
	big := `{"username":"` + strings.Repeat("a", 256) + `"}`
	rr := env.doAdmin(t, "POST", "/api/v1/auth/new", strings.NewReader(big))
	if rr.Code != http.StatusBadRequest && rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 400 or 413", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Documents and metrics
// ---------------------------------------------------------------------------

func TestOpenAPISpec(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var doc struct {
		OpenAPI string                 `json:"openapi"`
		Paths   map[string]interface{} `json:"paths"`
	}
	decodeJSON(t, rr, &doc)
	if !strings.HasPrefix(doc.OpenAPI, "3.") {
		t.Errorf("openapi = %q", doc.OpenAPI)
	}
	if _, ok := doc.Paths["/api/v1/auth/new"]; !ok {
		t.Error("expected admin paths in the document")
	}
}

func TestOpenAPIHideDocs(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.HideDocs = true })
	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	if strings.Contains(rr.Body.String(), "/api/v1/auth/") {
		t.Error("admin paths should be hidden")
	}

	// Hiding docs does not disable the routes.
	rr = env.doAdmin(t, "POST", "/api/v1/auth/new", nil)
	assertStatus(t, rr, http.StatusCreated)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	key := env.issue(t, nil)
	env.doAPIKey(t, "GET", "/api/v1/secure", key)

	rr := env.do(t, "GET", "/metrics", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	for _, want := range []string{
		"keygate_keys_issued_total 1",
		`keygate_validations_total{result="valid"} 1`,
		`path="/api/v1/secure"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if strings.Contains(body, key) {
		t.Error("metrics output must not contain raw keys")
	}
}

// ---------------------------------------------------------------------------
// CORS
// ---------------------------------------------------------------------------

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "OPTIONS", "/api/v1/secure", nil, map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Method":  "GET",
		"Access-Control-Request-Headers": "api-key",
	})
	if rr.Code < 200 || rr.Code >= 300 {
		t.Errorf("CORS preflight status = %d, want 2xx", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected Access-Control-Allow-Origin header")
	}
}

// ---------------------------------------------------------------------------
// MCP
// ---------------------------------------------------------------------------

func initializeBody(t *testing.T) *bytes.Buffer {
	return jsonBody(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]interface{}{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]interface{}{},
			"clientInfo": map[string]interface{}{
				"name":    "test",
				"version": "1.0",
			},
		},
	})
}

func TestMCPEndpoint_RequiresSecret(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "POST", "/mcp", initializeBody(t), nil)
	assertStatus(t, rr, http.StatusForbidden)
}

func TestMCPEndpoint_WithSecret(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "POST", "/mcp", initializeBody(t), map[string]string{
		"secret-key": testSecret,
		"Accept":     "application/json, text/event-stream",
	})
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v, want 2.0", resp["jsonrpc"])
	}
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected result in JSON-RPC response, got %v", resp)
	}
	serverInfo, _ := result["serverInfo"].(map[string]interface{})
	if serverInfo["name"] != "keygate" {
		t.Errorf("serverInfo.name = %v, want keygate", serverInfo["name"])
	}
}

func TestMCPEndpoint_InvalidMethod(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doAdmin(t, "PATCH", "/mcp", nil)
	if rr.Code == http.StatusOK {
		t.Errorf("PATCH /mcp should not return 200, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Configuration and lifecycle
// ---------------------------------------------------------------------------

func TestConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 9090
	cfg.Auth.HideDocs = true
	cfg.Auth.APIKeyName = "token"

	got := ConfigFrom(cfg, "s3cret", "1.2.3")
	if got.Port != 9090 || !got.HideDocs || got.APIKeyName != "token" {
		t.Errorf("ConfigFrom = %+v", got)
	}
	if got.Secret != "s3cret" || got.Version != "1.2.3" {
		t.Errorf("secret/version not carried: %+v", got)
	}
	if got.SecretHeader != "secret-key" {
		t.Errorf("SecretHeader = %q", got.SecretHeader)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Host = "127.0.0.1"
		c.Port = 0
	})
	var hooks []string
	env.server.OnShutdown(func() { hooks = append(hooks, "wait") })
	env.server.OnShutdown(func() { hooks = append(hooks, "close") })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := env.server.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Join(hooks, ",") != "wait,close" {
		t.Errorf("hooks = %v, want [wait close]", hooks)
	}
}
