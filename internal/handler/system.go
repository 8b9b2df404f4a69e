package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/server/middleware"
)

// Pinger reports whether the key store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler serves health probes, the OpenAPI document and the demo
// endpoints of the example application.
type SystemHandler struct {
	store Pinger
	doc   func() *openapi3.T

	docOnce sync.Once
	docJSON []byte
	docErr  error
}

// NewSystemHandler creates a new SystemHandler. doc builds the OpenAPI
// document on first request.
func NewSystemHandler(store Pinger, doc func() *openapi3.T) *SystemHandler {
	return &SystemHandler{store: store, doc: doc}
}

// Healthz is a liveness probe. Returns 200 if the process is running.
// GET /healthz
func (h *SystemHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz is a readiness probe. Returns 503 when the key store is unreachable.
// GET /readyz
func (h *SystemHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// OpenAPI serves the OpenAPI document of the service.
// GET /openapi.json
func (h *SystemHandler) OpenAPI(w http.ResponseWriter, r *http.Request) {
	h.docOnce.Do(func() {
		h.docJSON, h.docErr = h.doc().MarshalJSON()
	})
	if h.docErr != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render OpenAPI document: "+h.docErr.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(h.docJSON)
}

// Secure is the demo endpoint behind the API key gate.
// GET /api/v1/secure
func (h *SystemHandler) Secure(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message":        "This is a secure endpoint",
		"api_key_prefix": model.KeyPrefix(middleware.GetAPIKey(r.Context())),
	})
}

// Unsecure is the demo endpoint open to everyone.
// GET /api/v1/unsecure
func (h *SystemHandler) Unsecure(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello World"})
}
