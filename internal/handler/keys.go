package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
)

// KeyManager is the part of the lifecycle engine the administrative
// endpoints drive.
type KeyManager interface {
	Issue(ctx context.Context, req service.IssueRequest) (string, error)
	Revoke(ctx context.Context, key string) error
	Renew(ctx context.Context, key, date string) (*service.RenewResult, error)
	UsageStats(ctx context.Context) ([]model.KeyRecord, error)
}

// KeyHandler serves the administrative key endpoints: NEW, REVOKE, RENEW
// and LOGS. Routes must be gated by the administrative secret.
type KeyHandler struct {
	keys       KeyManager
	apiKeyName string
	logger     *slog.Logger
	now        func() time.Time
}

// NewKeyHandler creates a new KeyHandler. apiKeyName is the query parameter
// carrying the key on REVOKE and RENEW.
func NewKeyHandler(keys KeyManager, apiKeyName string, logger *slog.Logger) *KeyHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &KeyHandler{
		keys:       keys,
		apiKeyName: apiKeyName,
		logger:     logger,
		now:        time.Now,
	}
}

// newKeyRequest is the payload of the NEW endpoint. Every field is optional.
type newKeyRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	NeverExpires bool   `json:"never_expires"`
}

type newKeyResponse struct {
	APIKey string `json:"api_key"`
}

type revokeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type renewResponse struct {
	Message        string `json:"message"`
	ExpirationDate string `json:"expiration_date"`
	Reactivated    bool   `json:"reactivated"`
}

// Create issues a new API key. Owner metadata comes from a JSON body or, when
// there is none, from query parameters.
// POST /api/v1/auth/new
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	req := newKeyRequest{
		Username:     queryString(r, "username"),
		Email:        queryString(r, "email"),
		Password:     queryString(r, "password"),
		NeverExpires: queryBool(r, "never_expires"),
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), reason("invalid_body"))
		return
	}

	key, err := h.keys.Issue(r.Context(), service.IssueRequest{
		OwnerName:   req.Username,
		OwnerEmail:  req.Email,
		Password:    req.Password,
		NeverExpire: req.NeverExpires,
	})
	if err != nil {
		writeServiceError(w, h.logger, "issue", err)
		return
	}

	writeJSON(w, http.StatusCreated, newKeyResponse{APIKey: key})
}

// Revoke deactivates a key. Revoking a revoked key succeeds.
// POST /api/v1/auth/revoke?api-key=
func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	key := queryString(r, h.apiKeyName)
	if key == "" {
		writeError(w, http.StatusBadRequest, "Query parameter "+h.apiKeyName+" is required", reason("missing_api_key"))
		return
	}

	if err := h.keys.Revoke(r.Context(), key); err != nil {
		writeServiceError(w, h.logger, "revoke", err)
		return
	}

	writeJSON(w, http.StatusOK, revokeResponse{
		Success: true,
		Message: "API key revoked",
	})
}

// Renew pushes the expiration date of a key and reactivates it.
// POST /api/v1/auth/renew?api-key=&expiration-date=
func (h *KeyHandler) Renew(w http.ResponseWriter, r *http.Request) {
	key := queryString(r, h.apiKeyName)
	if key == "" {
		writeError(w, http.StatusBadRequest, "Query parameter "+h.apiKeyName+" is required", reason("missing_api_key"))
		return
	}

	res, err := h.keys.Renew(r.Context(), key, queryString(r, "expiration-date"))
	if err != nil {
		writeServiceError(w, h.logger, "renew", err)
		return
	}

	writeJSON(w, http.StatusOK, renewResponse{
		Message:        res.Message,
		ExpirationDate: model.ISOSeconds(res.ExpirationDate),
		Reactivated:    res.Reactivated,
	})
}

// Logs returns the usage statistics of every key.
// GET /api/v1/auth/logs
func (h *KeyHandler) Logs(w http.ResponseWriter, r *http.Request) {
	records, err := h.keys.UsageStats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "usage stats", err)
		return
	}

	now := h.now()
	logs := make([]model.UsageLog, 0, len(records))
	for _, rec := range records {
		logs = append(logs, model.NewUsageLog(rec, now))
	}
	writeJSON(w, http.StatusOK, model.UsageLogs{Logs: logs})
}
