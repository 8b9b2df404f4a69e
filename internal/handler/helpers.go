package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/faucetdb/keygate/internal/credential"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// readJSON decodes the request body into v. An empty body leaves v untouched.
func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryBool extracts a boolean query parameter. Missing or unparsable values
// are false.
func queryBool(r *http.Request, key string) bool {
	b, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && b
}

func reason(r string) map[string]interface{} {
	return map[string]interface{}{"reason": r}
}

// writeServiceError maps a lifecycle error onto the HTTP error envelope.
// Store failures and unexpected errors are logged; client errors are not.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var weak *credential.WeakPasswordError

	switch {
	case errors.As(err, &weak):
		writeError(w, http.StatusBadRequest,
			capitalizeFirst(err.Error())+". You can use the suggested password instead or choose another one.",
			map[string]interface{}{
				"reason":     "weak_password",
				"rule":       weak.Reason,
				"suggestion": weak.Suggestion,
			})
	case errors.Is(err, credential.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest,
			"This is not a valid email address. Please input a valid email address.", reason("invalid_email"))
	case errors.Is(err, service.ErrUserExists):
		writeError(w, http.StatusConflict,
			"This user already exists in the database. Please choose another username or email.", reason("user_exists"))
	case errors.Is(err, service.ErrKeyNotFound):
		writeError(w, http.StatusNotFound, "API key not found", reason("key_not_found"))
	case errors.Is(err, service.ErrInvalidDate):
		writeError(w, http.StatusUnprocessableEntity,
			"The expiration date could not be parsed. Please use ISO 8601.", reason("invalid_date"))
	case errors.Is(err, service.ErrStoreUnavailable):
		logger.Error("key store unavailable", "op", op, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Key store unavailable", reason("store_unavailable"))
	default:
		logger.Error("request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", reason("internal"))
	}
}

func capitalizeFirst(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
