package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/faucetdb/keygate/internal/credential"
	"github.com/faucetdb/keygate/internal/service"
)

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || val == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

func optionalBool(request mcp.CallToolRequest, key string) bool {
	return request.GetBool(key, false)
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. It is visible to the client
// and does not terminate the session.
func toolError(format string, args ...any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError turns a lifecycle error into a tool error the client can act
// on. Store failures are logged and reported without driver detail.
func serviceError(logger *slog.Logger, op string, err error) (*mcp.CallToolResult, error) {
	var weak *credential.WeakPasswordError
	switch {
	case errors.As(err, &weak):
		return toolError("%s. Suggested password: %s", weak.Error(), weak.Suggestion)
	case errors.Is(err, credential.ErrInvalidEmail):
		return toolError("invalid email address")
	case errors.Is(err, service.ErrUserExists):
		return toolError("an API key already exists for this username or email")
	case errors.Is(err, service.ErrKeyNotFound):
		return toolError("API key not found")
	case errors.Is(err, service.ErrInvalidDate):
		return toolError("invalid expiration date, expected ISO-8601 such as 2026-01-31 or 2026-01-31T12:00:00")
	case errors.Is(err, service.ErrStoreUnavailable):
		logger.Error("mcp tool failed", "tool", op, "error", err)
		return toolError("key store unavailable")
	default:
		logger.Error("mcp tool failed", "tool", op, "error", err)
		return toolError("%s failed", op)
	}
}
