package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
)

// Tool names.
const (
	ToolIssueKey   = "keygate_issue_key"
	ToolRevokeKey  = "keygate_revoke_key"
	ToolRenewKey   = "keygate_renew_key"
	ToolCheckKey   = "keygate_check_key"
	ToolUsageStats = "keygate_usage_stats"
)

func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool(ToolIssueKey,
			mcp.WithDescription(
				"Issue a new API key. Owner metadata is optional; when a username or "+
					"email is given it must not already own a key. A password, when given, "+
					"must have at least 9 characters including a digit, an uppercase letter "+
					"and a special character.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation(false)),
			mcp.WithString("username", mcp.Description("Owner name")),
			mcp.WithString("email", mcp.Description("Owner email address")),
			mcp.WithString("password", mcp.Description("Owner password, stored as a bcrypt hash")),
			mcp.WithBoolean("never_expires", mcp.Description("Create a key that never expires")),
		),
		s.handleIssueKey,
	)

	srv.AddTool(
		mcp.NewTool(ToolRevokeKey,
			mcp.WithDescription("Revoke an API key. Revoking an already revoked key succeeds."),
			mcp.WithToolAnnotation(mutatingAnnotation(true)),
			mcp.WithString("api_key", mcp.Required(), mcp.Description("The key to revoke")),
		),
		s.handleRevokeKey,
	)

	srv.AddTool(
		mcp.NewTool(ToolRenewKey,
			mcp.WithDescription(
				"Renew an API key and reactivate it if it was revoked. Without an "+
					"expiration date the key is renewed for the configured window.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation(false)),
			mcp.WithString("api_key", mcp.Required(), mcp.Description("The key to renew")),
			mcp.WithString("expiration_date",
				mcp.Description("New expiration date, ISO-8601 (e.g. 2026-01-31 or 2026-01-31T12:00:00)"),
			),
		),
		s.handleRenewKey,
	)

	srv.AddTool(
		mcp.NewTool(ToolCheckKey,
			mcp.WithDescription(
				"Report whether an API key is active, expired or revoked. Checking a "+
					"key does not count as a use.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("api_key", mcp.Required(), mcp.Description("The key to check")),
		),
		s.handleCheckKey,
	)

	srv.AddTool(
		mcp.NewTool(ToolUsageStats,
			mcp.WithDescription(
				"List every API key with its state, expiration date, last use and total "+
					"number of uses, most recently used first.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleUsageStats,
	)
}

func (s *MCPServer) handleIssueKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := s.keys.Issue(ctx, service.IssueRequest{
		OwnerName:   optionalString(request, "username"),
		OwnerEmail:  optionalString(request, "email"),
		Password:    optionalString(request, "password"),
		NeverExpire: optionalBool(request, "never_expires"),
	})
	if err != nil {
		return serviceError(s.logger, ToolIssueKey, err)
	}
	return successJSON(map[string]string{"api_key": key})
}

func (s *MCPServer) handleRevokeKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "api_key")
	if err != nil {
		return toolError("%v", err)
	}
	if err := s.keys.Revoke(ctx, key); err != nil {
		return serviceError(s.logger, ToolRevokeKey, err)
	}
	return successJSON(map[string]any{
		"success": true,
		"message": "API key revoked",
	})
}

func (s *MCPServer) handleRenewKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "api_key")
	if err != nil {
		return toolError("%v", err)
	}
	result, err := s.keys.Renew(ctx, key, optionalString(request, "expiration_date"))
	if err != nil {
		return serviceError(s.logger, ToolRenewKey, err)
	}
	return successJSON(map[string]any{
		"message":         result.Message,
		"expiration_date": model.ISOSeconds(result.ExpirationDate),
		"reactivated":     result.Reactivated,
	})
}

func (s *MCPServer) handleCheckKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "api_key")
	if err != nil {
		return toolError("%v", err)
	}
	rec, err := s.keys.Lookup(ctx, key)
	if err != nil {
		return serviceError(s.logger, ToolCheckKey, err)
	}
	log := model.NewUsageLog(*rec, s.now())
	return successJSON(map[string]any{
		"valid":           log.State == model.KeyStateActive,
		"state":           log.State,
		"never_expire":    log.NeverExpire,
		"expiration_date": log.ExpirationDate,
	})
}

func (s *MCPServer) handleUsageStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logs, err := s.usageLogs(ctx)
	if err != nil {
		return serviceError(s.logger, ToolUsageStats, err)
	}
	return successJSON(logs)
}

func (s *MCPServer) usageLogs(ctx context.Context) (model.UsageLogs, error) {
	records, err := s.keys.UsageStats(ctx)
	if err != nil {
		return model.UsageLogs{}, err
	}
	now := s.now()
	logs := model.UsageLogs{Logs: make([]model.UsageLog, 0, len(records))}
	for _, rec := range records {
		logs.Logs = append(logs.Logs, model.NewUsageLog(rec, now))
	}
	return logs, nil
}
