// Package mcp exposes the key lifecycle operations as MCP tools so an
// operator's agent can issue, revoke, renew and inspect keys.
package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
)

// KeyManager is the part of the lifecycle engine the MCP tools drive.
type KeyManager interface {
	Issue(ctx context.Context, req service.IssueRequest) (string, error)
	Lookup(ctx context.Context, key string) (*model.KeyRecord, error)
	Revoke(ctx context.Context, key string) error
	Renew(ctx context.Context, key, date string) (*service.RenewResult, error)
	UsageStats(ctx context.Context) ([]model.KeyRecord, error)
}

// MCPServer wraps the mcp-go server with the keygate tools and resources.
// Every tool is administrative: whoever can reach the transport can manage
// keys, so the HTTP transport must sit behind the admin secret.
type MCPServer struct {
	keys   KeyManager
	logger *slog.Logger
	now    func() time.Time
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer with all tools and resources registered.
func NewMCPServer(keys KeyManager, version string, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if version == "" {
		version = "dev"
	}
	s := &MCPServer{
		keys:   keys,
		logger: logger,
		now:    time.Now,
	}

	mcpServer := server.NewMCPServer(
		"keygate",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go server.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// Handler returns a Streamable HTTP handler for mounting in a router.
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

// ServeHTTP starts a standalone Streamable HTTP listener on addr.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation(idempotent bool) mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:   boolPtr(false),
		IdempotentHint: boolPtr(idempotent),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
