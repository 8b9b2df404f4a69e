package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faucetdb/keygate/internal/mcp"
	"github.com/faucetdb/keygate/internal/service"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server exposing key management as tools:
issue, revoke, renew, check and usage statistics.

In stdio mode the server talks JSON-RPC over stdin/stdout and is meant to be
launched by an MCP client. In HTTP mode it listens for Streamable HTTP clients;
anyone who can reach that port can manage keys, so bind it carefully. The
main server also exposes MCP at /mcp behind the administrative secret.`,
		Example: `  keygate mcp                              # stdio mode
  keygate mcp --transport http --port 3001  # Streamable HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd.Context(), transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(ctx context.Context, transport string, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol in stdio mode; logs go to stderr.
	logger := newLogger(cfg, os.Stderr)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer st.Close()

	keys := newKeyService(st, cfg, service.SyncDispatcher{}, nil, logger)
	mcpSrv := mcp.NewMCPServer(keys, versionString(), logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
