package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/keygate/internal/model"
)

const (
	keysResourceURI    = "keygate://keys"
	keyResourcePrefix  = keysResourceURI + "/"
	keyResourcePattern = keyResourcePrefix + "{api_key}"
)

// registerResources adds the read-only usage views.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			keysResourceURI,
			"API key usage",
			mcp.WithResourceDescription(
				"Usage log of every API key: state, expiration date, last use and total uses.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleKeysResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			keyResourcePattern,
			"API key",
			mcp.WithTemplateDescription("Usage log of a single API key."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleKeyResource,
	)
}

func (s *MCPServer) handleKeysResource(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	logs, err := s.usageLogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return jsonContents(keysResourceURI, logs)
}

func (s *MCPServer) handleKeyResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	key := strings.TrimPrefix(uri, keyResourcePrefix)
	if key == "" || key == uri {
		return nil, fmt.Errorf("invalid key URI %q: expected %s", uri, keyResourcePattern)
	}

	rec, err := s.keys.Lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", model.KeyPrefix(key), err)
	}
	return jsonContents(uri, model.NewUsageLog(*rec, s.now()))
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
