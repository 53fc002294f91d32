package mcp

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/securemcp/mcpcore/internal/middleware"
)

// FetchURLInput is the input schema for fetch_url.
type FetchURLInput struct {
	URL string `json:"url" jsonschema:"URL to fetch. Must use an allowed scheme and resolve to a public address."`
}

// FetchJSONInput is the input schema for fetch_json.
type FetchJSONInput struct {
	URL string `json:"url" jsonschema:"URL returning JSON. Must use an allowed scheme and resolve to a public address."`
}

// registerNetworkTools registers fetch_url and fetch_json.
func (s *Server) registerNetworkTools() error {
	fetchSchema, err := jsonschema.For[FetchURLInput](nil)
	if err != nil {
		return fmt.Errorf("schema for fetch_url: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "fetch_url",
		Description: "Fetch the content of a URL. Private, loopback and link-local targets are blocked.",
		InputSchema: fetchSchema,
	}, s.handleFetchURL)

	jsonSchema, err := jsonschema.For[FetchJSONInput](nil)
	if err != nil {
		return fmt.Errorf("schema for fetch_json: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "fetch_json",
		Description: "Fetch a URL and decode the response as JSON. Private, loopback and link-local targets are blocked.",
		InputSchema: jsonSchema,
	}, s.handleFetchJSON)

	return nil
}

func (s *Server) handleFetchURL(ctx context.Context, req *mcp.CallToolRequest, in FetchURLInput) (*mcp.CallToolResult, any, error) {
	result, err := s.dispatch(ctx, req, "fetch_url", map[string]any{"url": in.URL},
		func(ctx context.Context, r *middleware.Request) (any, error) {
			fetched, err := s.fetcher.Fetch(ctx, in.URL)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"url":          fetched.FinalURL,
				"status_code":  fetched.StatusCode,
				"content_type": fetched.ContentType,
				"size":         len(fetched.Body),
				"body":         string(fetched.Body),
			}, nil
		})
	if err != nil {
		return errorToMCP(err, s.logger), nil, nil
	}
	return dataToMCP(result, s.logger), nil, nil
}

func (s *Server) handleFetchJSON(ctx context.Context, req *mcp.CallToolRequest, in FetchJSONInput) (*mcp.CallToolResult, any, error) {
	result, err := s.dispatch(ctx, req, "fetch_json", map[string]any{"url": in.URL},
		func(ctx context.Context, r *middleware.Request) (any, error) {
			decoded, err := s.fetcher.FetchJSON(ctx, in.URL)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"url":  in.URL,
				"data": decoded,
			}, nil
		})
	if err != nil {
		return errorToMCP(err, s.logger), nil, nil
	}
	return dataToMCP(result, s.logger), nil, nil
}
