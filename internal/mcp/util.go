package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/securemcp/mcpcore/internal/log"
	"github.com/securemcp/mcpcore/internal/middleware"
	"github.com/securemcp/mcpcore/internal/security"
)

// Error surface policy. Safe to expose:
//   - the policy reason code (controlled enum, e.g. "private_ip_blocked")
//   - policy error detail, which describes the caller's own request
//   - validation field names
//   - upstream status codes
//   - the request id carried by masked internal errors
//
// Never exposed: stack traces, internal file layout, environment
// details, or anything from an unexpected failure when masking is on.

// errorToMCP converts a chain error into a tool-level error result.
// Tool failures are results with IsError set, not protocol errors; the
// session stays usable.
func errorToMCP(err error, logger log.Logger) *mcp.CallToolResult {
	text := errorText(err)
	logger.Debug("tool call failed", "error", err.Error())
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

// errorText renders an error for the caller according to the surface
// policy above.
func errorText(err error) string {
	var secErr *security.SecurityError
	if errors.As(err, &secErr) {
		return fmt.Sprintf("[%s] %s", secErr.Reason, secErr.Detail)
	}
	var valErr *security.ValidationError
	if errors.As(err, &valErr) {
		return fmt.Sprintf("[validation_error] %s: %s", valErr.Field, valErr.Detail)
	}
	var toErr *security.TimeoutError
	if errors.As(err, &toErr) {
		return fmt.Sprintf("[timeout] %s exceeded %s", toErr.Op, toErr.Limit)
	}
	var upErr *security.UpstreamError
	if errors.As(err, &upErr) {
		return fmt.Sprintf("[upstream_error] status %d from %s", upErr.StatusCode, upErr.URL)
	}
	if errors.Is(err, middleware.ErrRateLimited) {
		return "[rate_limited] too many requests"
	}
	// InternalError.Error() is already masked when masking is on.
	return "[internal_error] " + err.Error()
}

// dataToMCP converts handler output to MCP text content via JSON. All
// data becomes JSON, clients parse it.
func dataToMCP(data any, logger log.Logger) *mcp.CallToolResult {
	if data == nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: ""}},
		}
	}

	b, err := json.Marshal(data)
	if err != nil {
		logger.Warn("marshaling tool result", "error", err)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "[internal_error] result serialization failed"}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}
}
