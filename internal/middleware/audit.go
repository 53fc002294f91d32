package middleware

import (
	"context"

	"github.com/securemcp/mcpcore/internal/log"
)

// sensitiveTools are the tools whose invocations always produce an
// audit record, success or failure.
var sensitiveTools = map[string]bool{
	"read_file":   true,
	"write_file":  true,
	"delete_file": true,
	"fetch_url":   true,
	"fetch_json":  true,
}

// sensitiveParams are argument keys whose values are redacted in audit
// records.
var sensitiveParams = map[string]bool{
	"password": true,
	"token":    true,
	"secret":   true,
	"api_key":  true,
	"content":  true,
}

// Audit writes a structured audit record for every security-sensitive
// tool call: who asked for what, with which (sanitised) arguments, and
// whether policy allowed it.
type Audit struct {
	logger log.Logger
}

// NewAudit creates the audit middleware.
func NewAudit(logger log.Logger) *Audit {
	return &Audit{logger: logger}
}

// Name implements Middleware.
func (m *Audit) Name() string { return "audit" }

// OnCallTool implements CallToolHook.
func (m *Audit) OnCallTool(ctx context.Context, req *Request, next Handler) (any, error) {
	result, err := next(ctx, req)

	if !sensitiveTools[req.Tool] {
		return result, err
	}

	record := []any{
		"request_id", req.ID,
		"tool", req.Tool,
		"transport", req.Transport,
		"source", req.Source,
		"arguments", sanitizeArguments(req.Arguments),
		"allowed", err == nil,
	}
	if err != nil {
		record = append(record, "denial_reason", err.Error())
	}
	m.logger.InfoContext(ctx, "audit", record...)
	return result, err
}

// sanitizeArguments returns a copy with sensitive values redacted and
// oversized string values truncated. The original map is not modified.
func sanitizeArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	const maxValueLen = 256

	out := make(map[string]any, len(args))
	for key, value := range args {
		if sensitiveParams[key] {
			out[key] = "[REDACTED]"
			continue
		}
		if s, ok := value.(string); ok && len(s) > maxValueLen {
			out[key] = s[:maxValueLen] + "...[truncated]"
			continue
		}
		out[key] = value
	}
	return out
}
