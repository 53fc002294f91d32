package middleware

import (
	"context"

	"github.com/securemcp/mcpcore/internal/log"
)

// Logging emits one line when a message enters the chain and one when
// it leaves. Payloads are excluded unless explicitly enabled, tool
// arguments routinely contain paths and URLs that do not belong in
// shared log storage.
type Logging struct {
	logger          log.Logger
	includePayloads bool
}

// NewLogging creates the request logging middleware.
func NewLogging(logger log.Logger, includePayloads bool) *Logging {
	return &Logging{logger: logger, includePayloads: includePayloads}
}

// Name implements Middleware.
func (m *Logging) Name() string { return "logging" }

// OnMessage implements MessageHook.
func (m *Logging) OnMessage(ctx context.Context, req *Request, next Handler) (any, error) {
	attrs := []any{
		"request_id", req.ID,
		"method", req.Method,
		"tool", req.Tool,
		"transport", req.Transport,
	}
	if m.includePayloads && req.Arguments != nil {
		attrs = append(attrs, "arguments", req.Arguments)
	}
	m.logger.InfoContext(ctx, "request received", attrs...)

	result, err := next(ctx, req)

	done := []any{
		"request_id", req.ID,
		"method", req.Method,
		"tool", req.Tool,
		"duration_ms", req.Elapsed().Milliseconds(),
	}
	if err != nil {
		done = append(done, "error", err.Error())
		m.logger.WarnContext(ctx, "request failed", done...)
		return result, err
	}
	m.logger.InfoContext(ctx, "request completed", done...)
	return result, nil
}
