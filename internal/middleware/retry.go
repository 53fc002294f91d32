package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/securemcp/mcpcore/internal/log"
	"github.com/securemcp/mcpcore/internal/security"
)

// Retry re-runs the downstream chain for transient failures: timeouts
// and 5xx upstream responses. Policy rejections, validation errors and
// 4xx responses are never retried, a second attempt cannot change the
// verdict.
type Retry struct {
	logger      log.Logger
	maxAttempts int
	baseDelay   time.Duration
}

// NewRetry creates the retry middleware. maxAttempts counts the first
// try, so maxAttempts=3 means at most two retries.
func NewRetry(logger log.Logger, maxAttempts int) *Retry {
	return &Retry{
		logger:      logger,
		maxAttempts: maxAttempts,
		baseDelay:   200 * time.Millisecond,
	}
}

// Name implements Middleware.
func (m *Retry) Name() string { return "retry" }

// OnCallTool implements CallToolHook. Only tool calls are retried.
func (m *Retry) OnCallTool(ctx context.Context, req *Request, next Handler) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		result, err := next(ctx, req)
		if err == nil {
			return result, nil
		}
		if !retryable(err) {
			return result, err
		}
		lastErr = err

		if attempt == m.maxAttempts {
			break
		}
		delay := m.baseDelay * time.Duration(1<<(attempt-1))
		m.logger.WarnContext(ctx, "retrying after transient failure",
			"request_id", req.ID,
			"tool", req.Tool,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// retryable reports whether err is transient. Timeouts and retryable
// upstream errors qualify; everything else is final.
func retryable(err error) bool {
	var toErr *security.TimeoutError
	if errors.As(err, &toErr) {
		return true
	}
	var upErr *security.UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Retryable()
	}
	return false
}
