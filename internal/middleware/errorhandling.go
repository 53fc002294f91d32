package middleware

import (
	"context"
	"errors"

	"github.com/securemcp/mcpcore/internal/log"
	"github.com/securemcp/mcpcore/internal/security"
)

// ErrorHandling converts unexpected failures into masked internal
// errors while letting deliberate policy errors through untouched.
// Register it first so it wraps every other middleware.
type ErrorHandling struct {
	logger log.Logger
	mask   bool
}

// NewErrorHandling creates the error boundary middleware. When mask is
// true, internal error details are replaced with a generic message in
// the response; the full error is always logged server-side.
func NewErrorHandling(logger log.Logger, mask bool) *ErrorHandling {
	return &ErrorHandling{logger: logger, mask: mask}
}

// Name implements Middleware.
func (m *ErrorHandling) Name() string { return "error_handling" }

// OnMessage implements MessageHook.
func (m *ErrorHandling) OnMessage(ctx context.Context, req *Request, next Handler) (any, error) {
	result, err := next(ctx, req)
	if err == nil {
		return result, nil
	}

	// Policy errors carry their reason to the caller unchanged. The
	// reason names which rule fired, never internal paths or addresses.
	// Rate-limit rejections are deliberate short-circuits, not internal
	// failures, and pass through the same way.
	var secErr *security.SecurityError
	var valErr *security.ValidationError
	var toErr *security.TimeoutError
	var upErr *security.UpstreamError
	if errors.As(err, &secErr) || errors.As(err, &valErr) ||
		errors.As(err, &toErr) || errors.As(err, &upErr) ||
		errors.Is(err, ErrRateLimited) {
		m.logger.WarnContext(ctx, "request rejected",
			"request_id", req.ID,
			"method", req.Method,
			"tool", req.Tool,
			"error", err.Error(),
		)
		return result, err
	}

	m.logger.ErrorContext(ctx, "internal error",
		"request_id", req.ID,
		"method", req.Method,
		"tool", req.Tool,
		"error", err.Error(),
	)

	if !m.mask {
		return result, err
	}
	return result, &security.InternalError{
		Err:       err,
		Masked:    true,
		RequestID: req.ID,
	}
}
