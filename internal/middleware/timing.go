package middleware

import (
	"context"
	"time"

	"github.com/securemcp/mcpcore/internal/log"
)

// stateKeyTimingStart is where Timing stashes its own start mark, so
// measurements stay correct even if Request.Start is reused elsewhere.
const stateKeyTimingStart = "timing.start"

// Timing records wall-clock duration for every message and logs slow
// calls at a higher level.
type Timing struct {
	logger        log.Logger
	slowThreshold time.Duration
}

// NewTiming creates the timing middleware. Calls slower than
// slowThreshold log at WARN, everything else at DEBUG.
func NewTiming(logger log.Logger, slowThreshold time.Duration) *Timing {
	return &Timing{logger: logger, slowThreshold: slowThreshold}
}

// Name implements Middleware.
func (m *Timing) Name() string { return "timing" }

// OnMessage implements MessageHook.
func (m *Timing) OnMessage(ctx context.Context, req *Request, next Handler) (any, error) {
	start := time.Now()
	req.Set(stateKeyTimingStart, start)

	result, err := next(ctx, req)

	elapsed := time.Since(start)
	attrs := []any{
		"request_id", req.ID,
		"method", req.Method,
		"tool", req.Tool,
		"duration_ms", elapsed.Milliseconds(),
		"ok", err == nil,
	}
	if elapsed >= m.slowThreshold {
		m.logger.WarnContext(ctx, "slow request", attrs...)
	} else {
		m.logger.DebugContext(ctx, "request timed", attrs...)
	}
	return result, err
}
