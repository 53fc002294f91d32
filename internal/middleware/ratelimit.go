package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/securemcp/mcpcore/internal/log"
)

// ErrRateLimited is returned when a call exceeds the configured rate.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit enforces a global token-bucket limit on tool calls. Calls
// are rejected, not queued, so a flood cannot build unbounded backlog.
type RateLimit struct {
	logger  log.Logger
	limiter *rate.Limiter
}

// NewRateLimit creates the global rate limiter. rps is the sustained
// refill rate, burst the bucket capacity.
func NewRateLimit(logger log.Logger, rps float64, burst int) *RateLimit {
	return &RateLimit{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Name implements Middleware.
func (m *RateLimit) Name() string { return "rate_limit" }

// OnCallTool implements CallToolHook.
func (m *RateLimit) OnCallTool(ctx context.Context, req *Request, next Handler) (any, error) {
	if !m.limiter.Allow() {
		m.logger.WarnContext(ctx, "rate limit exceeded",
			"request_id", req.ID,
			"tool", req.Tool,
		)
		return nil, ErrRateLimited
	}
	return next(ctx, req)
}

// ClientRateLimit enforces a per-client token-bucket limit, keyed by
// the request source. Stale client entries are pruned so the map does
// not grow without bound.
type ClientRateLimit struct {
	logger log.Logger
	rps    rate.Limit
	burst  int
	ttl    time.Duration

	mu      sync.Mutex
	clients map[string]*clientEntry
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientRateLimit creates a per-client limiter. Entries idle longer
// than ttl are evicted lazily on the next lookup sweep.
func NewClientRateLimit(logger log.Logger, rps float64, burst int, ttl time.Duration) *ClientRateLimit {
	return &ClientRateLimit{
		logger:  logger,
		rps:     rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		clients: make(map[string]*clientEntry),
	}
}

// Name implements Middleware.
func (m *ClientRateLimit) Name() string { return "client_rate_limit" }

// OnCallTool implements CallToolHook. Requests without a source (stdio
// has a single implicit client) share one bucket under the empty key.
func (m *ClientRateLimit) OnCallTool(ctx context.Context, req *Request, next Handler) (any, error) {
	if !m.allow(req.Source) {
		m.logger.WarnContext(ctx, "client rate limit exceeded",
			"request_id", req.ID,
			"tool", req.Tool,
			"source", req.Source,
		)
		return nil, ErrRateLimited
	}
	return next(ctx, req)
}

func (m *ClientRateLimit) allow(source string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, ok := m.clients[source]
	if !ok {
		m.prune(now)
		entry = &clientEntry{limiter: rate.NewLimiter(m.rps, m.burst)}
		m.clients[source] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// prune drops idle entries. Caller holds mu.
func (m *ClientRateLimit) prune(now time.Time) {
	for key, entry := range m.clients {
		if now.Sub(entry.lastSeen) > m.ttl {
			delete(m.clients, key)
		}
	}
}
