// Package middleware implements an ordered interception chain around
// tool invocations.
//
// Middlewares register once before the server starts serving, and the
// chain is frozen afterwards. Each middleware sees a Request and a
// continuation; calling the continuation runs the rest of the chain,
// returning without calling it short-circuits. Pre-processing runs in
// registration order, post-processing in reverse, so the first
// registered middleware is both the first to see a request and the
// last to see its result.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/securemcp/mcpcore/internal/log"
)

// ErrChainFrozen is returned by Use after Freeze has been called.
var ErrChainFrozen = errors.New("middleware chain is frozen")

// Request carries a single in-flight invocation through the chain.
// One Request is created per call and never shared across calls;
// concurrent calls each get their own.
type Request struct {
	// ID is a unique identifier generated per call, for correlating
	// log lines across middlewares.
	ID string

	// Method is the protocol method ("tools/call", "tools/list", ...).
	Method string

	// Tool is the tool name for tools/call requests, empty otherwise.
	Tool string

	// Transport identifies the serving transport ("stdio" or "http").
	Transport string

	// Source identifies the caller where the transport provides one
	// (e.g. a client address on http). Empty on stdio.
	Source string

	// Start is when the server accepted the call.
	Start time.Time

	// Arguments holds the decoded tool arguments for tools/call.
	Arguments map[string]any

	mu    sync.Mutex
	state map[string]any
}

// NewRequest creates a request envelope for one invocation.
func NewRequest(method, tool, transport string) *Request {
	return &Request{
		ID:        uuid.NewString(),
		Method:    method,
		Tool:      tool,
		Transport: transport,
		Start:     time.Now(),
	}
}

// Set stores a per-request value shared between a middleware's pre and
// post phases. Safe for concurrent use.
func (r *Request) Set(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		r.state = make(map[string]any)
	}
	r.state[key] = value
}

// Get retrieves a value stored with Set.
func (r *Request) Get(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.state[key]
	return v, ok
}

// Elapsed returns the wall time since the call was accepted.
func (r *Request) Elapsed() time.Duration {
	return time.Since(r.Start)
}

// Handler is the continuation a middleware invokes to run the rest of
// the chain down to the terminal tool handler.
type Handler func(ctx context.Context, req *Request) (any, error)

// Middleware intercepts an invocation. Implementations call next to
// continue, or return without calling it to short-circuit.
type Middleware interface {
	// Name identifies the middleware in diagnostics.
	Name() string
}

// MessageHook runs for every protocol message regardless of method.
type MessageHook interface {
	Middleware
	OnMessage(ctx context.Context, req *Request, next Handler) (any, error)
}

// CallToolHook runs only for tools/call messages. When a middleware
// implements both hooks, the chain dispatches to the narrower one and
// the broader hook is skipped for that message.
type CallToolHook interface {
	Middleware
	OnCallTool(ctx context.Context, req *Request, next Handler) (any, error)
}

// MethodCallTool is the protocol method that triggers CallToolHook.
const MethodCallTool = "tools/call"

// Chain is an ordered middleware pipeline. Use registers middlewares
// during setup; Freeze locks the chain before serving starts, so
// Dispatch never races with registration.
type Chain struct {
	logger log.Logger

	mu     sync.Mutex
	mws    []Middleware
	frozen bool
}

// NewChain creates an empty chain.
func NewChain(logger log.Logger) *Chain {
	return &Chain{logger: logger}
}

// Use appends a middleware. It fails once the chain is frozen.
func (c *Chain) Use(mw Middleware) error {
	if _, isMsg := mw.(MessageHook); !isMsg {
		if _, isCall := mw.(CallToolHook); !isCall {
			return fmt.Errorf("middleware %q implements no hook interface", mw.Name())
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return fmt.Errorf("%w: cannot register %q", ErrChainFrozen, mw.Name())
	}
	c.mws = append(c.mws, mw)
	return nil
}

// Freeze locks the chain. Call it once, after all Use calls and before
// the first Dispatch.
func (c *Chain) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Dispatch runs req through every applicable middleware and finally
// the terminal handler. For each middleware the narrowest hook
// matching the request's method is invoked; middlewares with no
// applicable hook are skipped transparently.
func (c *Chain) Dispatch(ctx context.Context, req *Request, terminal Handler) (any, error) {
	c.mu.Lock()
	if !c.frozen {
		c.mu.Unlock()
		return nil, errors.New("middleware chain used before Freeze")
	}
	mws := c.mws
	c.mu.Unlock()

	next := terminal
	// Build the call stack innermost-first so registration order is
	// outermost-first at run time.
	for i := len(mws) - 1; i >= 0; i-- {
		hook := c.selectHook(mws[i], req.Method)
		if hook == nil {
			continue
		}
		inner := next
		next = func(ctx context.Context, req *Request) (any, error) {
			return hook(ctx, req, inner)
		}
	}

	return next(ctx, req)
}

// hookFunc is a bound middleware hook ready to invoke.
type hookFunc func(ctx context.Context, req *Request, next Handler) (any, error)

// selectHook picks the narrowest hook the middleware implements for
// the given method, or nil when none applies.
func (c *Chain) selectHook(mw Middleware, method string) hookFunc {
	if method == MethodCallTool {
		if h, ok := mw.(CallToolHook); ok {
			return h.OnCallTool
		}
	}
	if h, ok := mw.(MessageHook); ok {
		return h.OnMessage
	}
	return nil
}
