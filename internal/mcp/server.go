package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/securemcp/mcpcore/internal/config"
	"github.com/securemcp/mcpcore/internal/log"
	"github.com/securemcp/mcpcore/internal/middleware"
	"github.com/securemcp/mcpcore/internal/tools"
)

// slowCallThreshold is when the timing middleware escalates to WARN.
const slowCallThreshold = 2 * time.Second

// Server wraps the MCP SDK server with the middleware chain and the
// guarded accessors.
type Server struct {
	mcpServer *mcp.Server
	chain     *middleware.Chain
	files     *tools.Files
	fetcher   *tools.Fetcher
	logger    log.Logger
	transport string
	name      string
	version   string
}

// Config holds the server's dependencies. All fields except Version
// are required.
type Config struct {
	Name     string
	Version  string
	Logger   log.Logger
	Settings *config.Config
	Files    *tools.Files
	Fetcher  *tools.Fetcher
}

// NewServer creates the MCP server, assembles the middleware chain and
// registers all tools. The chain is frozen before this returns; no
// middleware can be added to a serving chain.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Settings == nil {
		return nil, fmt.Errorf("settings are required")
	}
	if cfg.Files == nil {
		return nil, fmt.Errorf("file accessor is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("url fetcher is required")
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		mcpServer: mcpServer,
		chain:     buildChain(cfg.Logger, cfg.Settings),
		files:     cfg.Files,
		fetcher:   cfg.Fetcher,
		logger:    cfg.Logger,
		transport: cfg.Settings.Transport,
		name:      cfg.Name,
		version:   cfg.Version,
	}

	if err := s.registerFileTools(); err != nil {
		return nil, fmt.Errorf("registering file tools: %w", err)
	}
	if err := s.registerNetworkTools(); err != nil {
		return nil, fmt.Errorf("registering network tools: %w", err)
	}

	return s, nil
}

// buildChain assembles the built-in middlewares. Error handling comes
// first so it wraps everything, retry sits outside the rate limiter so
// retried attempts consume tokens, and audit runs innermost so it
// records the final verdict.
func buildChain(logger log.Logger, settings *config.Config) *middleware.Chain {
	chain := middleware.NewChain(logger)

	use := func(mw middleware.Middleware) {
		// Built-ins register before Freeze; a failure here is a bug.
		if err := chain.Use(mw); err != nil {
			panic(fmt.Sprintf("BUG: registering middleware %q: %v", mw.Name(), err))
		}
	}

	use(middleware.NewErrorHandling(logger, settings.MaskErrorDetails))
	if settings.RetryEnabled {
		use(middleware.NewRetry(logger, settings.RetryMaxAttempts))
	}
	if settings.RateLimitEnabled {
		use(middleware.NewRateLimit(logger, settings.RateLimitRPS, settings.RateLimitBurst))
		if settings.Transport == config.TransportHTTP {
			use(middleware.NewClientRateLimit(logger,
				settings.RateLimitRPS, settings.RateLimitBurst, 10*time.Minute))
		}
	}
	use(middleware.NewTiming(logger, slowCallThreshold))
	use(middleware.NewLogging(logger, settings.LogIncludePayloads))
	use(middleware.NewAudit(logger))

	chain.Freeze()
	return chain
}

// Run starts the MCP server on the given transport. Blocking; returns
// when ctx is cancelled or the transport closes.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("mcp server starting",
		"name", s.name,
		"version", s.version,
		"transport", s.transport,
	)
	return s.mcpServer.Run(ctx, transport)
}

// SDK exposes the underlying SDK server for transport handlers that
// need it directly, like the streamable HTTP handler.
func (s *Server) SDK() *mcp.Server { return s.mcpServer }

// ClientAddrHeader carries the caller's network address into the MCP
// layer. The http serving wrapper stamps it from the connection's
// remote address; an upstream proxy may supply X-Forwarded-For
// instead, which takes precedence.
const ClientAddrHeader = "X-Client-Addr"

// dispatch routes one tool call through the middleware chain to its
// terminal handler. A fresh Request is created per call, carrying the
// caller identity the per-client rate limiter keys on.
func (s *Server) dispatch(ctx context.Context, callReq *mcp.CallToolRequest, tool string, args map[string]any, terminal middleware.Handler) (any, error) {
	req := middleware.NewRequest(middleware.MethodCallTool, tool, s.transport)
	req.Arguments = args
	req.Source = clientSource(callReq)
	return s.chain.Dispatch(ctx, req, terminal)
}

// clientSource derives a per-client identity from transport metadata.
// The http transport carries the caller's address in request headers;
// stdio has a single implicit client and yields the empty source.
func clientSource(callReq *mcp.CallToolRequest) string {
	if callReq == nil || callReq.Extra == nil || callReq.Extra.Header == nil {
		return ""
	}
	if fwd := callReq.Extra.Header.Get("X-Forwarded-For"); fwd != "" {
		// The first hop is the original client.
		if i := strings.Index(fwd, ","); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	return callReq.Extra.Header.Get(ClientAddrHeader)
}
