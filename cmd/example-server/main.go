// Command example-server runs the guarded MCP server with the file and
// URL tools enabled. Configuration comes from MCP_ environment
// variables and an optional config.yaml in the working directory.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/securemcp/mcpcore/internal/config"
	"github.com/securemcp/mcpcore/internal/log"
	"github.com/securemcp/mcpcore/internal/mcp"
	"github.com/securemcp/mcpcore/internal/observability"
	"github.com/securemcp/mcpcore/internal/security"
	"github.com/securemcp/mcpcore/internal/tools"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog, err := log.New(log.Config{
		Transport: cfg.Transport,
		FilePath:  cfg.LogFile,
		Level:     log.ParseLevel(cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer func() {
		if closeErr := closeLog(); closeErr != nil {
			fmt.Fprintln(os.Stderr, "closing log sink:", closeErr)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.EnableTracing {
		shutdown, err := observability.Setup(ctx, logger, observability.Config{
			Endpoint:    cfg.OTLPEndpoint,
			Environment: cfg.Environment,
			ServiceName: cfg.ServerName,
		})
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			if shutdownErr := shutdown(context.Background()); shutdownErr != nil {
				logger.Warn("tracing shutdown", "error", shutdownErr)
			}
		}()
	}

	pathValidator, err := security.NewPath(cfg.AllowedFileDirectories)
	if err != nil {
		return fmt.Errorf("initializing path validator: %w", err)
	}
	urlValidator := security.NewURL(security.URLConfig{
		AllowPrivateIPs: cfg.URLAllowPrivateIPs,
		RequireHTTPS:    cfg.URLRequireHTTPS,
	})

	files := tools.NewFiles(pathValidator, logger, tools.FilesConfig{
		MaxBytes: cfg.MaxFileSizeBytes(),
		FileMode: cfg.FileMode(),
	})
	fetcher := tools.NewFetcher(urlValidator, logger, tools.FetcherConfig{
		MaxBytes: cfg.MaxResponseBytes(),
		Timeout:  cfg.FetchTimeout(),
	})
	defer fetcher.Close()

	server, err := mcp.NewServer(mcp.Config{
		Name:     cfg.ServerName,
		Version:  Version,
		Logger:   logger,
		Settings: cfg,
		Files:    files,
		Fetcher:  fetcher,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	switch cfg.Transport {
	case config.TransportStdio:
		logger.Info("server ready", "transport", "stdio")
		if err := server.Run(ctx, &mcpSdk.StdioTransport{}); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case config.TransportHTTP:
		if err := runHTTP(ctx, logger, cfg, server); err != nil {
			return err
		}
	}

	logger.Info("server shut down")
	return nil
}

// runHTTP serves the MCP protocol over the SDK's streamable HTTP
// handler with graceful shutdown on signal.
func runHTTP(ctx context.Context, logger log.Logger, cfg *config.Config, server *mcp.Server) error {
	handler := mcpSdk.NewStreamableHTTPHandler(
		func(r *http.Request) *mcpSdk.Server { return server.SDK() }, nil)

	// Stamp the caller's address so the per-client rate limiter can key
	// on it; a proxy-supplied X-Forwarded-For takes precedence inside.
	stamped := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		r.Header.Set(mcp.ClientAddrHeader, host)
		handler.ServeHTTP(w, r)
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: stamped,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server ready", "transport", "http", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		if err := httpServer.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	}
}
