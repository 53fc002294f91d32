// Package log provides the transport-aware logging router.
//
// The routing rule is absolute: when the MCP protocol is multiplexed
// over stdio, every diagnostic byte goes to a file sink — a single
// stray write to stdout corrupts the protocol framing and breaks the
// client-side parser. When the protocol travels out-of-band (HTTP),
// diagnostics go to stdout where the container runtime collects them.
//
// The sink is chosen once at startup from the transport mode and never
// changes mid-session; there is no runtime toggle.
//
// Loggers are injected via constructors, never looked up globally.
// Components add context with logger.With("component", ...).
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Logger is a type alias for *slog.Logger so components depend on the
// standard ecosystem type directly.
type Logger = *slog.Logger

// Transport tags for the routing decision.
const (
	// TransportStdio means diagnostics share the process's stdio with
	// protocol framing and must never be written there.
	TransportStdio = "stdio"
	// TransportHTTP means the protocol travels over a network channel
	// and stdout is free for diagnostics.
	TransportHTTP = "http"
)

// Config defines the router configuration, consumed once at startup.
type Config struct {
	// Transport selects the sink: TransportStdio routes to FilePath,
	// TransportHTTP routes to stdout.
	Transport string

	// FilePath is the log file for stdio mode. Required when Transport
	// is TransportStdio.
	FilePath string

	// Level sets the minimum log level. Default: slog.LevelInfo.
	Level slog.Level

	// AddSource adds source file information to log entries.
	AddSource bool
}

// New creates the routed logger. The returned close function releases
// the file sink (a no-op in HTTP mode) and must be called at shutdown.
//
// In stdio mode the file sink is created and verified writable up
// front; a failure here is a startup failure, because running without a
// sink would tempt callers back onto stdout.
func New(cfg Config) (Logger, func() error, error) {
	switch cfg.Transport {
	case TransportStdio:
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("stdio transport requires a log file path")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o750); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		logger := NewWithWriter(f, cfg)
		logger.Info("stdio transport: diagnostics routed to file", "path", cfg.FilePath)
		return logger, f.Close, nil

	case TransportHTTP:
		return NewWithWriter(os.Stdout, cfg), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q (want %q or %q)",
			cfg.Transport, TransportStdio, TransportHTTP)
	}
}

// ParseLevel converts a configuration level string (DEBUG, INFO, WARN,
// WARNING, ERROR; case-insensitive) to a slog.Level. Unknown strings
// fall back to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewWithWriter creates a logger that writes JSON records to w. Used by
// New for the chosen sink and by tests to capture output.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}))
}

// NewNop creates a logger that discards all output. Tests only;
// production code always routes through New.
func NewNop() Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
