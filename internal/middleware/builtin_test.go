package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/securemcp/mcpcore/internal/log"
	"github.com/securemcp/mcpcore/internal/security"
)

func TestErrorHandlingMasksInternalErrors(t *testing.T) {
	mw := NewErrorHandling(log.NewNop(), true)
	req := NewRequest(MethodCallTool, "read_file", "stdio")

	leaky := errors.New("open /etc/shadow: permission denied")
	_, err := mw.OnMessage(context.Background(), req, func(ctx context.Context, r *Request) (any, error) {
		return nil, leaky
	})

	var internal *security.InternalError
	if !errors.As(err, &internal) {
		t.Fatalf("error = %v, want InternalError", err)
	}
	if strings.Contains(err.Error(), "/etc/shadow") {
		t.Errorf("masked error leaks detail: %v", err)
	}
	if !strings.Contains(err.Error(), req.ID) {
		t.Errorf("masked error lacks request id: %v", err)
	}
	// The original cause stays reachable for server-side logging.
	if !errors.Is(err, leaky) {
		t.Error("masked error does not unwrap to the cause")
	}
}

func TestErrorHandlingPassesPolicyErrors(t *testing.T) {
	mw := NewErrorHandling(log.NewNop(), true)
	req := NewRequest(MethodCallTool, "fetch_url", "stdio")

	secErr := security.Errorf(security.ReasonPrivateIPBlocked, "host resolves to private address")
	_, err := mw.OnMessage(context.Background(), req, func(ctx context.Context, r *Request) (any, error) {
		return nil, secErr
	})

	if !security.IsSecurityError(err, security.ReasonPrivateIPBlocked) {
		t.Fatalf("error = %v, want untouched SecurityError", err)
	}
}

func TestErrorHandlingPassesRateLimited(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{Transport: log.TransportHTTP, Level: slog.LevelDebug})
	mw := NewErrorHandling(logger, true)
	req := NewRequest(MethodCallTool, "fetch_url", "http")

	_, err := mw.OnMessage(context.Background(), req, func(ctx context.Context, r *Request) (any, error) {
		return nil, ErrRateLimited
	})

	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	var internal *security.InternalError
	if errors.As(err, &internal) {
		t.Errorf("rate-limit rejection wrapped as internal error: %v", err)
	}
	// Logged as a rejection, not an internal failure.
	if strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("rate-limit rejection logged at ERROR: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "request rejected") {
		t.Errorf("expected a rejection log record, got: %s", buf.String())
	}
}

func TestErrorHandlingUnmasked(t *testing.T) {
	mw := NewErrorHandling(log.NewNop(), false)
	req := NewRequest(MethodCallTool, "read_file", "stdio")

	cause := errors.New("disk on fire")
	_, err := mw.OnMessage(context.Background(), req, func(ctx context.Context, r *Request) (any, error) {
		return nil, cause
	})
	if !errors.Is(err, cause) {
		t.Fatalf("error = %v, want original", err)
	}
	var internal *security.InternalError
	if errors.As(err, &internal) {
		t.Error("error was wrapped despite masking disabled")
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	mw := NewRetry(log.NewNop(), 3)
	mw.baseDelay = time.Millisecond
	req := NewRequest(MethodCallTool, "fetch_url", "stdio")

	var calls atomic.Int32
	result, err := mw.OnCallTool(context.Background(), req, func(ctx context.Context, r *Request) (any, error) {
		if calls.Add(1) < 3 {
			return nil, &security.UpstreamError{StatusCode: 503, URL: "https://example.com"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("OnCallTool error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("result = %v", result)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	mw := NewRetry(log.NewNop(), 3)
	mw.baseDelay = time.Millisecond
	req := NewRequest(MethodCallTool, "fetch_url", "stdio")

	var calls atomic.Int32
	upstream := &security.UpstreamError{StatusCode: 500, URL: "https://example.com"}
	_, err := mw.OnCallTool(context.Background(), req, func(ctx context.Context, r *Request) (any, error) {
		calls.Add(1)
		return nil, upstream
	})
	if !errors.Is(err, upstream) {
		t.Fatalf("error = %v, want final upstream error", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetryNeverRetriesPolicyErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"security error", security.Errorf(security.ReasonPathOutsideWhitelist, "escape")},
		{"validation error", &security.ValidationError{Field: "url", Detail: "empty"}},
		{"client upstream error", &security.UpstreamError{StatusCode: 404, URL: "https://example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewRetry(log.NewNop(), 3)
			mw.baseDelay = time.Millisecond
			req := NewRequest(MethodCallTool, "fetch_url", "stdio")

			var calls atomic.Int32
			_, err := mw.OnCallTool(context.Background(), req, func(ctx context.Context, r *Request) (any, error) {
				calls.Add(1)
				return nil, tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("error = %v, want %v", err, tt.err)
			}
			if calls.Load() != 1 {
				t.Errorf("calls = %d, want 1", calls.Load())
			}
		})
	}
}

func TestRetryRespectsCancellation(t *testing.T) {
	mw := NewRetry(log.NewNop(), 5)
	mw.baseDelay = time.Hour
	req := NewRequest(MethodCallTool, "fetch_url", "stdio")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := mw.OnCallTool(ctx, req, func(ctx context.Context, r *Request) (any, error) {
		return nil, &security.TimeoutError{Op: "fetch", Limit: time.Second}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("retry did not abort promptly on cancellation")
	}
}

func TestRateLimitRejectsBeyondBurst(t *testing.T) {
	mw := NewRateLimit(log.NewNop(), 1, 2)
	req := NewRequest(MethodCallTool, "read_file", "stdio")
	pass := func(ctx context.Context, r *Request) (any, error) { return "ok", nil }

	for i := 0; i < 2; i++ {
		if _, err := mw.OnCallTool(context.Background(), req, pass); err != nil {
			t.Fatalf("call %d unexpectedly limited: %v", i, err)
		}
	}
	if _, err := mw.OnCallTool(context.Background(), req, pass); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want %v", err, ErrRateLimited)
	}
}

func TestClientRateLimitIsolatesClients(t *testing.T) {
	mw := NewClientRateLimit(log.NewNop(), 1, 1, time.Minute)
	pass := func(ctx context.Context, r *Request) (any, error) { return "ok", nil }

	reqA := NewRequest(MethodCallTool, "read_file", "http")
	reqA.Source = "10.0.0.1"
	reqB := NewRequest(MethodCallTool, "read_file", "http")
	reqB.Source = "10.0.0.2"

	if _, err := mw.OnCallTool(context.Background(), reqA, pass); err != nil {
		t.Fatalf("client A first call: %v", err)
	}
	if _, err := mw.OnCallTool(context.Background(), reqA, pass); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("client A second call = %v, want %v", err, ErrRateLimited)
	}
	// Client B has its own bucket.
	if _, err := mw.OnCallTool(context.Background(), reqB, pass); err != nil {
		t.Fatalf("client B first call: %v", err)
	}
}

func TestClientRateLimitPrunesStaleEntries(t *testing.T) {
	mw := NewClientRateLimit(log.NewNop(), 1, 1, time.Millisecond)

	mw.allow("old-client")
	time.Sleep(5 * time.Millisecond)
	mw.allow("new-client")

	mw.mu.Lock()
	_, oldExists := mw.clients["old-client"]
	mw.mu.Unlock()
	if oldExists {
		t.Error("stale client entry was not pruned")
	}
}

func TestAuditRedactsSensitiveParams(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{Transport: log.TransportHTTP, Level: slog.LevelDebug})
	mw := NewAudit(logger)

	req := NewRequest(MethodCallTool, "write_file", "stdio")
	req.Arguments = map[string]any{
		"path":    "/tmp/out.txt",
		"content": "super secret payload",
	}

	if _, err := mw.OnCallTool(context.Background(), req, func(ctx context.Context, r *Request) (any, error) {
		return "ok", nil
	}); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "audit") {
		t.Fatalf("no audit record emitted: %s", out)
	}
	if strings.Contains(out, "super secret payload") {
		t.Errorf("audit record leaks sensitive value: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("audit record missing redaction marker: %s", out)
	}
	if !strings.Contains(out, "/tmp/out.txt") {
		t.Errorf("audit record missing non-sensitive argument: %s", out)
	}
}

func TestAuditRecordsDenials(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{Transport: log.TransportHTTP, Level: slog.LevelDebug})
	mw := NewAudit(logger)

	req := NewRequest(MethodCallTool, "fetch_url", "stdio")
	denial := security.Errorf(security.ReasonPrivateIPBlocked, "blocked")
	_, err := mw.OnCallTool(context.Background(), req, func(ctx context.Context, r *Request) (any, error) {
		return nil, denial
	})
	if !errors.Is(err, denial) {
		t.Fatalf("audit altered the error: %v", err)
	}

	var record map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("audit line is not JSON: %v (%s)", err, line)
	}
	if record["allowed"] != false {
		t.Errorf("allowed = %v, want false", record["allowed"])
	}
	if record["denial_reason"] == nil {
		t.Error("denial_reason missing from audit record")
	}
}

func TestAuditSkipsNonSensitiveTools(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{Transport: log.TransportHTTP, Level: slog.LevelDebug})
	mw := NewAudit(logger)

	req := NewRequest(MethodCallTool, "list_files", "stdio")
	if _, err := mw.OnCallTool(context.Background(), req, func(ctx context.Context, r *Request) (any, error) {
		return "ok", nil
	}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "audit") {
		t.Errorf("audit record emitted for non-sensitive tool: %s", buf.String())
	}
}

func TestTimingLogsSlowRequests(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{Transport: log.TransportHTTP, Level: slog.LevelDebug})
	mw := NewTiming(logger, time.Millisecond)

	req := NewRequest(MethodCallTool, "read_file", "stdio")
	if _, err := mw.OnMessage(context.Background(), req, func(ctx context.Context, r *Request) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "slow request") {
		t.Errorf("slow request not flagged: %s", buf.String())
	}
}

func TestLoggingExcludesPayloadsByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{Transport: log.TransportHTTP, Level: slog.LevelDebug})
	mw := NewLogging(logger, false)

	req := NewRequest(MethodCallTool, "write_file", "stdio")
	req.Arguments = map[string]any{"path": "/tmp/private-location.txt"}

	if _, err := mw.OnMessage(context.Background(), req, func(ctx context.Context, r *Request) (any, error) {
		return "ok", nil
	}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "private-location") {
		t.Errorf("payload logged without opt-in: %s", buf.String())
	}
}

func TestLoggingIncludesPayloadsWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{Transport: log.TransportHTTP, Level: slog.LevelDebug})
	mw := NewLogging(logger, true)

	req := NewRequest(MethodCallTool, "write_file", "stdio")
	req.Arguments = map[string]any{"path": "/tmp/visible.txt"}

	if _, err := mw.OnMessage(context.Background(), req, func(ctx context.Context, r *Request) (any, error) {
		return "ok", nil
	}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "visible.txt") {
		t.Errorf("payload missing despite opt-in: %s", buf.String())
	}
}
