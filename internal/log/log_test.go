package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_StdioRoutesToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "server.log")

	logger, closeFn, err := New(Config{Transport: TransportStdio, FilePath: logFile})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	logger.Info("hello", "key", "value")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file missing emitted record, got: %s", data)
	}
}

func TestNew_StdioRequiresFilePath(t *testing.T) {
	if _, _, err := New(Config{Transport: TransportStdio}); err == nil {
		t.Error("New(stdio without file) should fail at startup")
	}
}

func TestNew_StdioUnwritableFileFails(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o750) })

	if _, _, err := New(Config{Transport: TransportStdio, FilePath: filepath.Join(dir, "x.log")}); err == nil {
		t.Error("New(unwritable log file) should fail at startup")
	}
}

func TestNew_UnknownTransport(t *testing.T) {
	if _, _, err := New(Config{Transport: "carrier-pigeon"}); err == nil {
		t.Error("New(unknown transport) should fail")
	}
}

func TestNewWithWriter_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: slog.LevelWarn})

	logger.Info("dropped")
	logger.Warn("kept", "field", 42)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 record, got %d: %q", len(lines), buf.String())
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if record["msg"] != "kept" || record["field"] != float64(42) {
		t.Errorf("unexpected record: %v", record)
	}
}

func TestNewNop_Discards(t *testing.T) {
	// Must not panic and must accept arbitrary attrs.
	NewNop().Error("ignored", "err", os.ErrNotExist)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
