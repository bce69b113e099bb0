package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"statusbot/internal/config"
)

func TestNewWritesRotatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, closer, err := New(config.Logging{Dir: dir, Level: "info", MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hello from logging test", "target", "Router")
	if err := closer.Close(); err != nil {
		t.Fatalf("close logger: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello from logging test") {
		t.Fatalf("log line missing from file: %q", string(data))
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
