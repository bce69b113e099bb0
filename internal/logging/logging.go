package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"statusbot/internal/config"
)

const fileName = "statusbot.log"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a text logger that writes to stdout and, when cfg.Dir is set,
// to a size-rotated file inside it. The closer releases the rotated file.
func New(cfg config.Logging) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.TrimSpace(cfg.Dir) == "" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nopCloser{}, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, nil, err
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, fileName),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, rotator), opts)
	return slog.New(handler), rotator, nil
}

func ParseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo
	}
	return level
}
