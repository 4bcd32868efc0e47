package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xraph/jobpoller"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger builds the process logger. With cfg.File set, output goes to a
// size-rotated file and the returned Closer closes it.
func newLogger(cfg jobpoller.LogConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("%w: log level %q", jobpoller.ErrInvalidConfig, cfg.Level)
		}
	}

	out := stderr
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out, closer = rotated, rotated
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		h = slog.NewTextHandler(out, opts)
	case "json":
		h = slog.NewJSONHandler(out, opts)
	default:
		return nil, nil, fmt.Errorf("%w: log format %q", jobpoller.ErrInvalidConfig, cfg.Format)
	}
	return slog.New(h), closer, nil
}
