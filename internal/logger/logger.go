// Package logger builds the process slog logger from configuration.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/gyaneshwarpardhi/cep/internal/config"
)

// New returns a logger writing to stdout.
func New(cfg config.LogConf, service, version string) *slog.Logger {
	return NewWithWriter(cfg, service, version, os.Stdout)
}

// NewWithWriter returns a logger writing to w. Unknown formats fall back to JSON.
func NewWithWriter(cfg config.LogConf, service, version string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.Level == "debug",
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("service", service),
		slog.String("version", version),
	)
}

// parseLevel converts a string to slog.Level. Defaults to INFO.
func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
