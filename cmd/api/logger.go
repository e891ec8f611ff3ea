package main

import (
	"io"
	"log/slog"
	"strings"
)

// newLogger creates a JSON structured logger with an explicit log level and
// installs it as the slog default.
func newLogger(w io.Writer, level string) *slog.Logger {
	lvl := slog.LevelInfo

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	log := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)
	return log
}
