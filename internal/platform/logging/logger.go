// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/noctonic/dirstream/internal/platform/correlation"
)

// Init initializes the global slog logger and returns it.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
func Init(level, format string) *slog.Logger {
	return InitWithOutput(level, format, os.Stdout)
}

// InitWithOutput is Init with an explicit output writer, for tests.
func InitWithOutput(level, format string, out io.Writer) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(correlation.NewHandler(handler))
	slog.SetDefault(logger)
	return logger
}
