// Package logger constructs the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog logger writing to stdout. Level defaults to info;
// VIDA_LOG_LEVEL=debug enables debug output.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("VIDA_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", "vida-gateway")
}
