package logging

import (
	"log/slog"
	"os"
)

// New returns the process-wide logger. JSON output so log shippers can
// ingest it without a parse step.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("HERMES_DEBUG") != "" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
