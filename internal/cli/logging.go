package cli

import (
	"log/slog"
	"os"
	"strings"
)

// setupLogging configures the process-wide structured logger. The level
// comes from TIDECLAW_LOG_LEVEL (debug/info/warn/error, default info).
func setupLogging() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("TIDECLAW_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
