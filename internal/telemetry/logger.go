package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger. Format is "json" or "text". Level
// is one of: debug, info, warn, error. mode identifies which of the
// process's run modes (api, autoscaler, cluster, recovery) this logger
// belongs to, and is attached to every line: a deployment runs several
// modes as separate processes against the same platform, often shipping to
// one aggregated log stream, so a bare "http request" or "election" line
// needs the mode attribute to say which process instance produced it.
func NewLogger(format, level, mode string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler

	var w io.Writer = os.Stdout
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	if mode != "" {
		logger = logger.With("mode", mode)
	}
	return logger
}
