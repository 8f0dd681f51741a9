package monitoring

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds the process logger. format "json" or "text" forces a
// handler; anything else picks JSON in production and text elsewhere.
func NewLogger(w io.Writer, level, format string, production bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	switch {
	case format == "json", format == "" && production:
		return slog.New(slog.NewJSONHandler(w, opts))
	default:
		return slog.New(slog.NewTextHandler(w, opts))
	}
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
