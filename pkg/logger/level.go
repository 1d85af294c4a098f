package logger

import (
	"io"
	"log/slog"
)

// ParseLevel maps LOG_LEVEL (debug, info, warn, error) to a slog level.
// Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// New returns the JSON logger used by the binaries
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}
