package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ParseLevel maps LOG_LEVEL onto a slog level. ok is false for unknown values,
// which fall back to info.
func ParseLevel(raw string) (level slog.Level, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// New builds the process logger writing key=value lines to w.
func New(w io.Writer, levelStr string) *slog.Logger {
	level, ok := ParseLevel(levelStr)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}
	l := slog.New(slog.NewTextHandler(w, opts)).With("service", "wallet-service")
	if !ok {
		l.Warn("invalid LOG_LEVEL specified, defaulting to info", "configured_level", levelStr)
	}
	return l
}

// Init builds the stdout logger and installs it as the slog default.
func Init(levelStr string) *slog.Logger {
	l := New(os.Stdout, levelStr)
	slog.SetDefault(l)
	return l
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
