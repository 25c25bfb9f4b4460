// Package obslog provides structured logging for the server, scoped to
// a single MCP session.
package obslog

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog with a JSON handler writing to stderr (stdout is
// reserved for the JSON-RPC wire protocol) and a fixed base attribute set.
type Logger struct {
	logger *slog.Logger
}

// New creates a Logger emitting JSON lines to stderr at the given level.
func New(level slog.Level, sessionID string) *Logger {
	return NewWithWriter(os.Stderr, level, sessionID)
}

// NewWithWriter creates a Logger writing to an arbitrary writer; useful
// for tests that want to assert on emitted log lines.
func NewWithWriter(w io.Writer, level slog.Level, sessionID string) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	if sessionID != "" {
		logger = logger.With("session_id", sessionID)
	}
	return &Logger{logger: logger}
}

// Noop returns a Logger that discards everything.
func Noop() *Logger {
	return NewWithWriter(io.Discard, slog.LevelError+1, "")
}

func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// With returns a Logger with additional structured attributes attached
// to every subsequent line.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

// ParseLevel maps a config string to a slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch s {
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
