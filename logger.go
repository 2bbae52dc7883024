package phrasetrie

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with phrasetrie-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithSession tags every record with a session id.
func (l *Logger) WithSession(id uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("session", id),
	}
}

// LogInsert logs an insert. Phrases are logged by length only.
func (l *Logger) LogInsert(ctx context.Context, phraseLen int, err error) {
	if err != nil {
		l.WarnContext(ctx, "insert rejected",
			"len", phraseLen,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"len", phraseLen,
		)
	}
}

// LogDelete logs a delete.
func (l *Logger) LogDelete(ctx context.Context, phraseLen int, err error) {
	if err != nil {
		l.DebugContext(ctx, "delete missed",
			"len", phraseLen,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"len", phraseLen,
		)
	}
}

// LogQuery logs a query.
func (l *Logger) LogQuery(ctx context.Context, offsets, matches int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"offsets", offsets,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"offsets", offsets,
			"matches", matches,
		)
	}
}

// LogLoad logs a dictionary load.
func (l *Logger) LogLoad(ctx context.Context, source string, phrases int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "dictionary load failed",
			"source", source,
			"phrases", phrases,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "dictionary loaded",
			"source", source,
			"phrases", phrases,
		)
	}
}
