package tsearch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hupe1980/tsearch/source"
)

// Logger wraps slog.Logger with tsearch-specific context.
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

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// ParseLevel maps "debug", "info", "warn" and "error" to a level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// WithQueryID adds a query_id field to the logger.
func (l *Logger) WithQueryID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("query_id", id),
	}
}

// WithRef adds the classname and id fields to the logger.
func (l *Logger) WithRef(ref source.Ref) *Logger {
	return &Logger{
		Logger: l.Logger.With("classname", ref.ClassName, "id", ref.ID),
	}
}

// LogIndex logs an index operation.
func (l *Logger) LogIndex(ctx context.Context, ref source.Ref, table string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index failed",
			"classname", ref.ClassName,
			"id", ref.ID,
			"table", table,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "index completed",
			"classname", ref.ClassName,
			"id", ref.ID,
			"table", table,
		)
	}
}

// LogUnindex logs an unindex operation.
func (l *Logger) LogUnindex(ctx context.Context, ref source.Ref, err error) {
	if err != nil {
		l.ErrorContext(ctx, "unindex failed",
			"classname", ref.ClassName,
			"id", ref.ID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "unindex completed",
			"classname", ref.ClassName,
			"id", ref.ID,
		)
	}
}

// LogUpdate logs a partial update.
func (l *Logger) LogUpdate(ctx context.Context, ref source.Ref, fields []string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "update failed",
			"classname", ref.ClassName,
			"id", ref.ID,
			"fields", fields,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "update completed",
			"classname", ref.ClassName,
			"id", ref.ID,
			"fields", fields,
		)
	}
}

// LogQuery logs a query execution.
func (l *Logger) LogQuery(ctx context.Context, kind, plan string, fingerprint uint64, limit, rows int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, kind+" failed",
			"fingerprint", fingerprint,
			"limit", limit,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, kind+" completed",
			"plan", plan,
			"fingerprint", fingerprint,
			"limit", limit,
			"rows", rows,
			"elapsed", elapsed,
		)
	}
}

// LogBrokenIndex logs a result row whose object has vanished.
func (l *Logger) LogBrokenIndex(ctx context.Context, ref source.Ref, err error) {
	l.WarnContext(ctx, "broken index: object not found",
		"classname", ref.ClassName,
		"id", ref.ID,
		"error", err,
	)
}
