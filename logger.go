package pointlake

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/pointlake/pointlake/model"
)

// Logger wraps slog.Logger with index-specific context. It provides
// structured logging with consistent field names across the engine.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler. If handler is
// nil, a text handler to stderr at info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithCell adds a cell field to the logger.
func (l *Logger) WithCell(cell model.CellID) *Logger {
	return &Logger{Logger: l.Logger.With("cell", cell.String())}
}

// WithLOD adds a lod field to the logger.
func (l *Logger) WithLOD(lod model.LOD) *Logger {
	return &Logger{Logger: l.Logger.With("lod", lod.String())}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"points", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert queued",
			"points", count,
		)
	}
}

// LogQuery logs a query execution.
func (l *Logger) LogQuery(ctx context.Context, q string, points, nodes int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"query", q,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"query", q,
			"points", points,
			"nodes", nodes,
			"duration", duration.String(),
		)
	}
}

// LogFlush logs a flush operation.
func (l *Logger) LogFlush(ctx context.Context, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "flush completed",
			"duration", duration.String(),
		)
	}
}
