// Package logctx carries a slog.Logger through context so workers and
// handlers share one configured logger.
package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const loggerKey contextKey = "logger"

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithWorker tags the context logger with a worker pool name and index, so
// every line a pool member logs identifies which goroutine produced it.
func WithWorker(ctx context.Context, pool string, index int) context.Context {
	logger := LoggerFromContext(ctx).With("worker", pool, "worker_index", index)
	return WithLogger(ctx, logger)
}
