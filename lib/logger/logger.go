// Package logger carries a *slog.Logger through request contexts.
package logger

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// AddToContext returns a copy of ctx carrying the given logger.
func AddToContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, log)
}

// FromContext returns the logger stored in ctx, or slog.Default if none was added.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}
