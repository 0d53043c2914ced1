package logger

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// With stores a child of the request logger carrying the given attributes.
func With(ctx context.Context, args ...any) context.Context {
	return context.WithValue(ctx, contextKey{}, From(ctx).With(args...))
}

// WithActor tags the request logger with who is acting and under which role.
func WithActor(ctx context.Context, actorID, role string) context.Context {
	return With(ctx, "actor_id", actorID, "actor_role", role)
}

// From returns the request logger, falling back to the process logger.
func From(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return LoggerWrapper()
}
