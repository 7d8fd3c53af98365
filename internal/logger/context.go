package logger

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
)

type contextKey string

const TraceIDKey contextKey = "trace_id"

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

// WithNewTraceID attaches a fresh ULID trace id unless ctx already carries one.
func WithNewTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, ulid.Make().String())
}

func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(TraceIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns the default logger annotated with the context's trace id.
func FromContext(ctx context.Context) *slog.Logger {
	log := slog.Default()
	if id := GetTraceID(ctx); id != "" {
		log = log.With("trace_id", id)
	}
	return log
}
