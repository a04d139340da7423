package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// NewTraceID returns a fresh correlation id.
func NewTraceID() string {
	return uuid.New().String()
}

// ContextWithTraceID attaches a trace id to ctx.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns the trace id on ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns the global logger with the request's trace id attached.
//
//	logging.Ctx(ctx).Info().Str("component", "relay").Msg("forwarded")
func Ctx(ctx context.Context) *zerolog.Logger {
	l := Logger()
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		l = l.With().Str("trace_id", traceID).Logger()
	}
	return &l
}
