package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey    contextKey = "ksefbridge.logger"
	requestIDKey contextKey = "ksefbridge.request_id"
	tenantIDKey  contextKey = "ksefbridge.tenant_id"
	runIDKey     contextKey = "ksefbridge.run_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context, or the default logger.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithTenantID adds a tenant ID to the context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantIDFromContext extracts the tenant ID from context.
func TenantIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tenantIDKey).(string)
	return id
}

// WithRunID adds a sync run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext extracts the run ID from context.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// L returns the context logger enriched with the IDs found in ctx.
func L(ctx context.Context) Logger {
	return FromContext(ctx).With(contextAttrs(ctx)...)
}

func contextAttrs(ctx context.Context) []any {
	var attrs []any
	if id := RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if id := TenantIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("tenant_id", id))
	}
	if id := RunIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("run_id", id))
	}
	return attrs
}
