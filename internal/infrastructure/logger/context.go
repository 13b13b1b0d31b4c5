package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
	scopeKey     contextKey = "scope"
	runIDKey     contextKey = "run_id"
	stageKey     contextKey = "stage"
)

// correlation values copied onto entries logged without the context logger
var correlationKeys = []contextKey{requestIDKey, scopeKey, runIDKey, stageKey}

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, returns a no-op logger if not found
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.NewNop()
}

func withField(ctx context.Context, logger *zap.Logger, key contextKey, value string) (context.Context, *zap.Logger) {
	enriched := logger.With(zap.String(string(key), value))
	return WithContext(context.WithValue(ctx, key, value), enriched), enriched
}

// contextFields returns the correlation fields present on ctx
func contextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, len(correlationKeys)+1)
	for _, key := range correlationKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	return fields
}

// WithRequestID stores a logger tagged with the request ID in ctx
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	return withField(ctx, logger, requestIDKey, requestID)
}

// WithScope stores a logger tagged with the sync scope in ctx
func WithScope(ctx context.Context, logger *zap.Logger, scope string) (context.Context, *zap.Logger) {
	return withField(ctx, logger, scopeKey, scope)
}

// WithRunID stores a logger tagged with the sync run ID in ctx
func WithRunID(ctx context.Context, logger *zap.Logger, runID string) (context.Context, *zap.Logger) {
	return withField(ctx, logger, runIDKey, runID)
}

// WithStage stores a logger tagged with the sync stage in ctx
func WithStage(ctx context.Context, logger *zap.Logger, stage string) (context.Context, *zap.Logger) {
	return withField(ctx, logger, stageKey, stage)
}

// WithTraceContext adds trace_id and span_id of the span in ctx.
// Without a valid span the logger is returned unchanged.
func WithTraceContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// ContextLogger logs through the logger stored in a context, correlated with
// its current span
type ContextLogger struct {
	ctx context.Context
}

// L returns the ContextLogger of ctx.
// Usage: logger.L(ctx).Info("message", zap.String("key", "value"))
func L(ctx context.Context) ContextLogger {
	return ContextLogger{ctx: ctx}
}

func (cl ContextLogger) zap() *zap.Logger {
	return WithTraceContext(cl.ctx, FromContext(cl.ctx))
}

func (cl ContextLogger) Debug(msg string, fields ...zap.Field) { cl.zap().Debug(msg, fields...) }

func (cl ContextLogger) Info(msg string, fields ...zap.Field) { cl.zap().Info(msg, fields...) }

func (cl ContextLogger) Warn(msg string, fields ...zap.Field) { cl.zap().Warn(msg, fields...) }

func (cl ContextLogger) Error(msg string, fields ...zap.Field) { cl.zap().Error(msg, fields...) }
