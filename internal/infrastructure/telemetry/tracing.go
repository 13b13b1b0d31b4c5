package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of engine spans
const TracerName = "ledgersync"

// Span attribute keys shared by the sync and posting spans
const (
	SpanAttrScope      = "sync.scope"
	SpanAttrStage      = "sync.stage"
	SpanAttrRunID      = "sync.run_id"
	SpanAttrDryRun     = "sync.dry_run"
	SpanAttrKind       = "record.kind"
	SpanAttrExternalID = "record.external_id"
	SpanAttrEntryID    = "ledger.entry_id"
	SpanAttrAmount     = "ledger.amount"
)

// SpanOption adds a start attribute to a span
type SpanOption func([]attribute.KeyValue) []attribute.KeyValue

// WithAttribute sets key on the span at start. Values that are not strings,
// ints, floats, bools or string slices are recorded in their string form.
func WithAttribute(key string, value any) SpanOption {
	return func(attrs []attribute.KeyValue) []attribute.KeyValue {
		return append(attrs, toAttribute(key, value))
	}
}

// StartSpan starts an internal span on the global tracer provider. The
// caller ends it.
//
//	ctx, span := telemetry.StartSpan(ctx, "posting.post")
//	defer span.End()
func StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, trace.Span) {
	var attrs []attribute.KeyValue
	for _, opt := range opts {
		attrs = opt(attrs)
	}
	return otel.Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// StartServiceSpan starts a span named <component>.<operation>
func StartServiceSpan(ctx context.Context, component, operation string, opts ...SpanOption) (context.Context, trace.Span) {
	return StartSpan(ctx, component+"."+operation, opts...)
}

// SetAttributes adds alternating key/value pairs to span. Pairs with a
// non-string key and a trailing odd value are dropped.
func SetAttributes(span trace.Span, keyValues ...any) {
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		if key, ok := keyValues[i].(string); ok {
			attrs = append(attrs, toAttribute(key, keyValues[i+1]))
		}
	}
	span.SetAttributes(attrs...)
}

// RecordError marks span failed with err
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	}
	return attribute.String(key, fmt.Sprint(value))
}
