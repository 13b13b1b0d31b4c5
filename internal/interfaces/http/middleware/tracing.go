package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ledgersync/backend/internal/infrastructure/telemetry"
)

// MaxScopeLength bounds the scope and stage attributes taken from the URL
const MaxScopeLength = 64

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	// ServiceName is the server name reported by otelgin.
	ServiceName string
	Enabled     bool
}

// TracingWithConfig returns otelgin middleware for the service.
// Span names follow "METHOD route", e.g. "POST /api/v1/scopes/:scope/stages/:stage/run".
func TracingWithConfig(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return passThrough
	}
	return otelgin.Middleware(cfg.ServiceName)
}

// getScope returns the scope route parameter, or the scope query of the
// oauth endpoints. Oversized values are dropped.
func getScope(c *gin.Context) string {
	scope := c.Param("scope")
	if scope == "" && c.Request != nil {
		scope = c.Query("scope")
	}
	if len(scope) > MaxScopeLength {
		return ""
	}
	return scope
}

func requestAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if requestID := GetRequestID(c); requestID != "" {
		attrs = append(attrs, attribute.String("request_id", requestID))
	}
	if scope := getScope(c); scope != "" {
		attrs = append(attrs, attribute.String(telemetry.SpanAttrScope, scope))
	}
	if stage := c.Param("stage"); stage != "" && len(stage) <= MaxScopeLength {
		attrs = append(attrs, attribute.String(telemetry.SpanAttrStage, stage))
	}
	return attrs
}

// TracingAttributeInjector tags the server span with the request ID, the
// sync scope and the stage. It must run after TracingWithConfig and RequestID.
func TracingAttributeInjector() gin.HandlerFunc {
	return func(c *gin.Context) {
		if span := trace.SpanFromContext(c.Request.Context()); span.IsRecording() {
			span.SetAttributes(requestAttributes(c)...)
		}
		c.Next()
	}
}

var errorDescriptions = map[int]string{
	http.StatusUnauthorized:    "Unauthorized",
	http.StatusNotFound:        "Not Found",
	http.StatusConflict:        "Conflict",
	http.StatusTooManyRequests: "Rate Limited",
}

func errorDescription(status int) string {
	if status >= http.StatusInternalServerError {
		return "Internal Server Error"
	}
	if d, ok := errorDescriptions[status]; ok {
		return d
	}
	return "Client Error"
}

// SpanErrorMarker sets an error status on the server span of every 4xx and
// 5xx response. It must run after TracingWithConfig.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		status := c.Writer.Status()
		if !span.IsRecording() || status < http.StatusBadRequest {
			return
		}
		span.SetStatus(codes.Error, errorDescription(status))
		span.SetAttributes(telemetry.AttrHTTPStatusCode.Int(status))
	}
}
