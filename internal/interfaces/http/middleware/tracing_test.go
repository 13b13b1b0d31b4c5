package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })
	return sr
}

// tracedRouter builds an engine with the tracing chain used by the control API
func tracedRouter(extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), TracingWithConfig(TracingConfig{Enabled: true, ServiceName: "syncd"}))
	r.Use(extra...)
	return r
}

func serve(r *gin.Engine, method, target string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v[0])
	}
	r.ServeHTTP(w, req)
	return w
}

func endedSpan(t *testing.T, sr *tracetest.SpanRecorder) sdktrace.ReadOnlySpan {
	t.Helper()
	spans := sr.Ended()
	require.Len(t, spans, 1)
	return spans[0]
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]string {
	out := make(map[attribute.Key]string)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestTracingWithConfig(t *testing.T) {
	t.Run("disabled records nothing", func(t *testing.T) {
		sr := recordSpans(t)
		gin.SetMode(gin.TestMode)
		r := gin.New()
		r.Use(TracingWithConfig(TracingConfig{}))
		r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

		assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz", nil).Code)
		assert.Empty(t, sr.Ended())
	})

	t.Run("span named after the route", func(t *testing.T) {
		sr := recordSpans(t)
		r := tracedRouter()
		r.GET("/scopes/:scope/status", func(c *gin.Context) { c.Status(http.StatusOK) })

		serve(r, http.MethodGet, "/scopes/acme/status", nil)
		assert.Equal(t, "GET /scopes/:scope/status", endedSpan(t, sr).Name())
	})
}

func TestTracingAttributeInjector(t *testing.T) {
	sr := recordSpans(t)
	r := tracedRouter(TracingAttributeInjector())
	r.POST("/scopes/:scope/stages/:stage/run", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	w := serve(r, http.MethodPost, "/scopes/acme/stages/items/run", http.Header{RequestIDHeader: {"req-123"}})
	require.Equal(t, http.StatusAccepted, w.Code)

	got := attrs(endedSpan(t, sr))
	assert.Equal(t, "req-123", got["request_id"])
	assert.Equal(t, "acme", got["sync.scope"])
	assert.Equal(t, "items", got["sync.stage"])
}

func TestTracingAttributeInjector_ScopeQuery(t *testing.T) {
	sr := recordSpans(t)
	r := tracedRouter(TracingAttributeInjector())
	r.GET("/oauth/authorize", func(c *gin.Context) { c.Status(http.StatusFound) })

	serve(r, http.MethodGet, "/oauth/authorize?scope=acme", nil)
	assert.Equal(t, "acme", attrs(endedSpan(t, sr))["sync.scope"])
}

func TestGetScope_Oversized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/oauth/authorize?scope="+strings.Repeat("a", MaxScopeLength+1), nil)

	assert.Empty(t, getScope(c))
}

func TestSpanErrorMarker(t *testing.T) {
	tests := []struct {
		status      int
		code        codes.Code
		description string
	}{
		{http.StatusOK, codes.Unset, ""},
		{http.StatusBadRequest, codes.Error, "Client Error"},
		{http.StatusUnauthorized, codes.Error, "Unauthorized"},
		{http.StatusNotFound, codes.Error, "Not Found"},
		{http.StatusConflict, codes.Error, "Conflict"},
		{http.StatusTooManyRequests, codes.Error, "Rate Limited"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			sr := recordSpans(t)
			r := tracedRouter(SpanErrorMarker())
			r.GET("/run", func(c *gin.Context) { c.Status(tt.status) })

			serve(r, http.MethodGet, "/run", nil)
			status := endedSpan(t, sr).Status()
			assert.Equal(t, tt.code, status.Code)
			assert.Equal(t, tt.description, status.Description)
		})
	}

	t.Run("server error", func(t *testing.T) {
		sr := recordSpans(t)
		r := tracedRouter(SpanErrorMarker())
		r.GET("/run", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

		serve(r, http.MethodGet, "/run", nil)
		// otelgin may set its own description for 5xx
		assert.Equal(t, codes.Error, endedSpan(t, sr).Status().Code)
	})
}

func TestTracingMiddleware_WithoutSpan(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TracingAttributeInjector(), SpanErrorMarker())
	r.GET("/run", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	assert.Equal(t, http.StatusInternalServerError, serve(r, http.MethodGet, "/run", nil).Code)
}
