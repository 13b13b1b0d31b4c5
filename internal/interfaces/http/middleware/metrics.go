package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ledgersync/backend/internal/infrastructure/telemetry"
)

const (
	metricRequests     = "http_server_request_total"
	metricDuration     = "http_server_request_duration_seconds"
	metricResponseSize = "http_server_response_size_bytes"
	metricInFlight     = "http_server_active_requests"

	unmatchedRoute = "unknown"
)

// HTTPMetricsConfig configures the control API metrics middleware.
type HTTPMetricsConfig struct {
	MeterProvider *telemetry.MeterProvider
	Enabled       bool
	// Logger reports instrument setup failures.
	Logger *zap.Logger
}

var responseSizeBuckets = []float64{128, 1 << 10, 8 << 10, 64 << 10, 512 << 10}

type serverInstruments struct {
	requests     *telemetry.Counter
	duration     *telemetry.Histogram
	responseSize *telemetry.Histogram
	inFlight     metric.Int64UpDownCounter
}

func newServerInstruments(meter metric.Meter) (*serverInstruments, error) {
	var (
		inst serverInstruments
		err  error
	)
	if inst.requests, err = telemetry.NewCounter(meter, metricRequests,
		"Control API requests by route, status and scope", "{request}"); err != nil {
		return nil, err
	}
	if inst.duration, err = telemetry.NewHistogram(meter, metricDuration,
		"Control API latency in seconds", "s", telemetry.HTTPDurationBuckets); err != nil {
		return nil, err
	}
	if inst.responseSize, err = telemetry.NewHistogram(meter, metricResponseSize,
		"Control API response body size", "By", responseSizeBuckets); err != nil {
		return nil, err
	}
	if inst.inFlight, err = meter.Int64UpDownCounter(metricInFlight,
		metric.WithDescription("Control API requests in flight"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	return &inst, nil
}

func passThrough(c *gin.Context) {
	c.Next()
}

// HTTPMetrics records request count, latency, response size and in-flight
// requests for the control API. Stage runs are long, so latency buckets
// reach ten minutes.
func HTTPMetrics(cfg HTTPMetricsConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.MeterProvider == nil || !cfg.MeterProvider.IsEnabled() {
		return passThrough
	}
	return meterMiddleware(cfg.MeterProvider.Meter("http.server"), cfg.Logger)
}

func meterMiddleware(meter metric.Meter, log *zap.Logger) gin.HandlerFunc {
	inst, err := newServerInstruments(meter)
	if err != nil {
		if log != nil {
			log.Warn("HTTP metrics disabled", zap.Error(err))
		}
		return passThrough
	}
	return inst.observe
}

func (inst *serverInstruments) observe(c *gin.Context) {
	ctx := c.Request.Context()
	start := time.Now()
	inst.inFlight.Add(ctx, 1)
	defer inst.inFlight.Add(ctx, -1)

	c.Next()

	route := routePattern(c)
	// latency and size keep to method and route
	base := []attribute.KeyValue{
		telemetry.AttrHTTPMethod.String(c.Request.Method),
		telemetry.AttrHTTPRoute.String(route),
	}
	inst.duration.RecordDuration(ctx, time.Since(start), base...)
	if size := c.Writer.Size(); size > 0 {
		inst.responseSize.Observe(ctx, float64(size), base...)
	}

	counted := append(base, telemetry.AttrHTTPStatusCode.Int(c.Writer.Status()))
	if scope := getScope(c); scope != "" {
		counted = append(counted, telemetry.AttrScope.String(scope))
	}
	if stage := c.Param("stage"); stage != "" && route != unmatchedRoute && len(stage) <= MaxScopeLength {
		counted = append(counted, attribute.String(telemetry.SpanAttrStage, stage))
	}
	inst.requests.Inc(ctx, counted...)
}

// routePattern is the matched route, e.g. "/api/v1/scopes/:scope/status",
// so raw paths never become label values.
func routePattern(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}
