package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metric names.
const (
	MetricRecordsTotal         = "ledgersync_records_total"
	MetricRecordErrorsTotal    = "ledgersync_record_errors_total"
	MetricStageRunsTotal       = "ledgersync_stage_runs_total"
	MetricStageDurationSeconds = "ledgersync_stage_duration_seconds"
	MetricThrottleWaitSeconds  = "ledgersync_throttle_wait_seconds_total"
	MetricBudgetAvailable      = "ledgersync_query_budget_available"
)

// stageDurationBuckets span single-page stages up to multi-hour backfills (seconds)
var stageDurationBuckets = []float64{1, 5, 15, 60, 300, 900, 3600, 14400}

// SyncMetrics holds the prometheus instruments of sync runs on a private registry.
// A nil *SyncMetrics records nothing.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type SyncMetrics struct {
	registry *prometheus.Registry

	records       *prometheus.CounterVec
	recordErrors  *prometheus.CounterVec
	stageRuns     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	throttleWait  *prometheus.CounterVec
	budget        *prometheus.GaugeVec
}

// NewSyncMetrics creates the sync instruments plus the Go runtime and process collectors.
func NewSyncMetrics() *SyncMetrics {
	m := &SyncMetrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRecordsTotal,
				Help: "Records processed by scope, stage and outcome",
			},
			[]string{"scope", "stage", "outcome"},
		),
		recordErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRecordErrorsTotal,
				Help: "Per-record failures by stage and error kind",
			},
			[]string{"stage", "kind"},
		),
		stageRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricStageRunsTotal,
				Help: "Finished stage runs by scope, stage and cursor status",
			},
			[]string{"scope", "stage", "status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricStageDurationSeconds,
				Help:    "Stage run duration in seconds",
				Buckets: stageDurationBuckets,
			},
			[]string{"stage"},
		),
		throttleWait: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricThrottleWaitSeconds,
				Help: "Seconds spent waiting for the external query budget",
			},
			[]string{"scope", "reason"},
		),
		budget: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricBudgetAvailable,
				Help: "Last known available query budget points",
			},
			[]string{"scope"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.records,
		m.recordErrors,
		m.stageRuns,
		m.stageDuration,
		m.throttleWait,
		m.budget,
	)
	return m
}

// Registry returns the registry the instruments live on.
func (m *SyncMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *SyncMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOutcome counts one processed record.
func (m *SyncMetrics) RecordOutcome(scope, stage, outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(scope, stage, outcome).Inc()
}

// RecordError counts one per-record failure.
func (m *SyncMetrics) RecordError(stage, kind string) {
	if m == nil {
		return
	}
	m.recordErrors.WithLabelValues(stage, kind).Inc()
}

// ObserveStage records a finished stage run.
func (m *SyncMetrics) ObserveStage(scope, stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(scope, stage, status).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveThrottleWait adds time spent waiting on the query budget.
// reason is "budget" for pre-request waits and "throttled" after a rejection.
func (m *SyncMetrics) ObserveThrottleWait(scope, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.throttleWait.WithLabelValues(scope, reason).Add(d.Seconds())
}

// SetBudget publishes the last known available budget of scope.
func (m *SyncMetrics) SetBudget(scope string, available float64) {
	if m == nil {
		return
	}
	m.budget.WithLabelValues(scope).Set(available)
}
