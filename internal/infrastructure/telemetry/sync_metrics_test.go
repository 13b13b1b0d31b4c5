package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncMetrics_Counters(t *testing.T) {
	m := NewSyncMetrics()

	m.RecordOutcome("acme", "invoices", "posted")
	m.RecordOutcome("acme", "invoices", "posted")
	m.RecordOutcome("acme", "invoices", "skipped")
	m.RecordError("invoices", "VALIDATION")
	m.ObserveStage("acme", "invoices", "completed", 3*time.Second)
	m.ObserveThrottleWait("acme", "throttled", 1500*time.Millisecond)
	m.ObserveThrottleWait("acme", "throttled", 500*time.Millisecond)
	m.SetBudget("acme", 9100)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.records.WithLabelValues("acme", "invoices", "posted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("acme", "invoices", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordErrors.WithLabelValues("invoices", "VALIDATION")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageRuns.WithLabelValues("acme", "invoices", "completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.throttleWait.WithLabelValues("acme", "throttled")))
	assert.Equal(t, 9100.0, testutil.ToFloat64(m.budget.WithLabelValues("acme")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestSyncMetrics_NilIsNoop(t *testing.T) {
	var m *SyncMetrics
	assert.NotPanics(t, func() {
		m.RecordOutcome("acme", "customers", "created")
		m.RecordError("customers", "INTERNAL")
		m.ObserveStage("acme", "customers", "failed", time.Second)
		m.ObserveThrottleWait("acme", "budget", time.Second)
		m.SetBudget("acme", 1)
	})
}

func TestSyncMetrics_Handler(t *testing.T) {
	m := NewSyncMetrics()
	m.RecordOutcome("acme", "payments", "posted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `ledgersync_records_total{outcome="posted",scope="acme",stage="payments"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
