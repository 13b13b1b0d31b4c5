package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ledgersync/backend/internal/infrastructure/config"
)

func newManualMeter(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return reader, provider
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(m metricdata.Metrics) int64 {
	var total int64
	if s, ok := m.Data.(metricdata.Sum[int64]); ok {
		for _, dp := range s.DataPoints {
			total += dp.Value
		}
	}
	return total
}

func TestDBMetrics_RecordQuery(t *testing.T) {
	reader, provider := newManualMeter(t)
	m, err := NewDBMetrics(provider.Meter("test"), DBMetricsConfig{SlowQueryThreshold: 100 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordQuery(ctx, "select", "ledger_entries", 10*time.Millisecond)
	m.RecordQuery(ctx, "INSERT", "ledger_postings", 300*time.Millisecond)
	m.RecordQuery(ctx, "", "", 500*time.Millisecond)

	got := collect(t, reader)
	assert.Equal(t, int64(3), sumOf(got["db_query_total"]))
	assert.Equal(t, int64(2), sumOf(got["db_slow_query_total"]))
	assert.Contains(t, got, "db_query_duration_seconds")
}

func TestDBMetrics_PluginCountsQueries(t *testing.T) {
	reader, provider := newManualMeter(t)
	m, err := NewDBMetrics(provider.Meter("test"), DBMetricsConfig{}, zap.NewNop())
	require.NoError(t, err)

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Use(m))
	assert.Equal(t, "db_metrics", m.Name())

	mock.ExpectQuery(`SELECT count\(\*\) FROM "ledger_entries"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	var count int64
	require.NoError(t, db.Table("ledger_entries").Count(&count).Error)
	assert.Equal(t, int64(7), count)
	require.NoError(t, mock.ExpectationsWereMet())

	got := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(got["db_query_total"]))
}

func TestDBMetrics_ObservePool(t *testing.T) {
	reader, provider := newManualMeter(t)
	m, err := NewDBMetrics(provider.Meter("test"), DBMetricsConfig{}, nil)
	require.NoError(t, err)

	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	sqlDB.SetMaxOpenConns(4)

	require.NoError(t, m.ObservePool(sqlDB))
	gauge, ok := collect(t, reader)["db_pool_connections"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 4)
	for _, dp := range gauge.DataPoints {
		if state, _ := dp.Attributes.Value(AttrDBState); state.AsString() == "max" {
			assert.Equal(t, int64(4), dp.Value)
		}
	}

	m.Stop()
	m.Stop()
	if md, exported := collect(t, reader)["db_pool_connections"]; exported {
		assert.Empty(t, md.Data.(metricdata.Gauge[int64]).DataPoints, "pool gauge is not observed after Stop")
	}
}

func TestDetectOperationType(t *testing.T) {
	tests := map[string]string{
		"SELECT * FROM ledger_entries":   "SELECT",
		"  insert into ledger_postings":  "INSERT",
		"UPDATE ledger_transactions SET": "UPDATE",
		"DELETE FROM ledger_entries":     "DELETE",
		"SAVEPOINT sp0x1":                "OTHER",
		"":                               "OTHER",
	}
	for sql, want := range tests {
		assert.Equal(t, want, detectOperationType(sql), sql)
	}
}

func TestRegisterDBMetrics_DisabledProvider(t *testing.T) {
	mp, err := NewMeterProvider(context.Background(), config.TelemetryConfig{}, nil)
	require.NoError(t, err)

	m, err := RegisterDBMetrics(nil, mp, DBMetricsConfig{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, m)
}
