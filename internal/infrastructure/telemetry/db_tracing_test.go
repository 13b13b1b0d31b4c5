package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ledgersync/backend/internal/infrastructure/config"
)

type traceModel struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:100"`
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&traceModel{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestDBTracingConfigFrom(t *testing.T) {
	cfg := DBTracingConfigFrom(config.TelemetryConfig{DBTraceEnabled: true}, config.DriverSQLite)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.LogFullSQL)
	assert.Equal(t, "sqlite", cfg.DBSystem)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThresh)

	cfg = DBTracingConfigFrom(config.TelemetryConfig{DBSlowQueryThresh: time.Second}, config.DriverPostgres)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "postgresql", cfg.DBSystem)
	assert.Equal(t, time.Second, cfg.SlowQueryThresh)
}

func TestDBTracingPlugin_Disabled(t *testing.T) {
	db := setupTestDB(t)
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: false}, nil)
	require.NoError(t, p.RegisterOtelGorm(db))
	assert.Nil(t, db.Callback().Query().Get("otel_timing:after_query"))
}

func TestDBTracingPlugin_RegistersCallbacks(t *testing.T) {
	db := setupTestDB(t)
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, SlowQueryThresh: time.Second, DBSystem: "sqlite"}, zap.NewNop())
	require.NoError(t, p.RegisterOtelGorm(db))

	assert.NotNil(t, db.Callback().Create().Get("otel_timing:before_create"))
	assert.NotNil(t, db.Callback().Query().Get("otel_timing:after_query"))
	assert.NotNil(t, db.Callback().Raw().Get("otel_timing:after_raw"))

	require.NoError(t, db.Create(&traceModel{Name: "probe"}).Error)
}

func TestDBTracingPlugin_AfterAnnotatesSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, SlowQueryThresh: time.Millisecond}, zap.NewNop())
	db := setupTestDB(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "query")
	tx := db.Session(&gorm.Session{NewDB: true})
	tx.Statement.Context = context.WithValue(ctx, queryStartTimeKey, time.Now().Add(-time.Second))
	tx.Statement.Table = "ledger_entries"
	tx.Statement.RowsAffected = 3
	tx.Error = errors.New("constraint failed")

	p.after(tx)
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	attrs := map[attribute.Key]attribute.Value{}
	for _, a := range ended[0].Attributes() {
		attrs[a.Key] = a.Value
	}
	assert.Equal(t, int64(3), attrs["db.rows_affected"].AsInt64())
	assert.Equal(t, "ledger_entries", attrs["db.sql.table"].AsString())
	assert.True(t, attrs["db.slow_query"].AsBool())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}

func TestDBTracingPlugin_IgnoresRecordNotFound(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, SlowQueryThresh: time.Hour}, zap.NewNop())
	db := setupTestDB(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "query")
	tx := db.Session(&gorm.Session{NewDB: true})
	tx.Statement.Context = ctx
	tx.Error = gorm.ErrRecordNotFound
	p.after(tx)
	span.End()

	assert.Equal(t, codes.Unset, sr.Ended()[0].Status().Code)
}
