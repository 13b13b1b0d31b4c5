package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ledgersync/backend/internal/infrastructure/config"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled         bool          // Enable database tracing
	LogFullSQL      bool          // Include query variables in spans (dev only)
	SlowQueryThresh time.Duration // Threshold for marking queries as slow
	DBSystem        string        // Database system name reported on spans
}

// DBTracingConfigFrom derives the database tracing settings from the app config.
func DBTracingConfigFrom(tel config.TelemetryConfig, driver string) DBTracingConfig {
	cfg := DBTracingConfig{
		Enabled:         tel.DBTraceEnabled,
		LogFullSQL:      tel.DBLogFullSQL,
		SlowQueryThresh: tel.DBSlowQueryThresh,
		DBSystem:        "postgresql",
	}
	if driver == config.DriverSQLite {
		cfg.DBSystem = "sqlite"
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}
	return cfg
}

// DBTracingPlugin wraps the otelgorm plugin with slow query detection.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin creates a new database tracing plugin.
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBTracingPlugin{
		config: cfg,
		logger: logger,
	}
}

// RegisterOtelGorm registers otelgorm and the slow query callbacks on db.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{
		otelgorm.WithDBName(p.config.DBSystem),
	}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	if err := registerAround(db, "otel_timing", p.before, p.after); err != nil {
		return err
	}

	p.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", p.config.LogFullSQL),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
		zap.String("db_system", p.config.DBSystem),
	)
	return nil
}

func (p *DBTracingPlugin) before(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartTimeKey, time.Now())
	}
}

// after annotates the current span with rows, table, errors and slowness.
func (p *DBTracingPlugin) after(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	if startTime, ok := ctx.Value(queryStartTimeKey).(time.Time); ok {
		if elapsed := time.Since(startTime); elapsed > p.config.SlowQueryThresh {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
			span.AddEvent("slow_query_warning", trace.WithAttributes(
				attribute.Int64("duration_ms", elapsed.Milliseconds()),
				attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
			))
		}
	}
}

type contextKey string

const queryStartTimeKey contextKey = "otel_query_start_time"

// registerAround registers before/after callbacks named prefix:* around every gorm operation
func registerAround(db *gorm.DB, prefix string, before, after func(*gorm.DB)) error {
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register(prefix+":before_create", before); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register(prefix+":before_query", before); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register(prefix+":before_update", before); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register(prefix+":before_delete", before); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register(prefix+":before_row", before); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register(prefix+":before_raw", before); err != nil {
		return err
	}

	if err := cb.Create().After("gorm:create").Register(prefix+":after_create", after); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register(prefix+":after_query", after); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register(prefix+":after_update", after); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register(prefix+":after_delete", after); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register(prefix+":after_row", after); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Register(prefix+":after_raw", after)
}
