package telemetry

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	dbMetricsPlugin        = "db_metrics"
	dbMetricsStartKey      = "ledgersync:db_metrics_start"
	defaultSlowQueryThresh = 200 * time.Millisecond
)

// DBMetricsConfig holds configuration for database metrics collection.
type DBMetricsConfig struct {
	SlowQueryThreshold time.Duration
}

// DBMetrics is a gorm plugin that counts and times statements. Pool
// occupancy is reported by an observable gauge read at export time.
type DBMetrics struct {
	meter     metric.Meter
	queries   *Counter
	latency   *Histogram
	slow      *Counter
	slowAfter time.Duration
	logger    *zap.Logger

	mu   sync.Mutex
	pool metric.Registration
}

// NewDBMetrics creates the statement instruments on meter.
func NewDBMetrics(meter metric.Meter, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &DBMetrics{meter: meter, slowAfter: cfg.SlowQueryThreshold, logger: logger}
	if m.slowAfter <= 0 {
		m.slowAfter = defaultSlowQueryThresh
	}

	var err error
	if m.queries, err = NewCounter(meter, "db_query_total", "Database statements by operation", "{query}"); err != nil {
		return nil, err
	}
	if m.latency, err = NewHistogram(meter, "db_query_duration_seconds", "Database statement latency in seconds", "s", DBDurationBuckets); err != nil {
		return nil, err
	}
	if m.slow, err = NewCounter(meter, "db_slow_query_total", "Statements slower than the slow query threshold", "{query}"); err != nil {
		return nil, err
	}
	return m, nil
}

// ObservePool reports sqlDB.Stats() as db_pool_connections{db.pool.state}
// until Stop.
func (m *DBMetrics) ObservePool(sqlDB *sql.DB) error {
	gauge, err := m.meter.Int64ObservableGauge("db_pool_connections",
		metric.WithDescription("Connections in the pool by state"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return err
	}
	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := sqlDB.Stats()
		for state, n := range map[string]int{
			"idle":   stats.Idle,
			"in_use": stats.InUse,
			"open":   stats.OpenConnections,
			"max":    stats.MaxOpenConnections,
		} {
			o.ObserveInt64(gauge, int64(n), metric.WithAttributes(AttrDBState.String(state)))
		}
		return nil
	}, gauge)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.pool = reg
	m.mu.Unlock()
	return nil
}

// Stop unregisters the pool observer. Safe to call more than once.
func (m *DBMetrics) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pool == nil {
		return
	}
	if err := m.pool.Unregister(); err != nil {
		m.logger.Warn("Failed to unregister pool metrics", zap.Error(err))
	}
	m.pool = nil
}

// RecordQuery records one statement. Slow statements are also counted per table.
func (m *DBMetrics) RecordQuery(ctx context.Context, operation, table string, d time.Duration) {
	op := AttrDBOperation.String(normalizeOperation(operation))
	m.queries.Inc(ctx, op)
	m.latency.RecordDuration(ctx, d, op)
	if d <= m.slowAfter {
		return
	}
	if table == "" {
		table = "unknown"
	}
	m.slow.Inc(ctx, op, AttrDBTable.String(table))
}

func normalizeOperation(op string) string {
	if op = strings.ToUpper(strings.TrimSpace(op)); op == "" {
		return "UNKNOWN"
	}
	return op
}

func (m *DBMetrics) Name() string {
	return dbMetricsPlugin
}

func (m *DBMetrics) Initialize(db *gorm.DB) error {
	return registerAround(db, dbMetricsPlugin,
		func(tx *gorm.DB) { tx.InstanceSet(dbMetricsStartKey, time.Now()) },
		m.observe,
	)
}

func (m *DBMetrics) observe(tx *gorm.DB) {
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	var d time.Duration
	if v, ok := tx.InstanceGet(dbMetricsStartKey); ok {
		if start, ok := v.(time.Time); ok {
			d = time.Since(start)
		}
	}
	m.RecordQuery(ctx, detectOperationType(tx.Statement.SQL.String()), tx.Statement.Table, d)
}

var sqlVerbs = []string{"SELECT", "INSERT", "UPDATE", "DELETE"}

// detectOperationType derives the SQL verb of a statement.
func detectOperationType(stmt string) string {
	stmt = strings.ToUpper(strings.TrimSpace(stmt))
	for _, verb := range sqlVerbs {
		if strings.HasPrefix(stmt, verb) {
			return verb
		}
	}
	return "OTHER"
}

// RegisterDBMetrics installs the plugin and the pool observer on db when
// metrics export is enabled. It returns nil when disabled.
func RegisterDBMetrics(db *gorm.DB, mp *MeterProvider, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if mp == nil || !mp.IsEnabled() {
		return nil, nil
	}
	m, err := NewDBMetrics(mp.Meter("db.client"), cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Use(m); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := m.ObservePool(sqlDB); err != nil {
		return nil, err
	}
	m.logger.Info("Database metrics registered", zap.Duration("slow_query_threshold", m.slowAfter))
	return m, nil
}
