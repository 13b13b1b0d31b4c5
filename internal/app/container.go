// Package app assembles the sync engine from configuration. The daemon and
// the operator CLI share the same wiring through Build.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ledgersync/backend/internal/application/ingest"
	"github.com/ledgersync/backend/internal/application/mapping"
	"github.com/ledgersync/backend/internal/application/orchestrator"
	"github.com/ledgersync/backend/internal/application/posting"
	"github.com/ledgersync/backend/internal/domain/canonical"
	"github.com/ledgersync/backend/internal/domain/ledger"
	"github.com/ledgersync/backend/internal/domain/shared"
	"github.com/ledgersync/backend/internal/infrastructure/auth"
	"github.com/ledgersync/backend/internal/infrastructure/config"
	"github.com/ledgersync/backend/internal/infrastructure/jobber"
	"github.com/ledgersync/backend/internal/infrastructure/lock"
	"github.com/ledgersync/backend/internal/infrastructure/logger"
	"github.com/ledgersync/backend/internal/infrastructure/migration"
	"github.com/ledgersync/backend/internal/infrastructure/persistence"
	"github.com/ledgersync/backend/internal/infrastructure/telemetry"
)

// Container holds the wired components of one process
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	Database     *persistence.Database
	Redis        *redis.Client
	Logs         *telemetry.LoggerProvider
	Locker       shared.KeyLocker
	Tracer       *telemetry.TracerProvider
	Meter        *telemetry.MeterProvider
	Profiler     *telemetry.Profiler
	DBMetrics    *telemetry.DBMetrics
	SyncMetrics  *telemetry.SyncMetrics
	Tokens       *auth.TokenLifecycle
	Client       *jobber.Client
	TruthStore   *ingest.TruthStore
	Mapper       *mapping.IdentityMapper
	Assembler    *posting.Assembler
	Engine       *posting.Engine
	Orchestrator *orchestrator.Orchestrator

	closers []func(context.Context) error
}

// Options tunes Build
type Options struct {
	// SkipMigrations leaves the schema untouched
	SkipMigrations bool
}

// Build opens the database, applies the schema and wires every component.
// On error everything opened so far is closed again.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (*Container, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Container{Config: cfg, Logger: log}
	if err := c.build(ctx, opts); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context, opts Options) error {
	cfg := c.Config

	var err error
	c.Logs, err = telemetry.NewLoggerProvider(ctx, cfg.Telemetry, c.Logger)
	if err != nil {
		return fmt.Errorf("logger provider: %w", err)
	}
	c.closers = append(c.closers, c.Logs.Shutdown)
	c.Logger = c.Logs.Bridge(c.Logger)
	log := c.Logger

	c.Tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("tracer provider: %w", err)
	}
	c.closers = append(c.closers, c.Tracer.Shutdown)

	c.Meter, err = telemetry.NewMeterProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("meter provider: %w", err)
	}
	c.closers = append(c.closers, c.Meter.Shutdown)

	c.Profiler, err = telemetry.NewProfiler(cfg.Profiling, log)
	if err != nil {
		return err
	}
	c.closers = append(c.closers, c.Profiler.Stop)
	c.Profiler.LinkSpans(c.Tracer)

	if err = c.openDatabase(opts); err != nil {
		return err
	}
	if err = c.openLocker(ctx); err != nil {
		return err
	}

	decoder, err := jobber.NewDecoder(cfg.Jobber.APIVersion)
	if err != nil {
		return err
	}

	db := c.Database.DB
	cursors := persistence.NewGormCursorRepository(db)
	runs := persistence.NewGormSyncRunRepository(db)
	credentials := persistence.NewGormCredentialRepository(db)
	truthRecords := persistence.NewGormTruthRecordRepository(db)
	entities := persistence.NewGormCanonicalRepository(db)
	ledgerRepo := persistence.NewGormLedgerRepository(db)

	c.SyncMetrics = telemetry.NewSyncMetrics()
	c.Tokens = auth.NewTokenLifecycle(cfg.OAuth, credentials, log.Named("auth"))
	c.Client = jobber.NewClient(cfg.Jobber, c.Tokens, log.Named("jobber"), jobber.WithObserver(c.SyncMetrics))

	c.TruthStore = ingest.NewTruthStore(truthRecords, c.Locker, log.Named("truth"))
	c.Mapper = mapping.NewIdentityMapper(entities, decoder, c.Locker, ClassificationRule(cfg.Accounts), log.Named("identity"))

	accounts := AccountCodes(cfg.Accounts)
	c.Assembler = posting.NewAssembler(decoder, c.Mapper, accounts)
	c.Engine, err = posting.NewEngine(ledgerRepo, c.Locker, accounts, log.Named("posting"))
	if err != nil {
		return fmt.Errorf("posting engine: %w", err)
	}

	c.Orchestrator = orchestrator.New(orchestrator.Dependencies{
		Source:   c.Client,
		Truth:    c.TruthStore,
		Resolver: c.Mapper,
		Builder:  c.Assembler,
		Poster:   c.Engine,
		Cursors:  cursors,
		Runs:     runs,
		Metrics:  c.SyncMetrics,
		Logger:   log.Named("orchestrator"),
	}, orchestrator.Options{
		RecordConcurrency:  cfg.Sync.RecordConcurrency,
		RecordErrorLimit:   cfg.Sync.RecordErrorLimit,
		IncrementalOverlap: cfg.Scheduler.LookbackWindow,
	})

	log.Info("Sync engine wired",
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("lock_backend", cfg.Sync.LockBackend),
		zap.String("api_version", cfg.Jobber.APIVersion),
		zap.Strings("scopes", cfg.Sync.Scopes),
	)
	return nil
}

func (c *Container) openDatabase(opts Options) error {
	cfg, log := c.Config, c.Logger

	var gormOpts []logger.GormLoggerOption
	if cfg.Telemetry.DBSlowQueryThresh > 0 {
		gormOpts = append(gormOpts, logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	}
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), gormOpts...)
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	c.Database = db
	c.closers = append(c.closers, func(context.Context) error { return db.Close() })

	tracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfigFrom(cfg.Telemetry, cfg.Database.Driver), log)
	if err := tracing.RegisterOtelGorm(db.DB); err != nil {
		return fmt.Errorf("database tracing: %w", err)
	}
	c.DBMetrics, err = telemetry.RegisterDBMetrics(db.DB, c.Meter, telemetry.DBMetricsConfig{
		SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err != nil {
		return fmt.Errorf("database metrics: %w", err)
	}
	if c.DBMetrics != nil {
		c.closers = append(c.closers, func(context.Context) error {
			c.DBMetrics.Stop()
			return nil
		})
	}

	if opts.SkipMigrations {
		return nil
	}
	return c.migrate()
}

// migrate applies the versioned SQL migrations on postgres. sqlite databases
// are local or test stores and get the schema from the gorm models.
func (c *Container) migrate() error {
	if c.Config.Database.Driver == config.DriverSQLite {
		return c.Database.AutoMigrate()
	}
	sqlDB, err := c.Database.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, "", c.Logger.Named("migrate"))
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	// Close would also close the shared *sql.DB
	return m.Up()
}

func (c *Container) openLocker(ctx context.Context) error {
	cfg := c.Config
	if cfg.Sync.LockBackend != config.LockBackendRedis {
		c.Locker = lock.NewMemoryKeyLocker()
		return nil
	}

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	c.closers = append(c.closers, func(context.Context) error { return c.Redis.Close() })
	if err := c.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", cfg.Redis.Addr(), err)
	}

	c.Locker = lock.NewRedisKeyLocker(c.Redis, lock.RedisConfig{
		TTL:           cfg.Sync.LockTTL,
		RetryInterval: cfg.Sync.LockRetryInterval,
		RetryTimeout:  cfg.Sync.LockRetryTimeout,
	}, c.Logger.Named("lock"))
	return nil
}

// Close releases resources in reverse order of acquisition
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// AccountCodes converts the configured posting accounts
func AccountCodes(cfg config.AccountsConfig) ledger.AccountCodes {
	return ledger.AccountCodes{
		AccountsReceivable:   cfg.AccountsReceivable,
		DepositClearing:      cfg.DepositClearing,
		Cash:                 cfg.Cash,
		TaxableRevenue:       cfg.TaxableRevenue,
		NontaxableRevenue:    cfg.NontaxableRevenue,
		TaxPayable:           cfg.TaxPayable,
		DirectDepositMethods: cfg.DirectDepositMethods,
	}
}

// ClassificationRule derives the item classification rule from the accounts
func ClassificationRule(cfg config.AccountsConfig) canonical.ClassificationRule {
	return canonical.ClassificationRule{
		TaxableAccount:     cfg.TaxableRevenue,
		NontaxableAccount:  cfg.NontaxableRevenue,
		CategoryTaxability: cfg.CategoryTaxability,
	}
}
