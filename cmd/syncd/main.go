package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ledgersync/backend/internal/app"
	"github.com/ledgersync/backend/internal/infrastructure/config"
	"github.com/ledgersync/backend/internal/infrastructure/logger"
	"github.com/ledgersync/backend/internal/infrastructure/scheduler"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.DefaultTimeFormat,
		Service:    cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting sync daemon",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx := context.Background()
	container, err := app.Build(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal("Failed to wire sync engine", zap.Error(err))
	}
	defer func() {
		if err := container.Close(context.Background()); err != nil {
			log.Error("Error releasing resources", zap.Error(err))
		}
	}()

	engine, err := container.HTTPHandler(version)
	if err != nil {
		log.Fatal("Failed to build control API", zap.Error(err))
	}
	srv := container.HTTPServer(engine)

	// Periodic sync of every configured scope
	var syncScheduler *scheduler.SyncScheduler
	if cfg.Scheduler.Enabled {
		syncScheduler, err = scheduler.NewSyncScheduler(
			scheduler.ConfigFrom(cfg.Scheduler, cfg.Sync.Scopes),
			scheduler.NewOrchestratorExecutor(container.Orchestrator, log.Named("scheduler")),
			log.Named("scheduler"),
		)
		if err != nil {
			log.Fatal("Failed to create sync scheduler", zap.Error(err))
		}
		if err := syncScheduler.Start(ctx); err != nil {
			log.Fatal("Failed to start sync scheduler", zap.Error(err))
		}
		log.Info("Sync scheduler started",
			zap.Duration("interval", cfg.Scheduler.Interval),
			zap.Strings("scopes", cfg.Sync.Scopes),
		)
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if syncScheduler != nil {
		if err := syncScheduler.Stop(shutdownCtx); err != nil {
			log.Warn("Sync scheduler did not stop cleanly", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	log.Info("Server exited gracefully")
}
