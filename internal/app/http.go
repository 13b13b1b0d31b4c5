package app

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ledgersync/backend/internal/infrastructure/logger"
	"github.com/ledgersync/backend/internal/interfaces/http/handler"
	"github.com/ledgersync/backend/internal/interfaces/http/middleware"
	"github.com/ledgersync/backend/internal/interfaces/http/router"
)

// HTTPHandler builds the control API engine on top of the container
func (c *Container) HTTPHandler(version string) (*gin.Engine, error) {
	cfg, log := c.Config, c.Logger

	handler.SetupValidator()
	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: c.Meter,
		Enabled:       cfg.Telemetry.Enabled,
		Logger:        log,
	}))
	engine.Use(middleware.Secure())
	engine.Use(middleware.BodyLimit(middleware.DefaultMaxBodyBytes))

	var metrics http.Handler
	if cfg.Telemetry.MetricsEnabled {
		metrics = c.SyncMetrics.Handler()
	}

	router.SetupControlRoutes(engine, router.Handlers{
		Sync:    handler.NewSyncHandler(c.Orchestrator, c.Client),
		Ledger:  handler.NewLedgerHandler(c.Mapper, c.Engine),
		OAuth:   handler.NewOAuthHandler(c.Tokens),
		System:  handler.NewSystemHandler(cfg.App.Name, version, c.Database),
		Metrics: metrics,
	}, middleware.TracingAttributeInjector(), middleware.SpanErrorMarker())

	return engine, nil
}

// HTTPServer wraps the engine in a server with the configured timeouts
func (c *Container) HTTPServer(engine http.Handler) *http.Server {
	cfg := c.Config
	return &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}
}
