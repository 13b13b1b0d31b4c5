package telemetry

import (
	"context"
	"fmt"
	"os"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/grafana/pyroscope-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/ledgersync/backend/internal/infrastructure/config"
)

// Profiler pushes continuous CPU, allocation and goroutine profiles to
// Pyroscope. A disabled Profiler is a no-op.
type Profiler struct {
	profiler *pyroscope.Profiler
	logger   *zap.Logger
}

// NewProfiler starts profiling when cfg.Enabled is set
func NewProfiler(cfg config.ProfilingConfig, logger *zap.Logger) (*Profiler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Profiler{logger: logger}
	if !cfg.Enabled {
		return p, nil
	}
	if cfg.ServerAddress == "" {
		return nil, fmt.Errorf("profiling.server_address is required when profiling is enabled")
	}

	tags := map[string]string{}
	if host, err := os.Hostname(); err == nil {
		tags["hostname"] = host
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   cfg.ApplicationName,
		ServerAddress:     cfg.ServerAddress,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		Logger:            pyroscopeLogger{logger.Named("pyroscope").Sugar()},
		Tags:              tags,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start profiler: %w", err)
	}
	p.profiler = profiler

	logger.Info("Continuous profiling enabled",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
	)
	return p, nil
}

// IsEnabled reports whether profiles are pushed
func (p *Profiler) IsEnabled() bool {
	return p.profiler != nil
}

// LinkSpans tags profile samples with the active span ID so profiles can be
// opened from a trace. It needs both tracing and profiling enabled.
func (p *Profiler) LinkSpans(tp *TracerProvider) bool {
	if p.profiler == nil || tp == nil || tp.provider == nil {
		return false
	}
	otel.SetTracerProvider(otelpyroscope.NewTracerProvider(tp.provider))
	return true
}

// Stop flushes and stops the profiler
func (p *Profiler) Stop(context.Context) error {
	if p.profiler == nil {
		return nil
	}
	err := p.profiler.Stop()
	p.profiler = nil
	if err != nil {
		return fmt.Errorf("stop profiler: %w", err)
	}
	return nil
}

// WithStageLabels runs fn with the scope and stage attached as pprof labels,
// so CPU time spent reconciling can be split per stage
func WithStageLabels(ctx context.Context, scope, stage string, fn func(context.Context)) {
	pyroscope.TagWrapper(ctx, pyroscope.Labels("sync_scope", scope, "sync_stage", stage), fn)
}

type pyroscopeLogger struct {
	*zap.SugaredLogger
}
