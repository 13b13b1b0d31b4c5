package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/ledgersync/backend/internal/application/orchestrator"
)

// SyncExecutor executes sync jobs
type SyncExecutor interface {
	Execute(ctx context.Context, job *SyncJob) error
}

// ScopeRunner sweeps every stage of a scope
type ScopeRunner interface {
	Continue(ctx context.Context, scope string) ([]*orchestrator.StageReport, error)
}

// OrchestratorExecutor implements SyncExecutor on top of the orchestrator.
// Each execution resumes stages that stopped mid-pass, so a retried job
// picks up from the last persisted cursor.
type OrchestratorExecutor struct {
	runner ScopeRunner
	logger *zap.Logger
}

// NewOrchestratorExecutor creates a new executor
func NewOrchestratorExecutor(runner ScopeRunner, logger *zap.Logger) *OrchestratorExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrchestratorExecutor{runner: runner, logger: logger}
}

// Execute runs one sweep of job.Scope and accumulates the stage summaries
func (e *OrchestratorExecutor) Execute(ctx context.Context, job *SyncJob) error {
	reports, err := e.runner.Continue(ctx, job.Scope)
	for _, r := range reports {
		job.Stages++
		job.Summary.Add(r.Summary)
		e.logger.Debug("Scheduled stage finished",
			zap.String("job_id", job.ID.String()),
			zap.String("scope", job.Scope),
			zap.String("stage", r.Stage.String()),
			zap.String("state", string(r.State)),
			zap.Bool("resumed", r.Resumed),
		)
	}
	return err
}

// Ensure OrchestratorExecutor implements SyncExecutor
var _ SyncExecutor = (*OrchestratorExecutor)(nil)
