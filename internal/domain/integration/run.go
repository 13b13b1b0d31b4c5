package integration

import (
	"time"

	"github.com/google/uuid"
)

// RunState is the terminal state of a sync run
type RunState string

const (
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateFailed    RunState = "FAILED"
)

// SyncRun is one append-only history row per stage invocation
type SyncRun struct {
	ID         uuid.UUID
	Scope      string
	Stage      Stage
	DryRun     bool
	Resumed    bool
	State      RunState
	Summary    StageSummary
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// NewSyncRun starts a run record
func NewSyncRun(scope string, stage Stage, dryRun, resumed bool) *SyncRun {
	return &SyncRun{
		ID:        uuid.New(),
		Scope:     scope,
		Stage:     stage,
		DryRun:    dryRun,
		Resumed:   resumed,
		State:     RunStateRunning,
		StartedAt: time.Now(),
	}
}

// Finish closes the run with its summary and optional fatal error
func (r *SyncRun) Finish(summary StageSummary, err error) {
	now := time.Now()
	r.Summary = summary
	r.FinishedAt = &now
	if err != nil {
		r.State = RunStateFailed
		r.Error = err.Error()
		return
	}
	r.State = RunStateCompleted
}

// RecordError is a persisted per-record failure for audit
type RecordError struct {
	ID         uuid.UUID
	RunID      uuid.UUID
	Scope      string
	Stage      Stage
	ExternalID string
	Kind       ErrorKind
	Message    string
	CreatedAt  time.Time
}

// NewRecordError builds an audit row from a failed record result
func NewRecordError(run *SyncRun, res RecordResult) RecordError {
	return RecordError{
		ID:         uuid.New(),
		RunID:      run.ID,
		Scope:      run.Scope,
		Stage:      run.Stage,
		ExternalID: res.ExternalID,
		Kind:       res.Kind,
		Message:    res.Reason,
		CreatedAt:  time.Now(),
	}
}
