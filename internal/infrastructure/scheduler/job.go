package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/ledgersync/backend/internal/domain/integration"
)

// maxRetryDelay caps the exponential retry backoff
const maxRetryDelay = 30 * time.Minute

// JobStatus represents the status of a scheduled sync job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusPartial JobStatus = "PARTIAL"
	JobStatusFailed  JobStatus = "FAILED"
)

// SyncJob is one scheduled sweep of every stage of a scope
type SyncJob struct {
	ID          uuid.UUID
	Scope       string
	Status      JobStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time

	// Sync results
	Stages  int
	Summary integration.StageSummary

	retry *backoff.ExponentialBackOff
}

// NewSyncJob creates a new sync job
func NewSyncJob(scope string, maxRetries int) *SyncJob {
	return &SyncJob{
		ID:         uuid.New(),
		Scope:      scope,
		Status:     JobStatusPending,
		MaxRetries: maxRetries,
	}
}

// Start marks the job as running
func (j *SyncJob) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
	j.Stages = 0
	j.Summary = integration.StageSummary{}
}

// Complete marks the job as finished; record errors make it partial
func (j *SyncJob) Complete() {
	now := time.Now()
	j.CompletedAt = &now
	if j.Summary.Errors > 0 {
		j.Status = JobStatusPartial
		return
	}
	j.Status = JobStatusSuccess
}

// Fail marks the job as failed
func (j *SyncJob) Fail(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if the job should be retried
func (j *SyncJob) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry puts a failed job back to pending and returns the delay before
// the next attempt: baseDelay doubling per retry, capped at maxRetryDelay.
func (j *SyncJob) ScheduleRetry(baseDelay time.Duration) time.Duration {
	if j.retry == nil {
		j.retry = newRetryBackOff(baseDelay)
	}
	delay := j.retry.NextBackOff()

	j.RetryCount++
	j.Status = JobStatusPending
	j.Error = ""
	next := time.Now().Add(delay)
	j.NextRetryAt = &next
	return delay
}

func newRetryBackOff(baseDelay time.Duration) *backoff.ExponentialBackOff {
	if baseDelay <= 0 || baseDelay > maxRetryDelay {
		baseDelay = maxRetryDelay
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
