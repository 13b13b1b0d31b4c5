package scheduler

import "errors"

// Errors returned by SyncScheduler
var (
	ErrSchedulerNotRunning   = errors.New("sync scheduler stopped")
	ErrJobQueueFull          = errors.New("sync queue full")
	ErrInvalidConfig         = errors.New("bad scheduler config")
	ErrSyncAlreadyInProgress = errors.New("scope already queued or syncing")
)
