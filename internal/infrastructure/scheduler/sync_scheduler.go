package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/infrastructure/config"
)

// ---------------------------------------------------------------------------
// SyncSchedulerConfig
// ---------------------------------------------------------------------------

// SyncSchedulerConfig holds configuration for the sync scheduler
type SyncSchedulerConfig struct {
	// Interval is how often every scope is swept
	Interval time.Duration
	// Scopes lists the scopes swept on each tick
	Scopes []string
	// MaxConcurrentScopes is the number of workers running sweeps
	MaxConcurrentScopes int
	// RunTimeout is the maximum time one sweep can run
	RunTimeout time.Duration
	// RetryAttempts is the number of retry attempts for failed sweeps
	RetryAttempts int
	// RetryDelay is the base delay between retries (with exponential backoff)
	RetryDelay time.Duration
	// QueueSize bounds the pending jobs
	QueueSize int
}

// ConfigFrom builds the scheduler configuration from the application config
func ConfigFrom(cfg config.SchedulerConfig, scopes []string) SyncSchedulerConfig {
	return SyncSchedulerConfig{
		Interval:            cfg.Interval,
		Scopes:              scopes,
		MaxConcurrentScopes: cfg.MaxConcurrentScopes,
		RunTimeout:          cfg.RunTimeout,
		RetryAttempts:       cfg.RetryAttempts,
		RetryDelay:          cfg.RetryDelay,
		QueueSize:           100,
	}
}

// Validate validates the configuration
func (c *SyncSchedulerConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.MaxConcurrentScopes <= 0 {
		return fmt.Errorf("%w: max_concurrent_scopes must be positive", ErrInvalidConfig)
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("%w: run_timeout must be positive", ErrInvalidConfig)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry_attempts cannot be negative", ErrInvalidConfig)
	}
	if c.RetryAttempts > 0 && c.RetryDelay <= 0 {
		return fmt.Errorf("%w: retry_delay must be positive", ErrInvalidConfig)
	}
	for _, s := range c.Scopes {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: blank scope", ErrInvalidConfig)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// SyncScheduler
// ---------------------------------------------------------------------------

// SyncScheduler sweeps every configured scope on a fixed interval. At most
// one job per scope is queued, running or waiting for a retry at a time.
type SyncScheduler struct {
	config   SyncSchedulerConfig
	executor SyncExecutor
	logger   *zap.Logger

	jobs      chan *SyncJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	activeMu sync.Mutex
	active   map[string]*SyncJob

	// Job history for monitoring (in-memory, limited size)
	historyMu  sync.RWMutex
	history    []*SyncJob
	maxHistory int
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(cfg SyncSchedulerConfig, executor SyncExecutor, logger *zap.Logger) (*SyncScheduler, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SyncScheduler{
		config:     cfg,
		executor:   executor,
		logger:     logger,
		jobs:       make(chan *SyncJob, cfg.QueueSize),
		active:     make(map[string]*SyncJob),
		history:    make([]*SyncJob, 0, 100),
		maxHistory: 100,
	}, nil
}

// Start starts the workers and the interval trigger. The first sweep is
// scheduled immediately.
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.MaxConcurrentScopes; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Sync scheduler started",
		zap.Int("workers", s.config.MaxConcurrentScopes),
		zap.Duration("interval", s.config.Interval),
		zap.Strings("scopes", s.config.Scopes),
	)
	return nil
}

// Stop cancels running sweeps and waits for the workers to exit
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	close(s.jobs)
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sync scheduler stop timed out")
		return ctx.Err()
	}
}

// ScheduleSync queues a sweep of scope unless one is already in progress
func (s *SyncScheduler) ScheduleSync(scope string) error {
	job := NewSyncJob(scope, s.config.RetryAttempts)

	s.activeMu.Lock()
	if _, busy := s.active[scope]; busy {
		s.activeMu.Unlock()
		return fmt.Errorf("%w: %s", ErrSyncAlreadyInProgress, scope)
	}
	s.active[scope] = job
	s.activeMu.Unlock()

	if err := s.submit(job); err != nil {
		s.release(job)
		return err
	}
	return nil
}

// submit queues job without blocking
func (s *SyncScheduler) submit(job *SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}

	select {
	case s.jobs <- job:
		s.logger.Debug("Sync job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("scope", job.Scope),
			zap.Int("retry_count", job.RetryCount),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

func (s *SyncScheduler) release(job *SyncJob) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if s.active[job.Scope] == job {
		delete(s.active, job.Scope)
	}
}

// runLoop schedules every scope on start and on each tick
func (s *SyncScheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.scheduleAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scheduleAll()
		}
	}
}

func (s *SyncScheduler) scheduleAll() {
	for _, scope := range s.config.Scopes {
		if err := s.ScheduleSync(scope); err != nil {
			// a scope still busy from the previous tick is expected on short intervals
			s.logger.Debug("Sync not scheduled",
				zap.String("scope", scope),
				zap.Error(err),
			)
		}
	}
}

// worker processes jobs from the queue
func (s *SyncScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			s.processJob(ctx, job, workerID)
		}
	}
}

// processJob executes a single job and schedules its retry on failure
func (s *SyncScheduler) processJob(ctx context.Context, job *SyncJob, workerID int) {
	job.Start()
	s.logger.Info("Processing sync job",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("scope", job.Scope),
		zap.Int("retry_count", job.RetryCount),
	)

	jobCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	err := s.executor.Execute(jobCtx, job)
	cancel()

	if err == nil {
		job.Complete()
		s.logger.Info("Sync job completed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("scope", job.Scope),
			zap.String("status", string(job.Status)),
			zap.Int("stages", job.Stages),
			zap.Int("fetched", job.Summary.Fetched),
			zap.Int("posted", job.Summary.Posted),
			zap.Int("skipped", job.Summary.Skipped),
			zap.Int("errors", job.Summary.Errors),
		)
		s.finish(job)
		return
	}

	job.Fail(err.Error())
	s.logger.Error("Sync job failed",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("scope", job.Scope),
		zap.String("error_kind", string(integration.ClassifyError(err))),
		zap.Error(err),
	)

	if !job.ShouldRetry() || !retryable(ctx, err) {
		s.finish(job)
		return
	}

	delay := job.ScheduleRetry(s.config.RetryDelay)
	s.logger.Info("Sync job scheduled for retry",
		zap.String("job_id", job.ID.String()),
		zap.Int("retry_count", job.RetryCount),
		zap.Int("max_retries", job.MaxRetries),
		zap.Time("next_retry_at", *job.NextRetryAt),
	)
	time.AfterFunc(delay, func() {
		if err := s.submit(job); err != nil {
			s.logger.Warn("Failed to re-queue sync job for retry",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
			job.Fail(err.Error())
			s.finish(job)
		}
	})
}

// retryable excludes errors a retry cannot fix: an unbalanced posting needs
// a rules or data fix, and a canceled scheduler is shutting down.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !integration.IsRunFatal(err)
}

func (s *SyncScheduler) finish(job *SyncJob) {
	s.addToHistory(job)
	s.release(job)
}

// addToHistory adds a finished job to history
func (s *SyncScheduler) addToHistory(job *SyncJob) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append([]*SyncJob{job}, s.history...)
	if len(s.history) > s.maxHistory {
		s.history = s.history[:s.maxHistory]
	}
}

// GetJobHistory returns recent job history, newest first
func (s *SyncScheduler) GetJobHistory(limit int) []*SyncJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]*SyncJob, limit)
	copy(result, s.history[:limit])
	return result
}

// InProgress reports whether a job for scope is queued, running or waiting to retry
func (s *SyncScheduler) InProgress(scope string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	_, ok := s.active[scope]
	return ok
}
