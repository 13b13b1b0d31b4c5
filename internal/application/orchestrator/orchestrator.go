// Package orchestrator drives the staged sync of one scope: it pages through
// each collection, stores every record in the truth store, reconciles
// identities and posts transactions, persisting a resumable cursor per stage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ledgersync/backend/internal/application/mapping"
	"github.com/ledgersync/backend/internal/application/posting"
	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/domain/ledger"
	"github.com/ledgersync/backend/internal/infrastructure/logger"
	"github.com/ledgersync/backend/internal/infrastructure/telemetry"
)

// Ingester stores fetched records in the truth store
type Ingester interface {
	Ingest(ctx context.Context, rec *integration.ExternalRecord) (*integration.IngestResult, error)
}

// Resolver maps customer and item records to canonical entities
type Resolver interface {
	Resolve(ctx context.Context, rec *integration.ExternalRecord) (*mapping.ResolveResult, error)
}

// Builder assembles a ledger transaction from an invoice or payment record
type Builder interface {
	Build(ctx context.Context, rec *integration.ExternalRecord) (*ledger.Transaction, string, error)
}

// Poster commits ledger entries
type Poster interface {
	Post(ctx context.Context, txn *ledger.Transaction) (*posting.PostResult, error)
	IsPosted(ctx context.Context, scope string, kind ledger.TransactionKind, externalID string) (bool, error)
}

// Metrics receives per-record and per-stage observations
type Metrics interface {
	RecordOutcome(scope, stage, outcome string)
	RecordError(stage, kind string)
	ObserveStage(scope, stage, status string, d time.Duration)
}

// Dependencies groups the collaborators of an Orchestrator
type Dependencies struct {
	Source   integration.Source
	Truth    Ingester
	Resolver Resolver
	Builder  Builder
	Poster   Poster
	Cursors  integration.CursorRepository
	Runs     integration.SyncRunRepository
	Metrics  Metrics
	Logger   *zap.Logger
}

// Options tunes page processing
type Options struct {
	// RecordConcurrency bounds the records of one page processed at once
	RecordConcurrency int
	// RecordErrorLimit caps the RecordError rows persisted per run
	RecordErrorLimit int
	// IncrementalOverlap moves an incremental Since back from the last sync
	IncrementalOverlap time.Duration
}

// RunRequest starts a fresh pass of one stage
type RunRequest struct {
	Scope     string
	Stage     integration.Stage
	StartDate *time.Time
	DryRun    bool
}

// startDateLayouts are the accepted start date formats, date-only first
var startDateLayouts = []string{"2006-01-02", time.RFC3339}

// ParseStartDate parses an optional start date given as YYYY-MM-DD or RFC3339.
// An empty string means no lower bound.
func ParseStartDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range startDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: start date %q must be YYYY-MM-DD or RFC3339", integration.ErrValidation, s)
}

// StageReport is the structured summary of one stage invocation
type StageReport struct {
	RunID       string                        `json:"run_id"`
	Scope       string                        `json:"scope"`
	Stage       integration.Stage             `json:"stage"`
	DryRun      bool                          `json:"dry_run"`
	Resumed     bool                          `json:"resumed"`
	State       integration.StageState        `json:"state"`
	Cursor      string                        `json:"cursor,omitempty"`
	Summary     integration.StageSummary      `json:"summary"`
	SkipReasons map[string]int                `json:"skip_reasons,omitempty"`
	ErrorKinds  map[integration.ErrorKind]int `json:"error_kinds,omitempty"`
	Errors      []RecordFailure               `json:"errors,omitempty"`
	Error       string                        `json:"error,omitempty"`
	Duration    time.Duration                 `json:"duration"`
}

// RecordFailure is one failed record listed in a report
type RecordFailure struct {
	ExternalID string                `json:"external_id"`
	Kind       integration.ErrorKind `json:"kind"`
	Message    string                `json:"message"`
}

func (r *StageReport) record(res integration.RecordResult, limit int) {
	r.Summary.Record(res)
	switch res.Outcome {
	case integration.OutcomeSkipped:
		r.SkipReasons[res.Reason]++
	case integration.OutcomeError:
		r.ErrorKinds[res.Kind]++
		if limit <= 0 || len(r.Errors) < limit {
			r.Errors = append(r.Errors, RecordFailure{ExternalID: res.ExternalID, Kind: res.Kind, Message: res.Reason})
		}
	}
}

// Orchestrator runs sync stages. At most one pass per (scope, stage) is in
// flight, and cursor writes go through a single mutex.
type Orchestrator struct {
	source   integration.Source
	truth    Ingester
	resolver Resolver
	builder  Builder
	poster   Poster
	cursors  integration.CursorRepository
	runs     integration.SyncRunRepository
	metrics  Metrics
	logger   *zap.Logger
	opts     Options

	cursorMu sync.Mutex

	runningMu sync.Mutex
	running   map[string]struct{}
}

// New creates a new Orchestrator
func New(deps Dependencies, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.RecordConcurrency <= 0 {
		opts.RecordConcurrency = 1
	}
	return &Orchestrator{
		source:   deps.Source,
		truth:    deps.Truth,
		resolver: deps.Resolver,
		builder:  deps.Builder,
		poster:   deps.Poster,
		cursors:  deps.Cursors,
		runs:     deps.Runs,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		opts:     opts,
		running:  make(map[string]struct{}),
	}
}

// RunStage starts a fresh pass of req.Stage from an empty cursor. Since is
// req.StartDate, or the stage's last successful sync time when nil.
func (o *Orchestrator) RunStage(ctx context.Context, req RunRequest) (*StageReport, error) {
	return o.runStage(ctx, req, false)
}

func (o *Orchestrator) runStage(ctx context.Context, req RunRequest, prerequisiteMet bool) (*StageReport, error) {
	if err := validateTarget(req.Scope, req.Stage); err != nil {
		return nil, err
	}
	if !prerequisiteMet {
		if err := o.checkPrerequisite(ctx, req.Scope, req.Stage); err != nil {
			return nil, err
		}
	}

	release, err := o.acquire(req.Scope, req.Stage)
	if err != nil {
		return nil, err
	}
	defer release()

	cursor, err := o.loadCursor(ctx, req.Scope, req.Stage)
	if err != nil {
		return nil, err
	}
	since := req.StartDate
	if since == nil && cursor.LastSyncedAt != nil {
		from := cursor.LastSyncedAt.Add(-o.opts.IncrementalOverlap)
		since = &from
	}
	cursor.Begin(since)

	return o.execute(ctx, cursor, req.DryRun, false)
}

// Resume continues a stage that stopped before completing its pass, from
// the stored cursor and Since.
func (o *Orchestrator) Resume(ctx context.Context, stage integration.Stage, scope string) (*StageReport, error) {
	if err := validateTarget(scope, stage); err != nil {
		return nil, err
	}
	if err := o.checkPrerequisite(ctx, scope, stage); err != nil {
		return nil, err
	}

	release, err := o.acquire(scope, stage)
	if err != nil {
		return nil, err
	}
	defer release()

	cursor, err := o.cursors.Find(ctx, scope, stage)
	if err != nil {
		if errors.Is(err, integration.ErrCursorNotFound) {
			return nil, fmt.Errorf("%w: %s has never run for %s", integration.ErrStageNotResumable, stage, scope)
		}
		return nil, err
	}
	if !cursor.CanResume() {
		return nil, fmt.Errorf("%w: %s is %s", integration.ErrStageNotResumable, stage, cursor.State)
	}
	cursor.Reenter()

	return o.execute(ctx, cursor, false, true)
}

// RunAll runs every stage in order and stops at the first stage-fatal error.
// The reports of the stages that ran are returned alongside the error.
func (o *Orchestrator) RunAll(ctx context.Context, scope string, startDate *time.Time, dryRun bool) ([]*StageReport, error) {
	reports := make([]*StageReport, 0, len(integration.StageOrder))
	for i, stage := range integration.StageOrder {
		// A dry run persists no cursors, so within one sweep the previous
		// stage having run stands in for its completion.
		report, err := o.runStage(ctx, RunRequest{
			Scope:     scope,
			Stage:     stage,
			StartDate: startDate,
			DryRun:    dryRun,
		}, dryRun && i > 0)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// Continue runs every stage in order, resuming the stages that stopped
// mid-pass and starting an incremental pass for the rest.
func (o *Orchestrator) Continue(ctx context.Context, scope string) ([]*StageReport, error) {
	reports := make([]*StageReport, 0, len(integration.StageOrder))
	for _, stage := range integration.StageOrder {
		resumable, err := o.resumable(ctx, scope, stage)
		if err != nil {
			return reports, err
		}
		var report *StageReport
		if resumable {
			report, err = o.Resume(ctx, stage, scope)
		} else {
			report, err = o.RunStage(ctx, RunRequest{Scope: scope, Stage: stage})
		}
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

func (o *Orchestrator) resumable(ctx context.Context, scope string, stage integration.Stage) (bool, error) {
	cursor, err := o.cursors.Find(ctx, scope, stage)
	if err != nil {
		if errors.Is(err, integration.ErrCursorNotFound) {
			return false, nil
		}
		return false, err
	}
	return cursor.CanResume(), nil
}

// StageStatus is the persisted position of one stage
type StageStatus struct {
	Stage        integration.Stage        `json:"stage"`
	State        integration.StageState   `json:"state"`
	FailedReason string                   `json:"failed_reason,omitempty"`
	Cursor       string                   `json:"cursor,omitempty"`
	Since        *time.Time               `json:"since,omitempty"`
	LastSyncedAt *time.Time               `json:"last_synced_at,omitempty"`
	LastRunStats integration.StageSummary `json:"last_run_stats"`
	LastRun      *integration.SyncRun     `json:"last_run,omitempty"`
}

// Status returns the state of every stage of scope, in stage order
func (o *Orchestrator) Status(ctx context.Context, scope string) ([]StageStatus, error) {
	if scope == "" {
		return nil, fmt.Errorf("%w: scope is required", integration.ErrValidation)
	}
	cursors, err := o.cursors.FindByScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	byStage := make(map[integration.Stage]*integration.SyncCursor, len(cursors))
	for i := range cursors {
		byStage[cursors[i].Stage] = &cursors[i]
	}

	statuses := make([]StageStatus, 0, len(integration.StageOrder))
	for _, stage := range integration.StageOrder {
		st := StageStatus{Stage: stage, State: integration.StageStatePending}
		if c, ok := byStage[stage]; ok {
			st.State = c.State
			st.FailedReason = c.FailedReason
			st.Cursor = c.Cursor
			st.Since = c.Since
			st.LastSyncedAt = c.LastSyncedAt
			st.LastRunStats = c.LastRun
		}
		run, err := o.runs.LatestByStage(ctx, scope, stage)
		switch {
		case err == nil:
			st.LastRun = run
		case !errors.Is(err, integration.ErrRunNotFound):
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// ---------------------------------------------------------------------------
// Stage execution
// ---------------------------------------------------------------------------

func (o *Orchestrator) execute(ctx context.Context, cursor *integration.SyncCursor, dryRun, resumed bool) (*StageReport, error) {
	run := integration.NewSyncRun(cursor.Scope, cursor.Stage, dryRun, resumed)
	ctx, log := logger.WithScope(ctx, o.logger, cursor.Scope)
	ctx, log = logger.WithStage(ctx, log, cursor.Stage.String())
	ctx, log = logger.WithRunID(ctx, log, run.ID.String())

	ctx, span := telemetry.StartServiceSpan(ctx, "SyncOrchestrator", "RunStage",
		telemetry.WithAttribute(telemetry.SpanAttrScope, cursor.Scope),
		telemetry.WithAttribute(telemetry.SpanAttrStage, cursor.Stage.String()),
		telemetry.WithAttribute(telemetry.SpanAttrRunID, run.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrDryRun, dryRun),
	)
	defer span.End()

	report := &StageReport{
		RunID:       run.ID.String(),
		Scope:       cursor.Scope,
		Stage:       cursor.Stage,
		DryRun:      dryRun,
		Resumed:     resumed,
		SkipReasons: make(map[string]int),
		ErrorKinds:  make(map[integration.ErrorKind]int),
	}

	persist := context.WithoutCancel(ctx)
	if err := o.runs.Save(persist, run); err != nil {
		return nil, fmt.Errorf("failed to record sync run: %w", err)
	}
	if err := o.saveCursor(persist, cursor, dryRun); err != nil {
		return nil, err
	}

	log.Info("Starting sync stage",
		zap.Bool("dry_run", dryRun),
		zap.Bool("resumed", resumed),
		zap.String("cursor", cursor.Cursor),
	)

	started := time.Now()
	var failures []integration.RecordResult
	var err error
	telemetry.WithStageLabels(ctx, cursor.Scope, cursor.Stage.String(), func(ctx context.Context) {
		failures, err = o.pages(ctx, cursor, report, dryRun)
	})
	report.Duration = time.Since(started)

	if err != nil {
		reason := err.Error()
		if integration.ClassifyError(err) == integration.ErrorKindCanceled {
			reason = "canceled"
		}
		cursor.Fail(reason)
		telemetry.RecordError(span, err)
	} else {
		cursor.Complete(run.StartedAt)
	}
	report.State = cursor.State
	report.Cursor = cursor.Cursor

	if saveErr := o.saveCursor(persist, cursor, dryRun); saveErr != nil && err == nil {
		err = saveErr
	}
	o.finishRun(persist, run, report, failures, err, log)

	status := "completed"
	if err != nil {
		status = "failed"
		report.Error = err.Error()
	}
	if o.metrics != nil {
		o.metrics.ObserveStage(cursor.Scope, cursor.Stage.String(), status, report.Duration)
	}
	telemetry.SetAttributes(span,
		"sync.fetched", report.Summary.Fetched,
		"sync.posted", report.Summary.Posted,
		"sync.skipped", report.Summary.Skipped,
		"sync.errors", report.Summary.Errors,
	)

	if err != nil {
		log.Error("Sync stage failed",
			zap.String("cursor", cursor.Cursor),
			zap.String("error_kind", string(integration.ClassifyError(err))),
			zap.Error(err),
		)
		return report, fmt.Errorf("stage %s for %s: %w", cursor.Stage, cursor.Scope, err)
	}
	log.Info("Sync stage completed",
		zap.Int("fetched", report.Summary.Fetched),
		zap.Int("posted", report.Summary.Posted),
		zap.Int("skipped", report.Summary.Skipped),
		zap.Int("errors", report.Summary.Errors),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// pages walks the collection page by page. Cancellation is honored between
// pages; the records of a fetched page always run to completion so the
// cursor only ever names a fully processed prefix.
func (o *Orchestrator) pages(ctx context.Context, cursor *integration.SyncCursor, report *StageReport, dryRun bool) ([]integration.RecordResult, error) {
	var failures []integration.RecordResult
	after := cursor.Cursor
	pageCtx := context.WithoutCancel(ctx)

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return failures, err
		}

		cursor.Enter(integration.StageStateFetching)
		fetched, err := o.source.FetchPage(ctx, cursor.Scope, cursor.Stage.Kind(), integration.PageRequest{
			Cursor: after,
			Since:  cursor.Since,
		})
		if err != nil {
			return failures, err
		}

		results, err := o.processPage(pageCtx, cursor, fetched.Records, dryRun)
		if err != nil {
			return failures, err
		}

		pageSummary := integration.StageSummary{Fetched: len(fetched.Records)}
		report.Summary.Fetched += len(fetched.Records)
		for _, res := range results {
			pageSummary.Record(res)
			report.record(res, o.opts.RecordErrorLimit)
			if res.Outcome == integration.OutcomeError {
				failures = append(failures, res)
			}
			if o.metrics != nil {
				o.metrics.RecordOutcome(cursor.Scope, cursor.Stage.String(), strings.ToLower(string(res.Outcome)))
				if res.Outcome == integration.OutcomeError {
					o.metrics.RecordError(cursor.Stage.String(), string(res.Kind))
				}
			}
		}

		after = fetched.EndCursor
		if !dryRun {
			cursor.Advance(fetched.EndCursor, pageSummary)
			if err := o.saveCursor(pageCtx, cursor, dryRun); err != nil {
				return failures, err
			}
		}

		logger.L(ctx).Debug("Processed page",
			zap.Int("page", page),
			zap.Int("records", len(fetched.Records)),
			zap.String("end_cursor", fetched.EndCursor),
			zap.Bool("has_next_page", fetched.HasNextPage),
		)

		if !fetched.HasNextPage || fetched.EndCursor == "" {
			return failures, nil
		}
	}
}

// processPage ingests and reconciles every record of a page concurrently,
// then posts the transactions that came out of reconciliation. A stage-fatal
// error from any record aborts the page before its cursor is persisted.
func (o *Orchestrator) processPage(ctx context.Context, cursor *integration.SyncCursor, records []*integration.ExternalRecord, dryRun bool) ([]integration.RecordResult, error) {
	results := make([]integration.RecordResult, len(records))
	pending := make([]*ledger.Transaction, len(records))

	cursor.Enter(integration.StageStateReconciling)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.RecordConcurrency)
	for i, rec := range records {
		g.Go(func() error {
			res, txn, err := o.reconcile(gctx, cursor.Stage, rec, dryRun)
			if err != nil {
				return err
			}
			results[i] = res
			pending[i] = txn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if dryRun || !cursor.Stage.Posts() {
		return results, nil
	}

	cursor.Enter(integration.StageStatePosting)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(o.opts.RecordConcurrency)
	for i, txn := range pending {
		if txn == nil {
			continue
		}
		g.Go(func() error {
			res, err := o.post(gctx, txn)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// reconcile stores one record and maps it. For posting stages it returns
// the transaction to post, or nil with a final result.
func (o *Orchestrator) reconcile(ctx context.Context, stage integration.Stage, rec *integration.ExternalRecord, dryRun bool) (integration.RecordResult, *ledger.Transaction, error) {
	ingested, err := o.truth.Ingest(ctx, rec)
	if err != nil {
		return o.recordFailure(ctx, rec.ExternalID, err)
	}
	stored := ingested.Record

	if !stage.Posts() {
		if _, err := o.resolver.Resolve(ctx, stored); err != nil {
			return o.recordFailure(ctx, rec.ExternalID, err)
		}
		return integration.Skipped(rec.ExternalID, integration.SkipReasonReconciled), nil, nil
	}

	txn, reason, err := o.builder.Build(ctx, stored)
	if err != nil {
		return o.recordFailure(ctx, rec.ExternalID, err)
	}
	if txn == nil {
		return integration.Skipped(rec.ExternalID, reason), nil, nil
	}

	if dryRun {
		posted, err := o.poster.IsPosted(ctx, txn.Scope, txn.Kind, txn.ExternalID)
		if err != nil {
			return o.recordFailure(ctx, rec.ExternalID, err)
		}
		if posted {
			return integration.Skipped(rec.ExternalID, integration.SkipReasonAlreadyDone), nil, nil
		}
		return integration.Skipped(rec.ExternalID, integration.SkipReasonDryRun), nil, nil
	}
	return integration.RecordResult{}, txn, nil
}

func (o *Orchestrator) post(ctx context.Context, txn *ledger.Transaction) (integration.RecordResult, error) {
	res, err := o.poster.Post(ctx, txn)
	if err != nil {
		result, _, err := o.recordFailure(ctx, txn.ExternalID, err)
		return result, err
	}
	switch {
	case res.BodyChanged:
		return integration.Skipped(txn.ExternalID, integration.SkipReasonImmutable), nil
	case res.AlreadyPosted:
		return integration.Skipped(txn.ExternalID, integration.SkipReasonAlreadyDone), nil
	}
	return integration.Posted(txn.ExternalID), nil
}

// recordFailure turns a record-level error into a result. Errors that are
// fatal to the stage are returned instead so the page is abandoned.
func (o *Orchestrator) recordFailure(ctx context.Context, externalID string, err error) (integration.RecordResult, *ledger.Transaction, error) {
	if integration.IsStageFatal(err) {
		return integration.RecordResult{}, nil, err
	}
	res := integration.Failed(externalID, err)
	if res.Outcome == integration.OutcomeError {
		logger.L(ctx).Warn("Record failed",
			zap.String("external_id", externalID),
			zap.String("error_kind", string(res.Kind)),
			zap.Error(err),
		)
	}
	return res, nil, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func validateTarget(scope string, stage integration.Stage) error {
	if scope == "" {
		return fmt.Errorf("%w: scope is required", integration.ErrValidation)
	}
	if !stage.IsValid() {
		return fmt.Errorf("%w: %q", integration.ErrInvalidStage, stage)
	}
	return nil
}

func (o *Orchestrator) checkPrerequisite(ctx context.Context, scope string, stage integration.Stage) error {
	prev, ok := stage.Prerequisite()
	if !ok {
		return nil
	}
	cursor, err := o.cursors.Find(ctx, scope, prev)
	if err != nil {
		if errors.Is(err, integration.ErrCursorNotFound) {
			return fmt.Errorf("%w: %s requires %s", integration.ErrStageOrder, stage, prev)
		}
		return err
	}
	if !cursor.HasCompleted() {
		return fmt.Errorf("%w: %s requires %s (currently %s)", integration.ErrStageOrder, stage, prev, cursor.State)
	}
	return nil
}

func (o *Orchestrator) acquire(scope string, stage integration.Stage) (func(), error) {
	key := scope + ":" + stage.String()
	o.runningMu.Lock()
	defer o.runningMu.Unlock()
	if _, busy := o.running[key]; busy {
		return nil, fmt.Errorf("%w: %s %s", integration.ErrStageAlreadyRunning, scope, stage)
	}
	o.running[key] = struct{}{}
	return func() {
		o.runningMu.Lock()
		delete(o.running, key)
		o.runningMu.Unlock()
	}, nil
}

func (o *Orchestrator) loadCursor(ctx context.Context, scope string, stage integration.Stage) (*integration.SyncCursor, error) {
	cursor, err := o.cursors.Find(ctx, scope, stage)
	if err == nil {
		return cursor, nil
	}
	if errors.Is(err, integration.ErrCursorNotFound) {
		return integration.NewSyncCursor(scope, stage), nil
	}
	return nil, err
}

// saveCursor is the single writer of cursor rows. Dry runs never persist.
func (o *Orchestrator) saveCursor(ctx context.Context, cursor *integration.SyncCursor, dryRun bool) error {
	if dryRun {
		return nil
	}
	o.cursorMu.Lock()
	defer o.cursorMu.Unlock()
	if err := o.cursors.Save(ctx, cursor); err != nil {
		return fmt.Errorf("failed to save sync cursor: %w", err)
	}
	return nil
}

func (o *Orchestrator) finishRun(ctx context.Context, run *integration.SyncRun, report *StageReport, failures []integration.RecordResult, runErr error, log *zap.Logger) {
	run.Finish(report.Summary, runErr)
	if err := o.runs.Save(ctx, run); err != nil {
		log.Error("Failed to finish sync run", zap.Error(err))
	}

	if limit := o.opts.RecordErrorLimit; limit > 0 && len(failures) > limit {
		failures = failures[:limit]
	}
	rows := make([]integration.RecordError, len(failures))
	for i, res := range failures {
		rows[i] = integration.NewRecordError(run, res)
	}
	if err := o.runs.SaveRecordErrors(ctx, rows); err != nil {
		log.Error("Failed to persist record errors", zap.Int("count", len(rows)), zap.Error(err))
	}
}
