package integration

import (
	"time"
)

// Stage is one sync pass over a single record kind
type Stage string

const (
	StageCustomers Stage = "customers"
	StageItems     Stage = "items"
	StageInvoices  Stage = "invoices"
	StagePayments  Stage = "payments"
)

// StageOrder is the enforced execution order.
// Invoices reference customers and items; payments reference invoices.
var StageOrder = []Stage{StageCustomers, StageItems, StageInvoices, StagePayments}

// ParseStage converts a string into a Stage
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if !st.IsValid() {
		return "", ErrInvalidStage
	}
	return st, nil
}

// IsValid returns true if the stage is known
func (s Stage) IsValid() bool {
	switch s {
	case StageCustomers, StageItems, StageInvoices, StagePayments:
		return true
	}
	return false
}

// String returns the string representation of Stage
func (s Stage) String() string {
	return string(s)
}

// Kind returns the record kind the stage pulls
func (s Stage) Kind() RecordKind {
	switch s {
	case StageCustomers:
		return RecordKindCustomer
	case StageItems:
		return RecordKindItem
	case StageInvoices:
		return RecordKindInvoice
	case StagePayments:
		return RecordKindPayment
	}
	return ""
}

// Prerequisite returns the stage that must have completed first, if any
func (s Stage) Prerequisite() (Stage, bool) {
	for i, st := range StageOrder {
		if st == s && i > 0 {
			return StageOrder[i-1], true
		}
	}
	return "", false
}

// Posts reports whether the stage produces ledger entries
func (s Stage) Posts() bool {
	return s == StageInvoices || s == StagePayments
}

// StageState is the state machine position of a stage for one scope
type StageState string

const (
	StageStatePending     StageState = "PENDING"
	StageStateFetching    StageState = "FETCHING"
	StageStateReconciling StageState = "RECONCILING"
	StageStatePosting     StageState = "POSTING"
	StageStateCompleted   StageState = "COMPLETED"
	StageStateFailed      StageState = "FAILED"
)

// IsActive returns true while a pass is in flight
func (s StageState) IsActive() bool {
	return s == StageStateFetching || s == StageStateReconciling || s == StageStatePosting
}

// StageSummary counts per-outcome results of a stage pass
type StageSummary struct {
	Fetched int `json:"fetched"`
	Posted  int `json:"posted"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Add accumulates another summary
func (s *StageSummary) Add(o StageSummary) {
	s.Fetched += o.Fetched
	s.Posted += o.Posted
	s.Skipped += o.Skipped
	s.Errors += o.Errors
}

// Record counts one record result
func (s *StageSummary) Record(r RecordResult) {
	switch r.Outcome {
	case OutcomePosted:
		s.Posted++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeError:
		s.Errors++
	}
}

// SyncCursor is the per-(scope, stage) resume pointer.
// Cursor is the opaque pagination token of the last fully processed page.
type SyncCursor struct {
	Scope        string
	Stage        Stage
	State        StageState
	FailedReason string
	Cursor       string
	Since        *time.Time
	LastSyncedAt *time.Time
	LastRun      StageSummary
	UpdatedAt    time.Time
}

// NewSyncCursor creates a pending cursor
func NewSyncCursor(scope string, stage Stage) *SyncCursor {
	return &SyncCursor{
		Scope:     scope,
		Stage:     stage,
		State:     StageStatePending,
		UpdatedAt: time.Now(),
	}
}

// Begin starts a fresh pass filtered by since
func (c *SyncCursor) Begin(since *time.Time) {
	c.Cursor = ""
	c.Since = since
	c.FailedReason = ""
	c.LastRun = StageSummary{}
	c.transition(StageStateFetching)
}

// Reenter resumes a pass from the stored cursor
func (c *SyncCursor) Reenter() {
	c.FailedReason = ""
	c.transition(StageStateFetching)
}

// CanResume returns true if the stage stopped before completing a pass
func (c *SyncCursor) CanResume() bool {
	return c.State == StageStateFailed || c.State.IsActive()
}

// Enter moves into an in-flight state
func (c *SyncCursor) Enter(state StageState) {
	c.transition(state)
}

// Advance records a fully processed page
func (c *SyncCursor) Advance(endCursor string, page StageSummary) {
	c.Cursor = endCursor
	c.LastRun.Add(page)
	c.UpdatedAt = time.Now()
}

// Complete closes the pass; the next fresh pass is incremental from startedAt
func (c *SyncCursor) Complete(startedAt time.Time) {
	c.Cursor = ""
	c.LastSyncedAt = &startedAt
	c.transition(StageStateCompleted)
}

// Fail stops the pass and keeps Cursor pointing at the last good page
func (c *SyncCursor) Fail(reason string) {
	c.FailedReason = reason
	c.transition(StageStateFailed)
}

// HasCompleted returns true once any pass of the stage completed
func (c *SyncCursor) HasCompleted() bool {
	return c.LastSyncedAt != nil && c.State != StageStateFailed
}

func (c *SyncCursor) transition(state StageState) {
	c.State = state
	c.UpdatedAt = time.Now()
}
