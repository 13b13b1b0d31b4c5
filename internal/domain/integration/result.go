package integration

// RecordOutcome is the typed per-record result aggregated by the orchestrator
type RecordOutcome string

const (
	OutcomePosted  RecordOutcome = "POSTED"
	OutcomeSkipped RecordOutcome = "SKIPPED"
	OutcomeError   RecordOutcome = "ERROR"
)

// Skip reasons
const (
	SkipReasonDryRun      = "dry_run"
	SkipReasonAlreadyDone = "already_posted"
	SkipReasonReconciled  = "reconciled"
	SkipReasonImmutable   = "posted_transaction_changed"
	SkipReasonNotPostable = "not_postable"
	SkipReasonZeroAmount  = "zero_amount"
)

// RecordResult is the outcome of processing one external record
type RecordResult struct {
	ExternalID string
	Outcome    RecordOutcome
	Reason     string
	Kind       ErrorKind
	Err        error
}

// Posted builds a posted result
func Posted(externalID string) RecordResult {
	return RecordResult{ExternalID: externalID, Outcome: OutcomePosted}
}

// Skipped builds a skipped result
func Skipped(externalID, reason string) RecordResult {
	return RecordResult{ExternalID: externalID, Outcome: OutcomeSkipped, Reason: reason}
}

// Failed builds an error result classified by ClassifyError.
// A duplicate external id is a successful no-op and becomes a skip.
func Failed(externalID string, err error) RecordResult {
	kind := ClassifyError(err)
	if kind == ErrorKindDuplicate {
		return Skipped(externalID, SkipReasonAlreadyDone)
	}
	return RecordResult{ExternalID: externalID, Outcome: OutcomeError, Kind: kind, Err: err, Reason: err.Error()}
}
