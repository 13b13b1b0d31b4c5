package integration

import (
	"context"
	"errors"
)

// Error taxonomy shared by every sync component.
var (
	// ErrTransientNetwork is a retryable transport failure (connection reset, 5xx)
	ErrTransientNetwork = errors.New("integration: transient network failure")
	// ErrRateLimited means the API budget could not be restored within the retry cap
	ErrRateLimited = errors.New("integration: rate limited by external API")
	// ErrAuthExpired means no valid credential could be obtained
	ErrAuthExpired = errors.New("integration: authorization expired")
	// ErrValidation is a record-level defect; the record is skipped and counted
	ErrValidation = errors.New("integration: record validation failed")
	// ErrDuplicateExternalID is a successful no-op; the record was already handled
	ErrDuplicateExternalID = errors.New("integration: duplicate external id")
	// ErrUnbalancedPosting is a rule-table defect and is fatal to the run
	ErrUnbalancedPosting = errors.New("integration: unbalanced posting")
)

// Errors for records, cursors and stages
var (
	ErrRecordInvalidScope      = errors.New("integration: scope is required")
	ErrRecordInvalidKind       = errors.New("integration: invalid record kind")
	ErrRecordInvalidExternalID = errors.New("integration: external id is required")
	ErrRecordInvalidPayload    = errors.New("integration: raw payload must be a JSON document")
	ErrRecordNotFound          = errors.New("integration: truth record not found")
	ErrCursorNotFound          = errors.New("integration: sync cursor not found")
	ErrRunNotFound             = errors.New("integration: sync run not found")
	ErrCredentialNotFound      = errors.New("integration: credential not found")
	ErrInvalidStage            = errors.New("integration: invalid sync stage")
	ErrStageOrder              = errors.New("integration: prerequisite stage has not completed")
	ErrStageNotResumable       = errors.New("integration: stage has nothing to resume")
	ErrStageAlreadyRunning     = errors.New("integration: stage already running for scope")
)

// ErrorKind is the category a failure is counted under
type ErrorKind string

const (
	ErrorKindTransientNetwork ErrorKind = "TRANSIENT_NETWORK"
	ErrorKindRateLimited      ErrorKind = "RATE_LIMITED"
	ErrorKindAuthExpired      ErrorKind = "AUTH_EXPIRED"
	ErrorKindValidation       ErrorKind = "VALIDATION"
	ErrorKindDuplicate        ErrorKind = "DUPLICATE_EXTERNAL_ID"
	ErrorKindUnbalanced       ErrorKind = "UNBALANCED_POSTING"
	ErrorKindCanceled         ErrorKind = "CANCELED"
	ErrorKindInternal         ErrorKind = "INTERNAL"
)

// ClassifyError maps an error chain onto the taxonomy
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnbalancedPosting):
		return ErrorKindUnbalanced
	case errors.Is(err, ErrRateLimited):
		return ErrorKindRateLimited
	case errors.Is(err, ErrAuthExpired):
		return ErrorKindAuthExpired
	case errors.Is(err, ErrDuplicateExternalID):
		return ErrorKindDuplicate
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrTransientNetwork):
		return ErrorKindTransientNetwork
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindCanceled
	default:
		return ErrorKindInternal
	}
}

// IsStageFatal reports whether err must stop the current stage.
// Record-level kinds (validation, duplicate) never escape their stage.
func IsStageFatal(err error) bool {
	switch ClassifyError(err) {
	case "", ErrorKindValidation, ErrorKindDuplicate:
		return false
	}
	return true
}

// IsRunFatal reports whether err must stop every remaining stage of a run
func IsRunFatal(err error) bool {
	return ClassifyError(err) == ErrorKindUnbalanced
}
