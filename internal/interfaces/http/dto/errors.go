package dto

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ledgersync/backend/internal/domain/canonical"
	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/domain/ledger"
	"github.com/ledgersync/backend/internal/domain/shared"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeCanceled is used when a run was interrupted before it finished
	ErrCodeCanceled = "ERR_CANCELED"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeValidationFormat is used when a field has invalid format
	ErrCodeValidationFormat = "ERR_VALIDATION_FORMAT"
	// ErrCodeInvalidStage is used for an unknown stage name
	ErrCodeInvalidStage = "ERR_INVALID_STAGE"
)

// Authentication error codes
const (
	// ErrCodeAuthExpired is used when the scope has no usable external credential
	ErrCodeAuthExpired = "ERR_AUTH_EXPIRED"
	// ErrCodeInvalidOAuthState is used when an authorization callback carries a bad state
	ErrCodeInvalidOAuthState = "ERR_INVALID_OAUTH_STATE"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeConflict is used for general resource conflicts
	ErrCodeConflict = "ERR_CONFLICT"
	// ErrCodeLockNotObtained is used when a key lock could not be taken in time
	ErrCodeLockNotObtained = "ERR_LOCK_NOT_OBTAINED"
)

// Sync pipeline error codes
const (
	// ErrCodeStageOrder is used when a prerequisite stage has not completed
	ErrCodeStageOrder = "ERR_STAGE_ORDER"
	// ErrCodeStageRunning is used when the same stage is already running for the scope
	ErrCodeStageRunning = "ERR_STAGE_RUNNING"
	// ErrCodeStageNotResumable is used when a stage has no interrupted pass to resume
	ErrCodeStageNotResumable = "ERR_STAGE_NOT_RESUMABLE"
	// ErrCodeUnbalancedPosting is used when a posting rule produced unequal debits and credits
	ErrCodeUnbalancedPosting = "ERR_UNBALANCED_POSTING"
	// ErrCodeUpstreamUnavailable is used when the external API kept failing after retries
	ErrCodeUpstreamUnavailable = "ERR_UPSTREAM_UNAVAILABLE"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	// ErrCodeRequestTooLarge is used when the request body exceeds the limit
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// Rate limiting error codes
const (
	// ErrCodeRateLimited is used when the external API budget is exhausted
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	// General errors
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,
	ErrCodeCanceled: http.StatusServiceUnavailable,

	// Validation errors -> 400 Bad Request
	ErrCodeValidation:       http.StatusBadRequest,
	ErrCodeValidationFormat: http.StatusBadRequest,
	ErrCodeInvalidStage:     http.StatusBadRequest,

	// Auth errors
	ErrCodeAuthExpired:       http.StatusUnauthorized,
	ErrCodeInvalidOAuthState: http.StatusBadRequest,

	// Resource errors
	ErrCodeNotFound:        http.StatusNotFound,
	ErrCodeConflict:        http.StatusConflict,
	ErrCodeLockNotObtained: http.StatusConflict,

	// Sync pipeline errors
	ErrCodeStageOrder:          http.StatusConflict,
	ErrCodeStageRunning:        http.StatusConflict,
	ErrCodeStageNotResumable:   http.StatusConflict,
	ErrCodeUnbalancedPosting:   http.StatusInternalServerError,
	ErrCodeUpstreamUnavailable: http.StatusBadGateway,

	// Input errors -> 400 Bad Request
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	// Rate limiting -> 429 Too Many Requests
	ErrCodeRateLimited: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// errCodePrefix marks an API error code; shared.DomainError codes lack it
const errCodePrefix = "ERR_"

// NormalizeErrorCode prefixes bare domain error codes, so LOCK_NOT_OBTAINED
// becomes ERR_LOCK_NOT_OBTAINED. API codes pass through unchanged.
func NormalizeErrorCode(code string) string {
	if code == "" || strings.HasPrefix(code, errCodePrefix) {
		return code
	}
	return errCodePrefix + code
}

// CodeForError maps a service error onto an API error code.
// Unbalanced postings are checked first since they abort the whole run.
func CodeForError(err error) string {
	var domainErr *shared.DomainError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, integration.ErrUnbalancedPosting):
		return ErrCodeUnbalancedPosting
	case errors.Is(err, integration.ErrRateLimited):
		return ErrCodeRateLimited
	case errors.Is(err, integration.ErrAuthExpired):
		return ErrCodeAuthExpired
	case errors.Is(err, integration.ErrStageOrder):
		return ErrCodeStageOrder
	case errors.Is(err, integration.ErrStageAlreadyRunning):
		return ErrCodeStageRunning
	case errors.Is(err, integration.ErrStageNotResumable):
		return ErrCodeStageNotResumable
	case errors.Is(err, integration.ErrInvalidStage):
		return ErrCodeInvalidStage
	case errors.Is(err, integration.ErrValidation):
		return ErrCodeValidation
	case errors.Is(err, canonical.ErrEntityNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound),
		errors.Is(err, ledger.ErrEntryNotFound),
		errors.Is(err, integration.ErrCursorNotFound),
		errors.Is(err, integration.ErrRunNotFound),
		errors.Is(err, integration.ErrCredentialNotFound):
		return ErrCodeNotFound
	case errors.Is(err, integration.ErrTransientNetwork):
		return ErrCodeUpstreamUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeCanceled
	case errors.As(err, &domainErr):
		return NormalizeErrorCode(domainErr.Code)
	default:
		return ErrCodeInternal
	}
}
