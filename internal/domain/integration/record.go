package integration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RecordKind is the external entity type of a truth record
type RecordKind string

const (
	RecordKindCustomer RecordKind = "customer"
	RecordKindItem     RecordKind = "item"
	RecordKindInvoice  RecordKind = "invoice"
	RecordKindPayment  RecordKind = "payment"
)

// IsValid returns true if the kind is known
func (k RecordKind) IsValid() bool {
	switch k {
	case RecordKindCustomer, RecordKindItem, RecordKindInvoice, RecordKindPayment:
		return true
	}
	return false
}

// String returns the string representation of RecordKind
func (k RecordKind) String() string {
	return string(k)
}

// ExternalRecord is a snapshot of one external entity.
// (Scope, Kind, ExternalID) never changes once written; RawPayload and FetchedAt do.
type ExternalRecord struct {
	ID          uuid.UUID
	Scope       string
	Kind        RecordKind
	ExternalID  string
	RawPayload  json.RawMessage
	PayloadHash string
	Revision    int
	FetchedAt   time.Time
	FirstSeenAt time.Time
}

// NewExternalRecord validates and builds a record fetched at fetchedAt
func NewExternalRecord(scope string, kind RecordKind, externalID string, raw json.RawMessage, fetchedAt time.Time) (*ExternalRecord, error) {
	if scope == "" {
		return nil, ErrRecordInvalidScope
	}
	if !kind.IsValid() {
		return nil, ErrRecordInvalidKind
	}
	if externalID == "" {
		return nil, ErrRecordInvalidExternalID
	}
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, ErrRecordInvalidPayload
	}
	return &ExternalRecord{
		ID:          uuid.New(),
		Scope:       scope,
		Kind:        kind,
		ExternalID:  externalID,
		RawPayload:  raw,
		PayloadHash: HashPayload(raw),
		Revision:    1,
		FetchedAt:   fetchedAt,
		FirstSeenAt: fetchedAt,
	}, nil
}

// Key returns the identity key used for locking and uniqueness
func (r *ExternalRecord) Key() string {
	return r.Scope + ":" + string(r.Kind) + ":" + r.ExternalID
}

// Refresh applies a newer fetch of the same entity.
// It returns true when the payload content changed.
func (r *ExternalRecord) Refresh(raw json.RawMessage, fetchedAt time.Time) bool {
	hash := HashPayload(raw)
	r.FetchedAt = fetchedAt
	if hash == r.PayloadHash {
		return false
	}
	r.RawPayload = raw
	r.PayloadHash = hash
	r.Revision++
	return true
}

// HashPayload returns the hex sha256 of a payload
func HashPayload(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// IngestOutcome is the result of writing a record to the truth store
type IngestOutcome string

const (
	IngestCreated IngestOutcome = "created"
	IngestUpdated IngestOutcome = "updated"
)

// IngestResult is returned by the truth store
type IngestResult struct {
	Outcome IngestOutcome
	Record  *ExternalRecord
	Changed bool
}
