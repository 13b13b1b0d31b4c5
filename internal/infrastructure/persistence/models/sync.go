package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/ledgersync/backend/internal/domain/integration"
)

// ExternalRecordModel is the persistence model for the ExternalRecord truth store.
type ExternalRecordModel struct {
	ID          uuid.UUID              `gorm:"type:uuid;primary_key"`
	Scope       string                 `gorm:"type:varchar(100);not null;uniqueIndex:idx_external_record_key,priority:1"`
	Kind        integration.RecordKind `gorm:"type:varchar(20);not null;uniqueIndex:idx_external_record_key,priority:2"`
	ExternalID  string                 `gorm:"type:varchar(255);not null;uniqueIndex:idx_external_record_key,priority:3"`
	RawPayload  datatypes.JSON         `gorm:"not null"`
	PayloadHash string                 `gorm:"type:varchar(64);not null"`
	Revision    int                    `gorm:"not null;default:1"`
	FetchedAt   time.Time              `gorm:"not null"`
	FirstSeenAt time.Time              `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ExternalRecordModel) TableName() string {
	return "external_records"
}

// ToDomain converts the persistence model to a domain ExternalRecord.
func (m *ExternalRecordModel) ToDomain() *integration.ExternalRecord {
	return &integration.ExternalRecord{
		ID:          m.ID,
		Scope:       m.Scope,
		Kind:        m.Kind,
		ExternalID:  m.ExternalID,
		RawPayload:  append([]byte(nil), m.RawPayload...),
		PayloadHash: m.PayloadHash,
		Revision:    m.Revision,
		FetchedAt:   m.FetchedAt,
		FirstSeenAt: m.FirstSeenAt,
	}
}

// FromDomain populates the persistence model from a domain ExternalRecord.
func (m *ExternalRecordModel) FromDomain(r *integration.ExternalRecord) {
	m.ID = r.ID
	m.Scope = r.Scope
	m.Kind = r.Kind
	m.ExternalID = r.ExternalID
	m.RawPayload = datatypes.JSON(r.RawPayload)
	m.PayloadHash = r.PayloadHash
	m.Revision = r.Revision
	m.FetchedAt = r.FetchedAt
	m.FirstSeenAt = r.FirstSeenAt
}

// SyncCursorModel is the persistence model for SyncCursor, one row per (scope, stage).
type SyncCursorModel struct {
	Scope        string                 `gorm:"type:varchar(100);primaryKey"`
	Stage        integration.Stage      `gorm:"type:varchar(20);primaryKey"`
	State        integration.StageState `gorm:"type:varchar(20);not null;default:'PENDING'"`
	FailedReason string                 `gorm:"type:text"`
	Cursor       string                 `gorm:"type:text"`
	Since        *time.Time
	LastSyncedAt *time.Time
	LastRun      datatypes.JSONType[integration.StageSummary]
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncCursorModel) TableName() string {
	return "sync_cursors"
}

// ToDomain converts the persistence model to a domain SyncCursor.
func (m *SyncCursorModel) ToDomain() *integration.SyncCursor {
	return &integration.SyncCursor{
		Scope:        m.Scope,
		Stage:        m.Stage,
		State:        m.State,
		FailedReason: m.FailedReason,
		Cursor:       m.Cursor,
		Since:        m.Since,
		LastSyncedAt: m.LastSyncedAt,
		LastRun:      m.LastRun.Data(),
		UpdatedAt:    m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain SyncCursor.
func (m *SyncCursorModel) FromDomain(c *integration.SyncCursor) {
	m.Scope = c.Scope
	m.Stage = c.Stage
	m.State = c.State
	m.FailedReason = c.FailedReason
	m.Cursor = c.Cursor
	m.Since = c.Since
	m.LastSyncedAt = c.LastSyncedAt
	m.LastRun = datatypes.NewJSONType(c.LastRun)
	m.UpdatedAt = c.UpdatedAt
}

// SyncRunModel is the persistence model for SyncRun history.
type SyncRunModel struct {
	ID         uuid.UUID            `gorm:"type:uuid;primary_key"`
	Scope      string               `gorm:"type:varchar(100);not null;index:idx_sync_run_stage,priority:1"`
	Stage      integration.Stage    `gorm:"type:varchar(20);not null;index:idx_sync_run_stage,priority:2"`
	DryRun     bool                 `gorm:"not null;default:false"`
	Resumed    bool                 `gorm:"not null;default:false"`
	State      integration.RunState `gorm:"type:varchar(20);not null"`
	Summary    datatypes.JSONType[integration.StageSummary]
	Error      string    `gorm:"type:text"`
	StartedAt  time.Time `gorm:"not null;index:idx_sync_run_stage,priority:3"`
	FinishedAt *time.Time
}

// TableName returns the table name for GORM
func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// ToDomain converts the persistence model to a domain SyncRun.
func (m *SyncRunModel) ToDomain() *integration.SyncRun {
	return &integration.SyncRun{
		ID:         m.ID,
		Scope:      m.Scope,
		Stage:      m.Stage,
		DryRun:     m.DryRun,
		Resumed:    m.Resumed,
		State:      m.State,
		Summary:    m.Summary.Data(),
		Error:      m.Error,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
	}
}

// FromDomain populates the persistence model from a domain SyncRun.
func (m *SyncRunModel) FromDomain(r *integration.SyncRun) {
	m.ID = r.ID
	m.Scope = r.Scope
	m.Stage = r.Stage
	m.DryRun = r.DryRun
	m.Resumed = r.Resumed
	m.State = r.State
	m.Summary = datatypes.NewJSONType(r.Summary)
	m.Error = r.Error
	m.StartedAt = r.StartedAt
	m.FinishedAt = r.FinishedAt
}

// RecordErrorModel is the persistence model for per-record failures.
type RecordErrorModel struct {
	ID         uuid.UUID             `gorm:"type:uuid;primary_key"`
	RunID      uuid.UUID             `gorm:"type:uuid;not null;index"`
	Scope      string                `gorm:"type:varchar(100);not null;index:idx_record_error_source,priority:1"`
	Stage      integration.Stage     `gorm:"type:varchar(20);not null"`
	ExternalID string                `gorm:"type:varchar(255);not null;index:idx_record_error_source,priority:2"`
	Kind       integration.ErrorKind `gorm:"type:varchar(40);not null"`
	Message    string                `gorm:"type:text"`
	CreatedAt  time.Time             `gorm:"not null"`
}

// TableName returns the table name for GORM
func (RecordErrorModel) TableName() string {
	return "sync_record_errors"
}

// FromDomain populates the persistence model from a domain RecordError.
func (m *RecordErrorModel) FromDomain(e integration.RecordError) {
	m.ID = e.ID
	m.RunID = e.RunID
	m.Scope = e.Scope
	m.Stage = e.Stage
	m.ExternalID = e.ExternalID
	m.Kind = e.Kind
	m.Message = e.Message
	m.CreatedAt = e.CreatedAt
}

// ApiTokenModel is the persistence model for an OAuth credential.
type ApiTokenModel struct {
	Scope        string    `gorm:"type:varchar(100);primaryKey"`
	AccessToken  string    `gorm:"type:text;not null"`
	RefreshToken string    `gorm:"type:text"`
	ExpiresAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ApiTokenModel) TableName() string {
	return "api_tokens"
}

// ToDomain converts the persistence model to a domain ApiToken.
func (m *ApiTokenModel) ToDomain() *integration.ApiToken {
	return &integration.ApiToken{
		Scope:        m.Scope,
		AccessToken:  m.AccessToken,
		RefreshToken: m.RefreshToken,
		ExpiresAt:    m.ExpiresAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain ApiToken.
func (m *ApiTokenModel) FromDomain(t *integration.ApiToken) {
	m.Scope = t.Scope
	m.AccessToken = t.AccessToken
	m.RefreshToken = t.RefreshToken
	m.ExpiresAt = t.ExpiresAt
	m.UpdatedAt = t.UpdatedAt
}
