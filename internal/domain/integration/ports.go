package integration

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// External source port
// ---------------------------------------------------------------------------

// PageRequest asks the source for one page of a collection
type PageRequest struct {
	Cursor   string
	Since    *time.Time
	PageSize int
}

// Page is one fetched page; EndCursor is stored verbatim in SyncCursor
type Page struct {
	Records     []*ExternalRecord
	EndCursor   string
	HasNextPage bool
}

// Source fetches paginated collections from the external API
type Source interface {
	FetchPage(ctx context.Context, scope string, kind RecordKind, req PageRequest) (*Page, error)
}

// ---------------------------------------------------------------------------
// Repository ports
// ---------------------------------------------------------------------------

// TruthRecordRepository persists ExternalRecords
type TruthRecordRepository interface {
	FindByKey(ctx context.Context, scope string, kind RecordKind, externalID string) (*ExternalRecord, error)
	Create(ctx context.Context, record *ExternalRecord) error
	Update(ctx context.Context, record *ExternalRecord) error
	CountByKind(ctx context.Context, scope string, kind RecordKind) (int64, error)
}

// CursorRepository persists SyncCursors
type CursorRepository interface {
	Find(ctx context.Context, scope string, stage Stage) (*SyncCursor, error)
	FindByScope(ctx context.Context, scope string) ([]SyncCursor, error)
	Save(ctx context.Context, cursor *SyncCursor) error
}

// SyncRunRepository persists run history and per-record errors
type SyncRunRepository interface {
	Save(ctx context.Context, run *SyncRun) error
	LatestByStage(ctx context.Context, scope string, stage Stage) (*SyncRun, error)
	SaveRecordErrors(ctx context.Context, errs []RecordError) error
}

// CredentialRepository persists ApiTokens
type CredentialRepository interface {
	Find(ctx context.Context, scope string) (*ApiToken, error)
	Save(ctx context.Context, token *ApiToken) error
}
