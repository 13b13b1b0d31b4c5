package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/infrastructure/persistence/models"
)

// recordErrorBatchSize bounds a single insert of record errors
const recordErrorBatchSize = 100

// ---------------------------------------------------------------------------
// Cursors
// ---------------------------------------------------------------------------

// GormCursorRepository implements integration.CursorRepository using GORM
type GormCursorRepository struct {
	db *gorm.DB
}

// NewGormCursorRepository creates a new GormCursorRepository
func NewGormCursorRepository(db *gorm.DB) *GormCursorRepository {
	return &GormCursorRepository{db: db}
}

// Find returns the cursor of one stage
func (r *GormCursorRepository) Find(ctx context.Context, scope string, stage integration.Stage) (*integration.SyncCursor, error) {
	var model models.SyncCursorModel
	err := r.db.WithContext(ctx).
		Where("scope = ? AND stage = ?", scope, stage).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrCursorNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByScope returns every stored cursor of a scope
func (r *GormCursorRepository) FindByScope(ctx context.Context, scope string) ([]integration.SyncCursor, error) {
	var rows []models.SyncCursorModel
	if err := r.db.WithContext(ctx).Where("scope = ?", scope).Find(&rows).Error; err != nil {
		return nil, err
	}
	cursors := make([]integration.SyncCursor, len(rows))
	for i := range rows {
		cursors[i] = *rows[i].ToDomain()
	}
	return cursors, nil
}

// Save upserts the cursor row of (scope, stage)
func (r *GormCursorRepository) Save(ctx context.Context, cursor *integration.SyncCursor) error {
	model := &models.SyncCursorModel{}
	model.FromDomain(cursor)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}, {Name: "stage"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// ---------------------------------------------------------------------------
// Run history
// ---------------------------------------------------------------------------

// GormSyncRunRepository implements integration.SyncRunRepository using GORM
type GormSyncRunRepository struct {
	db *gorm.DB
}

// NewGormSyncRunRepository creates a new GormSyncRunRepository
func NewGormSyncRunRepository(db *gorm.DB) *GormSyncRunRepository {
	return &GormSyncRunRepository{db: db}
}

// Save inserts or updates a run row
func (r *GormSyncRunRepository) Save(ctx context.Context, run *integration.SyncRun) error {
	model := &models.SyncRunModel{}
	model.FromDomain(run)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// LatestByStage returns the most recently started run of a stage
func (r *GormSyncRunRepository) LatestByStage(ctx context.Context, scope string, stage integration.Stage) (*integration.SyncRun, error) {
	var model models.SyncRunModel
	err := r.db.WithContext(ctx).
		Where("scope = ? AND stage = ?", scope, stage).
		Order("started_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrRunNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// SaveRecordErrors appends per-record failures
func (r *GormSyncRunRepository) SaveRecordErrors(ctx context.Context, errs []integration.RecordError) error {
	if len(errs) == 0 {
		return nil
	}
	rows := make([]models.RecordErrorModel, len(errs))
	for i := range errs {
		rows[i].FromDomain(errs[i])
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, recordErrorBatchSize).Error
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// GormCredentialRepository implements integration.CredentialRepository using GORM
type GormCredentialRepository struct {
	db *gorm.DB
}

// NewGormCredentialRepository creates a new GormCredentialRepository
func NewGormCredentialRepository(db *gorm.DB) *GormCredentialRepository {
	return &GormCredentialRepository{db: db}
}

// Find returns the stored token of a scope
func (r *GormCredentialRepository) Find(ctx context.Context, scope string) (*integration.ApiToken, error) {
	var model models.ApiTokenModel
	if err := r.db.WithContext(ctx).Where("scope = ?", scope).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrCredentialNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save upserts the token of a scope
func (r *GormCredentialRepository) Save(ctx context.Context, token *integration.ApiToken) error {
	model := &models.ApiTokenModel{}
	model.FromDomain(token)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// Ensure the repositories implement their ports
var (
	_ integration.CursorRepository     = (*GormCursorRepository)(nil)
	_ integration.SyncRunRepository    = (*GormSyncRunRepository)(nil)
	_ integration.CredentialRepository = (*GormCredentialRepository)(nil)
)
