package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/infrastructure/persistence/models"
)

// GormTruthRecordRepository implements integration.TruthRecordRepository using GORM
type GormTruthRecordRepository struct {
	db *gorm.DB
}

// NewGormTruthRecordRepository creates a new GormTruthRecordRepository
func NewGormTruthRecordRepository(db *gorm.DB) *GormTruthRecordRepository {
	return &GormTruthRecordRepository{db: db}
}

// WithTx returns a new repository instance bound to the given transaction
func (r *GormTruthRecordRepository) WithTx(tx *gorm.DB) *GormTruthRecordRepository {
	return &GormTruthRecordRepository{db: tx}
}

// FindByKey finds a record by its identity key
func (r *GormTruthRecordRepository) FindByKey(ctx context.Context, scope string, kind integration.RecordKind, externalID string) (*integration.ExternalRecord, error) {
	var model models.ExternalRecordModel
	err := r.db.WithContext(ctx).
		Where("scope = ? AND kind = ? AND external_id = ?", scope, kind, externalID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create inserts a new record; an existing identity key returns ErrDuplicateExternalID
func (r *GormTruthRecordRepository) Create(ctx context.Context, record *integration.ExternalRecord) error {
	model := &models.ExternalRecordModel{}
	model.FromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", integration.ErrDuplicateExternalID, record.Key())
		}
		return err
	}
	return nil
}

// Update overwrites the mutable fields of an existing record
func (r *GormTruthRecordRepository) Update(ctx context.Context, record *integration.ExternalRecord) error {
	model := &models.ExternalRecordModel{}
	model.FromDomain(record)
	result := r.db.WithContext(ctx).
		Model(&models.ExternalRecordModel{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"raw_payload":  model.RawPayload,
			"payload_hash": model.PayloadHash,
			"revision":     model.Revision,
			"fetched_at":   model.FetchedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrRecordNotFound
	}
	return nil
}

// CountByKind counts the records of one kind in a scope
func (r *GormTruthRecordRepository) CountByKind(ctx context.Context, scope string, kind integration.RecordKind) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ExternalRecordModel{}).
		Where("scope = ? AND kind = ?", scope, kind).
		Count(&count).Error
	return count, err
}

// Ensure GormTruthRecordRepository implements TruthRecordRepository
var _ integration.TruthRecordRepository = (*GormTruthRecordRepository)(nil)
