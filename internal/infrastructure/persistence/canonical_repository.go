package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ledgersync/backend/internal/domain/canonical"
	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/infrastructure/persistence/models"
)

// GormCanonicalRepository implements canonical.Repository using GORM
type GormCanonicalRepository struct {
	db *gorm.DB
}

// NewGormCanonicalRepository creates a new GormCanonicalRepository
func NewGormCanonicalRepository(db *gorm.DB) *GormCanonicalRepository {
	return &GormCanonicalRepository{db: db}
}

// FindByID finds an entity by ID
func (r *GormCanonicalRepository) FindByID(ctx context.Context, id uuid.UUID) (*canonical.CanonicalEntity, error) {
	var model models.CanonicalEntityModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, canonical.ErrEntityNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByExternalID finds the entity linked to an external id
func (r *GormCanonicalRepository) FindByExternalID(ctx context.Context, scope string, kind canonical.EntityKind, externalID string) (*canonical.CanonicalEntity, error) {
	var model models.CanonicalEntityModel
	err := r.db.WithContext(ctx).
		Where("scope = ? AND kind = ? AND external_id = ?", scope, kind, externalID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, canonical.ErrEntityNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create inserts a new entity
func (r *GormCanonicalRepository) Create(ctx context.Context, entity *canonical.CanonicalEntity) error {
	model := &models.CanonicalEntityModel{}
	model.FromDomain(entity)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s %s", integration.ErrDuplicateExternalID, entity.Kind, entity.ExternalIDValue())
		}
		return err
	}
	return nil
}

// Update saves every field of an existing entity
func (r *GormCanonicalRepository) Update(ctx context.Context, entity *canonical.CanonicalEntity) error {
	model := &models.CanonicalEntityModel{}
	model.FromDomain(entity)
	result := r.db.WithContext(ctx).
		Model(&models.CanonicalEntityModel{}).
		Where("id = ?", entity.ID).
		Select("*").
		Omit("id", "scope", "kind", "external_id", "created_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return canonical.ErrEntityNotFound
	}
	return nil
}

// CountByKind counts the entities of one kind in a scope
func (r *GormCanonicalRepository) CountByKind(ctx context.Context, scope string, kind canonical.EntityKind) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CanonicalEntityModel{}).
		Where("scope = ? AND kind = ?", scope, kind).
		Count(&count).Error
	return count, err
}

// Ensure GormCanonicalRepository implements canonical.Repository
var _ canonical.Repository = (*GormCanonicalRepository)(nil)
