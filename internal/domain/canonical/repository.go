package canonical

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists canonical entities.
// Create returns integration.ErrDuplicateExternalID when (scope, kind, external_id) exists.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*CanonicalEntity, error)
	FindByExternalID(ctx context.Context, scope string, kind EntityKind, externalID string) (*CanonicalEntity, error)
	Create(ctx context.Context, entity *CanonicalEntity) error
	Update(ctx context.Context, entity *CanonicalEntity) error
	CountByKind(ctx context.Context, scope string, kind EntityKind) (int64, error)
}
