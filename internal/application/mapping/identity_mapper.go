// Package mapping resolves external customers and items to canonical entities.
package mapping

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ledgersync/backend/internal/domain/canonical"
	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/domain/shared"
)

// IdentityMapper resolves truth records to canonical entities with compare-and-create
// semantics keyed by (scope, kind, external_id). Display fields follow the latest
// payload; the canonical ID and a manual account mapping never change on re-sync.
type IdentityMapper struct {
	repo    canonical.Repository
	decoder integration.RecordDecoder
	locker  shared.KeyLocker
	rule    canonical.ClassificationRule
	logger  *zap.Logger
}

// NewIdentityMapper creates a new IdentityMapper
func NewIdentityMapper(
	repo canonical.Repository,
	decoder integration.RecordDecoder,
	locker shared.KeyLocker,
	rule canonical.ClassificationRule,
	logger *zap.Logger,
) *IdentityMapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityMapper{
		repo:    repo,
		decoder: decoder,
		locker:  locker,
		rule:    rule,
		logger:  logger,
	}
}

// LockKey returns the key resolution of one external identity serializes on
func LockKey(scope string, kind canonical.EntityKind, externalID string) string {
	return shared.LockKey("identity", scope, string(kind), externalID)
}

// ResolveResult reports what Resolve did
type ResolveResult struct {
	Entity  *canonical.CanonicalEntity
	Created bool
	Changed bool
}

// Resolve returns the canonical entity for a customer or item record, creating it
// on first sight and refreshing its display fields afterwards
func (m *IdentityMapper) Resolve(ctx context.Context, rec *integration.ExternalRecord) (*ResolveResult, error) {
	kind, err := canonical.KindFor(rec.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrValidation, err)
	}

	apply, err := m.applier(kind, rec)
	if err != nil {
		return nil, err
	}

	unlock, err := m.locker.Lock(ctx, LockKey(rec.Scope, kind, rec.ExternalID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock identity %s: %w", rec.Key(), err)
	}
	defer unlock()

	entity, err := m.repo.FindByExternalID(ctx, rec.Scope, kind, rec.ExternalID)
	switch {
	case errors.Is(err, canonical.ErrEntityNotFound):
		entity = canonical.NewEntity(rec.Scope, kind, rec.ExternalID)
		apply(entity)
		err = m.repo.Create(ctx, entity)
		if err == nil {
			m.logger.Info("canonical entity created",
				zap.String("scope", rec.Scope),
				zap.String("kind", string(kind)),
				zap.String("external_id", rec.ExternalID),
				zap.String("entity_id", entity.ID.String()),
			)
			return &ResolveResult{Entity: entity, Created: true, Changed: true}, nil
		}
		if !errors.Is(err, integration.ErrDuplicateExternalID) {
			return nil, fmt.Errorf("failed to create canonical entity %s: %w", rec.Key(), err)
		}
		// created concurrently by another instance; refresh that row instead
		entity, err = m.repo.FindByExternalID(ctx, rec.Scope, kind, rec.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload canonical entity %s: %w", rec.Key(), err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to find canonical entity %s: %w", rec.Key(), err)
	}

	if !apply(entity) {
		return &ResolveResult{Entity: entity}, nil
	}
	if err := m.repo.Update(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to update canonical entity %s: %w", rec.Key(), err)
	}
	return &ResolveResult{Entity: entity, Changed: true}, nil
}

// applier decodes the payload up front so a malformed record never takes the lock
func (m *IdentityMapper) applier(kind canonical.EntityKind, rec *integration.ExternalRecord) (func(*canonical.CanonicalEntity) bool, error) {
	switch kind {
	case canonical.EntityKindCustomer:
		view, err := m.decoder.DecodeCustomer(rec.RawPayload)
		if err != nil {
			return nil, err
		}
		return func(e *canonical.CanonicalEntity) bool { return e.ApplyCustomer(view) }, nil
	default:
		view, err := m.decoder.DecodeItem(rec.RawPayload)
		if err != nil {
			return nil, err
		}
		return func(e *canonical.CanonicalEntity) bool { return e.ApplyItem(view, m.rule) }, nil
	}
}

// Lookup finds an already resolved entity
func (m *IdentityMapper) Lookup(ctx context.Context, scope string, kind canonical.EntityKind, externalID string) (*canonical.CanonicalEntity, error) {
	return m.repo.FindByExternalID(ctx, scope, kind, externalID)
}

// OverrideAccountMapping pins an item's revenue account. Later syncs keep it.
func (m *IdentityMapper) OverrideAccountMapping(ctx context.Context, scope, externalID, revenueAccount string, taxable bool) (*canonical.CanonicalEntity, error) {
	unlock, err := m.locker.Lock(ctx, LockKey(scope, canonical.EntityKindItem, externalID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock identity %s:%s: %w", scope, externalID, err)
	}
	defer unlock()

	entity, err := m.repo.FindByExternalID(ctx, scope, canonical.EntityKindItem, externalID)
	if err != nil {
		return nil, err
	}
	if err := entity.OverrideMapping(revenueAccount, taxable); err != nil {
		return nil, err
	}
	if err := m.repo.Update(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to save account mapping override: %w", err)
	}

	m.logger.Info("account mapping overridden",
		zap.String("scope", scope),
		zap.String("external_id", externalID),
		zap.String("revenue_account", revenueAccount),
		zap.Bool("taxable", taxable),
	)
	return entity, nil
}
