// Package ingest writes fetched external records into the truth store.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/domain/shared"
)

// TruthStore is the idempotent, non-destructive ingestion service for raw records.
// Writes for the same (scope, kind, external_id) are serialized on a key lock;
// distinct keys ingest concurrently.
type TruthStore struct {
	repo   integration.TruthRecordRepository
	locker shared.KeyLocker
	logger *zap.Logger
}

// NewTruthStore creates a new TruthStore
func NewTruthStore(repo integration.TruthRecordRepository, locker shared.KeyLocker, logger *zap.Logger) *TruthStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TruthStore{
		repo:   repo,
		locker: locker,
		logger: logger,
	}
}

// LockKey returns the key ingestion of rec serializes on
func LockKey(rec *integration.ExternalRecord) string {
	return shared.LockKey("truth", rec.Scope, rec.Kind.String(), rec.ExternalID)
}

// Ingest writes rec. A new identity is created; a known identity has its payload
// and fetched_at overwritten, with the revision bumped only when the content changed.
// The returned record is the stored row, so its ID is stable across re-fetches.
func (s *TruthStore) Ingest(ctx context.Context, rec *integration.ExternalRecord) (*integration.IngestResult, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", integration.ErrValidation)
	}
	if rec.Scope == "" || rec.ExternalID == "" || !rec.Kind.IsValid() {
		return nil, fmt.Errorf("%w: record %q has an incomplete identity", integration.ErrValidation, rec.Key())
	}

	unlock, err := s.locker.Lock(ctx, LockKey(rec))
	if err != nil {
		return nil, fmt.Errorf("failed to lock truth record %s: %w", rec.Key(), err)
	}
	defer unlock()

	existing, err := s.repo.FindByKey(ctx, rec.Scope, rec.Kind, rec.ExternalID)
	switch {
	case errors.Is(err, integration.ErrRecordNotFound):
		created, err := s.create(ctx, rec)
		if err != nil {
			return nil, err
		}
		if created {
			return &integration.IngestResult{Outcome: integration.IngestCreated, Record: rec, Changed: true}, nil
		}
		// another writer outside this process won the insert; fall through to update its row
		existing, err = s.repo.FindByKey(ctx, rec.Scope, rec.Kind, rec.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload truth record %s: %w", rec.Key(), err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to find truth record %s: %w", rec.Key(), err)
	}

	changed := existing.Refresh(rec.RawPayload, rec.FetchedAt)
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update truth record %s: %w", rec.Key(), err)
	}

	if changed {
		s.logger.Debug("truth record payload changed",
			zap.String("key", rec.Key()),
			zap.Int("revision", existing.Revision),
		)
	}
	return &integration.IngestResult{Outcome: integration.IngestUpdated, Record: existing, Changed: changed}, nil
}

// create inserts rec; false means the identity already existed
func (s *TruthStore) create(ctx context.Context, rec *integration.ExternalRecord) (bool, error) {
	err := s.repo.Create(ctx, rec)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, integration.ErrDuplicateExternalID) {
		s.logger.Debug("truth record insert lost a race, updating instead", zap.String("key", rec.Key()))
		return false, nil
	}
	return false, fmt.Errorf("failed to create truth record %s: %w", rec.Key(), err)
}
