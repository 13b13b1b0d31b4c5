package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/backend/internal/domain/integration"
)

func newRecord(t *testing.T, externalID, payload string) *integration.ExternalRecord {
	t.Helper()
	rec, err := integration.NewExternalRecord("acme", integration.RecordKindInvoice, externalID, json.RawMessage(payload), time.Now())
	require.NoError(t, err)
	return rec
}

func TestGormTruthRecordRepository_CreateAndFind(t *testing.T) {
	repo := NewGormTruthRecordRepository(newTestDB(t))
	ctx := context.Background()

	rec := newRecord(t, "inv-1", `{"id":"inv-1","total":162.98}`)
	require.NoError(t, repo.Create(ctx, rec))

	found, err := repo.FindByKey(ctx, "acme", integration.RecordKindInvoice, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)
	assert.Equal(t, rec.PayloadHash, found.PayloadHash)
	assert.JSONEq(t, `{"id":"inv-1","total":162.98}`, string(found.RawPayload))
	assert.Equal(t, 1, found.Revision)

	t.Run("missing key", func(t *testing.T) {
		_, err := repo.FindByKey(ctx, "acme", integration.RecordKindInvoice, "nope")
		assert.ErrorIs(t, err, integration.ErrRecordNotFound)
	})

	t.Run("other scope is distinct", func(t *testing.T) {
		_, err := repo.FindByKey(ctx, "other", integration.RecordKindInvoice, "inv-1")
		assert.ErrorIs(t, err, integration.ErrRecordNotFound)
	})
}

func TestGormTruthRecordRepository_CreateDuplicate(t *testing.T) {
	repo := NewGormTruthRecordRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRecord(t, "inv-1", `{"a":1}`)))
	err := repo.Create(ctx, newRecord(t, "inv-1", `{"a":2}`))
	assert.ErrorIs(t, err, integration.ErrDuplicateExternalID)

	count, err := repo.CountByKind(ctx, "acme", integration.RecordKindInvoice)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestGormTruthRecordRepository_Update(t *testing.T) {
	repo := NewGormTruthRecordRepository(newTestDB(t))
	ctx := context.Background()

	rec := newRecord(t, "inv-1", `{"a":1}`)
	require.NoError(t, repo.Create(ctx, rec))

	require.True(t, rec.Refresh(json.RawMessage(`{"a":2}`), time.Now()))
	require.NoError(t, repo.Update(ctx, rec))

	found, err := repo.FindByKey(ctx, "acme", integration.RecordKindInvoice, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, found.Revision)
	assert.JSONEq(t, `{"a":2}`, string(found.RawPayload))
	assert.Equal(t, rec.FirstSeenAt.Unix(), found.FirstSeenAt.Unix())

	t.Run("unknown id", func(t *testing.T) {
		ghost := newRecord(t, "inv-2", `{"a":1}`)
		assert.ErrorIs(t, repo.Update(ctx, ghost), integration.ErrRecordNotFound)
	})
}
