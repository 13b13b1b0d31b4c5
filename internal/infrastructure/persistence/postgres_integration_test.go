//go:build integration

package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/domain/ledger"
	"github.com/ledgersync/backend/internal/infrastructure/migration"
)

// newPostgresDB starts a disposable postgres container and applies the
// embedded migrations to it
func newPostgresDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledgersync_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	m, err := migration.New(sqlDB, "", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up())
	t.Cleanup(func() { _ = m.Close() })

	return db
}

func TestPostgres_LedgerCommit(t *testing.T) {
	db := newPostgresDB(t)
	repo := NewGormLedgerRepository(db)
	ctx := context.Background()

	txn := scenarioInvoice()
	require.NoError(t, repo.SaveTransaction(ctx, txn))
	require.NoError(t, repo.CommitEntry(ctx, postedEntry(t, txn)))

	found, err := repo.FindEntryBySource(ctx, "acme", ledger.TransactionKindInvoice, "inv-1")
	require.NoError(t, err)
	require.Len(t, found.Postings, 3)

	debits, credits := decimal.Zero, decimal.Zero
	for _, p := range found.Postings {
		if p.Direction == ledger.Debit {
			debits = debits.Add(p.Amount)
		} else {
			credits = credits.Add(p.Amount)
		}
	}
	assert.True(t, debits.Equal(credits), "debits %s credits %s", debits, credits)
	assert.True(t, debits.Equal(decimal.RequireFromString("162.98")))

	err = repo.SaveTransaction(ctx, scenarioInvoice())
	assert.ErrorIs(t, err, integration.ErrDuplicateExternalID)
}

func TestPostgres_CursorUpsert(t *testing.T) {
	repo := NewGormCursorRepository(newPostgresDB(t))
	ctx := context.Background()

	cursor := integration.NewSyncCursor("acme", integration.StageInvoices)
	require.NoError(t, repo.Save(ctx, cursor))
	require.NoError(t, repo.Save(ctx, cursor))

	cursors, err := repo.FindByScope(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, cursors, 1)
}
