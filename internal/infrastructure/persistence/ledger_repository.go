package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/domain/ledger"
	"github.com/ledgersync/backend/internal/infrastructure/persistence/models"
)

// GormLedgerRepository implements ledger.Repository using GORM.
// CommitEntry writes the entry and its postings atomically.
type GormLedgerRepository struct {
	db *gorm.DB
}

// NewGormLedgerRepository creates a new GormLedgerRepository
func NewGormLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

// WithTx returns a new repository instance bound to the given transaction
func (r *GormLedgerRepository) WithTx(tx *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: tx}
}

// WithinTransaction runs fn with a repository bound to one database transaction.
// Any error returned by fn rolls the transaction back.
func (r *GormLedgerRepository) WithinTransaction(ctx context.Context, fn func(repo ledger.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// FindTransaction finds a transaction by its source identity
func (r *GormLedgerRepository) FindTransaction(ctx context.Context, scope string, kind ledger.TransactionKind, externalID string) (*ledger.Transaction, error) {
	var model models.TransactionModel
	err := r.db.WithContext(ctx).
		Where("scope = ? AND kind = ? AND external_id = ?", scope, kind, externalID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// SaveTransaction inserts or updates a transaction by ID.
// A second row for the same source identity returns ErrDuplicateExternalID.
func (r *GormLedgerRepository) SaveTransaction(ctx context.Context, txn *ledger.Transaction) error {
	model := &models.TransactionModel{}
	model.FromDomain(txn)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s %s", integration.ErrDuplicateExternalID, txn.Kind, txn.ExternalID)
		}
		return err
	}
	return nil
}

// SumPostedPayments totals the posted payments applied to an invoice.
// Amounts are summed as decimals in Go so sqlite float affinity never leaks in.
func (r *GormLedgerRepository) SumPostedPayments(ctx context.Context, scope, invoiceExternalID string) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&models.TransactionModel{}).
		Where("scope = ? AND kind = ? AND invoice_external_id = ? AND posted = ?",
			scope, ledger.TransactionKindPayment, invoiceExternalID, true).
		Pluck("total", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	return ledger.RoundMoney(sum), nil
}

// ---------------------------------------------------------------------------
// Entries
// ---------------------------------------------------------------------------

// FindEntryBySource finds the journal entry produced by one transaction
func (r *GormLedgerRepository) FindEntryBySource(ctx context.Context, scope string, kind ledger.TransactionKind, externalID string) (*ledger.LedgerEntry, error) {
	var model models.LedgerEntryModel
	err := r.db.WithContext(ctx).
		Preload("Postings", func(db *gorm.DB) *gorm.DB {
			return db.Order("line_no ASC")
		}).
		Where("scope = ? AND source_kind = ? AND source_external_id = ?", scope, kind, externalID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrEntryNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// CommitEntry is the outbound sink. It re-validates the balance, then writes the
// entry and its postings in one transaction. A second entry for the same source
// returns ErrDuplicateExternalID and writes nothing.
func (r *GormLedgerRepository) CommitEntry(ctx context.Context, entry *ledger.LedgerEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	model := &models.LedgerEntryModel{}
	model.FromDomain(entry)
	postings := model.Postings
	model.Postings = nil

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(model).Error; err != nil {
			return err
		}
		return tx.Create(&postings).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s %s", integration.ErrDuplicateExternalID, entry.SourceKind, entry.SourceExternalID)
		}
		return fmt.Errorf("failed to commit ledger entry: %w", err)
	}
	return nil
}

// Ensure GormLedgerRepository implements ledger.Repository
var _ ledger.Repository = (*GormLedgerRepository)(nil)
