// Package posting turns reconciled invoices and payments into balanced ledger
// entries and commits each one exactly once.
package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/domain/ledger"
	"github.com/ledgersync/backend/internal/domain/shared"
	"github.com/ledgersync/backend/internal/infrastructure/telemetry"
)

// PostResult is the outcome of Post
type PostResult struct {
	Entry *ledger.LedgerEntry
	// AlreadyPosted is true when an existing entry was returned unchanged
	AlreadyPosted bool
	// BodyChanged is true when the source differs from the posted body
	BodyChanged bool
}

// Engine is the posting engine. Post is idempotent per (scope, kind, external_id):
// the posting key lock serializes attempts, and the sink's unique source index
// rejects a second entry even across instances.
type Engine struct {
	repo     ledger.Repository
	locker   shared.KeyLocker
	accounts ledger.AccountCodes
	logger   *zap.Logger
	now      func() time.Time
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithEngineClock overrides the posting timestamp source
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a new posting engine
func NewEngine(repo ledger.Repository, locker shared.KeyLocker, accounts ledger.AccountCodes, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if err := accounts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		repo:     repo,
		locker:   locker,
		accounts: accounts,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// LockKey returns the key posting of one source transaction serializes on.
// Payments also take their invoice's key to recompute its balance.
func LockKey(scope string, kind ledger.TransactionKind, externalID string) string {
	return shared.LockKey("posting", scope, kind.String(), externalID)
}

// Post validates txn, builds its postings and commits the entry atomically.
// An existing entry for the same source is returned unchanged. Validation
// failures wrap integration.ErrValidation and write nothing; an unbalanced
// rule result wraps integration.ErrUnbalancedPosting and writes nothing.
func (e *Engine) Post(ctx context.Context, txn *ledger.Transaction) (*PostResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "PostingEngine", "Post",
		telemetry.WithAttribute(telemetry.SpanAttrScope, txn.Scope),
		telemetry.WithAttribute(telemetry.SpanAttrKind, txn.Kind.String()),
		telemetry.WithAttribute(telemetry.SpanAttrExternalID, txn.ExternalID),
	)
	defer span.End()

	res, err := e.post(ctx, txn)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrEntryID, res.Entry.ID.String(),
		telemetry.SpanAttrAmount, txn.Total.String(),
	)
	return res, nil
}

func (e *Engine) post(ctx context.Context, txn *ledger.Transaction) (*PostResult, error) {
	if !txn.Kind.IsValid() {
		return nil, fmt.Errorf("%w: %v", integration.ErrValidation, ledger.ErrInvalidKind)
	}

	unlock, err := e.locker.Lock(ctx, LockKey(txn.Scope, txn.Kind, txn.ExternalID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock posting %s %s: %w", txn.Kind, txn.ExternalID, err)
	}
	defer unlock()

	existing, err := e.repo.FindEntryBySource(ctx, txn.Scope, txn.Kind, txn.ExternalID)
	if err == nil {
		return e.alreadyPosted(ctx, txn, existing), nil
	}
	if !errors.Is(err, ledger.ErrEntryNotFound) {
		return nil, fmt.Errorf("failed to look up ledger entry: %w", err)
	}

	cp := *txn
	target := &cp
	if err := target.Validate(); err != nil {
		return nil, err
	}
	postings, err := ledger.BuildPostings(target, e.accounts)
	if err != nil {
		if errors.Is(err, integration.ErrUnbalancedPosting) {
			e.logger.Error("posting rules produced an unbalanced entry",
				zap.String("scope", target.Scope),
				zap.String("kind", target.Kind.String()),
				zap.String("external_id", target.ExternalID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	if target.Kind == ledger.TransactionKindPayment {
		if target.InvoiceExternalID == "" {
			return nil, fmt.Errorf("%w: payment %s has no invoice", integration.ErrValidation, target.ExternalID)
		}
		unlockInvoice, err := e.locker.Lock(ctx, LockKey(target.Scope, ledger.TransactionKindInvoice, target.InvoiceExternalID))
		if err != nil {
			return nil, fmt.Errorf("failed to lock invoice %s: %w", target.InvoiceExternalID, err)
		}
		defer unlockInvoice()
	}

	entry := ledger.NewLedgerEntry(target, postings, e.now())

	// the commit is never abandoned halfway once it starts
	commitCtx := context.WithoutCancel(ctx)
	err = e.repo.WithinTransaction(commitCtx, func(repo ledger.Repository) error {
		target.MarkPosted(entry.ID, entry.PostedAt)
		if err := repo.SaveTransaction(commitCtx, target); err != nil {
			return fmt.Errorf("failed to save transaction: %w", err)
		}
		if err := repo.CommitEntry(commitCtx, entry); err != nil {
			return err
		}
		if target.Kind == ledger.TransactionKindPayment {
			return e.recomputeInvoice(commitCtx, repo, target)
		}
		return nil
	})
	if err != nil {
		target.Posted = false
		target.LedgerEntryID = nil
		target.PostedAt = nil
		return nil, err
	}

	e.logger.Info("ledger entry posted",
		zap.String("scope", target.Scope),
		zap.String("kind", target.Kind.String()),
		zap.String("external_id", target.ExternalID),
		zap.String("entry_id", entry.ID.String()),
		zap.String("total", target.Total.StringFixed(ledger.MoneyPlaces)),
		zap.Int("postings", len(entry.Postings)),
	)
	*txn = *target
	return &PostResult{Entry: entry}, nil
}

// alreadyPosted reports an existing entry; a posted body is never rewritten, so
// a changed source payload is only flagged
func (e *Engine) alreadyPosted(ctx context.Context, txn *ledger.Transaction, entry *ledger.LedgerEntry) *PostResult {
	res := &PostResult{Entry: entry, AlreadyPosted: true}
	stored, err := e.repo.FindTransaction(ctx, txn.Scope, txn.Kind, txn.ExternalID)
	if err == nil && !stored.SameBody(txn) {
		res.BodyChanged = true
		e.logger.Warn("source of a posted transaction changed; keeping the posted body",
			zap.String("scope", txn.Scope),
			zap.String("kind", txn.Kind.String()),
			zap.String("external_id", txn.ExternalID),
			zap.String("posted_total", stored.Total.String()),
			zap.String("source_total", txn.Total.String()),
		)
	}
	return res
}

// recomputeInvoice derives the parent invoice's paid amount and status from posted payments
func (e *Engine) recomputeInvoice(ctx context.Context, repo ledger.Repository, payment *ledger.Transaction) error {
	invoice, err := repo.FindTransaction(ctx, payment.Scope, ledger.TransactionKindInvoice, payment.InvoiceExternalID)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return fmt.Errorf("%w: payment %s references unknown invoice %s",
				integration.ErrValidation, payment.ExternalID, payment.InvoiceExternalID)
		}
		return fmt.Errorf("failed to load invoice %s: %w", payment.InvoiceExternalID, err)
	}
	paid, err := repo.SumPostedPayments(ctx, payment.Scope, payment.InvoiceExternalID)
	if err != nil {
		return fmt.Errorf("failed to sum payments of invoice %s: %w", payment.InvoiceExternalID, err)
	}
	invoice.ApplyPayments(paid)
	if err := repo.SaveTransaction(ctx, invoice); err != nil {
		return fmt.Errorf("failed to save invoice %s: %w", payment.InvoiceExternalID, err)
	}
	return nil
}

// IsPosted reports whether a ledger entry exists for the source transaction
func (e *Engine) IsPosted(ctx context.Context, scope string, kind ledger.TransactionKind, externalID string) (bool, error) {
	_, err := e.repo.FindEntryBySource(ctx, scope, kind, externalID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ledger.ErrEntryNotFound) {
		return false, nil
	}
	return false, err
}

// Recompute re-derives an invoice's amount paid and status from its posted payments
func (e *Engine) Recompute(ctx context.Context, scope, invoiceExternalID string) (*ledger.Transaction, error) {
	unlock, err := e.locker.Lock(ctx, LockKey(scope, ledger.TransactionKindInvoice, invoiceExternalID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock invoice %s: %w", invoiceExternalID, err)
	}
	defer unlock()

	var invoice *ledger.Transaction
	commitCtx := context.WithoutCancel(ctx)
	err = e.repo.WithinTransaction(commitCtx, func(repo ledger.Repository) error {
		var err error
		invoice, err = repo.FindTransaction(commitCtx, scope, ledger.TransactionKindInvoice, invoiceExternalID)
		if err != nil {
			return err
		}
		paid, err := repo.SumPostedPayments(commitCtx, scope, invoiceExternalID)
		if err != nil {
			return err
		}
		invoice.ApplyPayments(paid)
		return repo.SaveTransaction(commitCtx, invoice)
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// ---------------------------------------------------------------------------
// Verification
// ---------------------------------------------------------------------------

// Verification reports how a posted transaction and its entry agree
type Verification struct {
	EntryID          string          `json:"entry_id"`
	Debits           decimal.Decimal `json:"debits"`
	Credits          decimal.Decimal `json:"credits"`
	TransactionTotal decimal.Decimal `json:"transaction_total"`
	Balanced         bool            `json:"balanced"`
	AmountMatches    bool            `json:"amount_matches"`
	Postings         int             `json:"postings"`
}

// OK returns true when the entry is balanced and carries the transaction total
func (v *Verification) OK() bool {
	return v.Balanced && v.AmountMatches
}

// VerifyEntry checks one posted transaction against its ledger entry
func (e *Engine) VerifyEntry(ctx context.Context, scope string, kind ledger.TransactionKind, externalID string) (*Verification, error) {
	txn, err := e.repo.FindTransaction(ctx, scope, kind, externalID)
	if err != nil {
		return nil, err
	}
	entry, err := e.repo.FindEntryBySource(ctx, scope, kind, externalID)
	if err != nil {
		return nil, err
	}

	debits, credits := entry.Totals()
	v := &Verification{
		EntryID:          entry.ID.String(),
		Debits:           debits,
		Credits:          credits,
		TransactionTotal: txn.Total,
		Balanced:         debits.Equal(credits),
		AmountMatches:    debits.Equal(txn.Total),
		Postings:         len(entry.Postings),
	}
	if !v.OK() {
		e.logger.Warn("ledger entry verification failed",
			zap.String("scope", scope),
			zap.String("kind", kind.String()),
			zap.String("external_id", externalID),
			zap.String("debits", debits.String()),
			zap.String("credits", credits.String()),
			zap.String("total", txn.Total.String()),
		)
	}
	return v, nil
}
