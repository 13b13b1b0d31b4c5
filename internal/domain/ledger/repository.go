package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository persists transactions and journal entries.
// CommitEntry is the outbound sink: it re-validates balance and rejects an
// unbalanced entry; a second entry for the same source returns ErrDuplicateExternalID.
type Repository interface {
	FindTransaction(ctx context.Context, scope string, kind TransactionKind, externalID string) (*Transaction, error)
	SaveTransaction(ctx context.Context, txn *Transaction) error
	FindEntryBySource(ctx context.Context, scope string, kind TransactionKind, externalID string) (*LedgerEntry, error)
	SumPostedPayments(ctx context.Context, scope, invoiceExternalID string) (decimal.Decimal, error)
	CommitEntry(ctx context.Context, entry *LedgerEntry) error

	// WithinTransaction runs fn against a repository bound to one database transaction
	WithinTransaction(ctx context.Context, fn func(repo Repository) error) error
}
