package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the side of a posting
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// IsValid checks if the direction is known
func (d Direction) IsValid() bool {
	return d == Debit || d == Credit
}

// Posting is one line of a journal entry
type Posting struct {
	EntryID     uuid.UUID
	LineNo      int
	AccountCode string
	Direction   Direction
	Amount      decimal.Decimal
	Memo        string
}

// LedgerEntry is the journal entry produced by exactly one transaction
type LedgerEntry struct {
	ID               uuid.UUID
	Scope            string
	TransactionID    uuid.UUID
	SourceKind       TransactionKind
	SourceExternalID string
	Memo             string
	PostedAt         time.Time
	Postings         []Posting
}

// NewLedgerEntry creates an entry for txn and numbers its postings
func NewLedgerEntry(txn *Transaction, postings []Posting, postedAt time.Time) *LedgerEntry {
	entry := &LedgerEntry{
		ID:               uuid.New(),
		Scope:            txn.Scope,
		TransactionID:    txn.ID,
		SourceKind:       txn.Kind,
		SourceExternalID: txn.ExternalID,
		Memo:             entryMemo(txn),
		PostedAt:         postedAt,
		Postings:         make([]Posting, len(postings)),
	}
	for i, p := range postings {
		p.EntryID = entry.ID
		p.LineNo = i + 1
		entry.Postings[i] = p
	}
	return entry
}

// Totals returns the debit and credit sums
func (e *LedgerEntry) Totals() (debits, credits decimal.Decimal) {
	return totals(e.Postings)
}

// Validate re-checks the balance invariant; the sink calls it before every commit
func (e *LedgerEntry) Validate() error {
	if e.Scope == "" || e.SourceExternalID == "" {
		return validationError("ledger entry must reference a scoped source")
	}
	return ValidateBalance(e.Postings)
}

func entryMemo(txn *Transaction) string {
	switch txn.Kind {
	case TransactionKindInvoice:
		if txn.Number != "" {
			return fmt.Sprintf("Invoice #%s", txn.Number)
		}
		return fmt.Sprintf("Invoice %s", txn.ExternalID)
	case TransactionKindPayment:
		return fmt.Sprintf("Payment %s for invoice %s", txn.ExternalID, txn.InvoiceExternalID)
	default:
		return txn.ExternalID
	}
}

func totals(postings []Posting) (debits, credits decimal.Decimal) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, p := range postings {
		switch p.Direction {
		case Debit:
			debits = debits.Add(p.Amount)
		case Credit:
			credits = credits.Add(p.Amount)
		}
	}
	return debits, credits
}
