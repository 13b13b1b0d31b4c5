package posting

import (
	"context"
	"errors"
	"fmt"

	"github.com/ledgersync/backend/internal/domain/canonical"
	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/domain/ledger"
)

// EntityLookup finds reconciled canonical entities
type EntityLookup interface {
	Lookup(ctx context.Context, scope string, kind canonical.EntityKind, externalID string) (*canonical.CanonicalEntity, error)
}

// Assembler builds ledger transactions from invoice and payment truth records.
// Item account mappings come from the canonical catalog; lines without a linked
// item fall back to the default revenue account of their taxable flag.
type Assembler struct {
	decoder  integration.RecordDecoder
	entities EntityLookup
	accounts ledger.AccountCodes
}

// NewAssembler creates a new Assembler
func NewAssembler(decoder integration.RecordDecoder, entities EntityLookup, accounts ledger.AccountCodes) *Assembler {
	return &Assembler{
		decoder:  decoder,
		entities: entities,
		accounts: accounts,
	}
}

// Build decodes rec and returns its transaction. A nil transaction with a
// non-empty reason means the record has nothing to post.
func (a *Assembler) Build(ctx context.Context, rec *integration.ExternalRecord) (*ledger.Transaction, string, error) {
	switch rec.Kind {
	case integration.RecordKindInvoice:
		return a.invoice(ctx, rec)
	case integration.RecordKindPayment:
		return a.payment(rec)
	default:
		return nil, integration.SkipReasonNotPostable, nil
	}
}

func (a *Assembler) invoice(ctx context.Context, rec *integration.ExternalRecord) (*ledger.Transaction, string, error) {
	view, err := a.decoder.DecodeInvoice(rec.RawPayload)
	if err != nil {
		return nil, "", err
	}

	lines := make([]ledger.InvoiceLine, 0, len(view.Lines))
	for _, l := range view.Lines {
		if l.Total.IsNegative() {
			return nil, "", fmt.Errorf("%w: invoice %s line %s has negative amount %s",
				integration.ErrValidation, view.ExternalID, l.Name, l.Total)
		}
		if l.Total.IsZero() {
			continue
		}
		account, taxable, err := a.lineAccount(ctx, rec.Scope, l)
		if err != nil {
			return nil, "", err
		}
		lines = append(lines, ledger.InvoiceLine{AccountCode: account, Taxable: taxable, Amount: ledger.RoundMoney(l.Total)})
	}
	if view.Discount.IsNegative() {
		return nil, "", fmt.Errorf("%w: invoice %s discount %s is negative", integration.ErrValidation, view.ExternalID, view.Discount)
	}

	revenue := ledger.AllocateRevenue(lines, ledger.RoundMoney(view.Discount))
	tax := ledger.RoundMoney(view.TaxAmount)
	if tax.IsZero() && view.TaxRatePercent.IsPositive() {
		tax = ledger.ComputeTax(ledger.TaxableSubtotal(revenue), view.TaxRatePercent)
	}
	total := tax
	for _, l := range revenue {
		total = total.Add(l.Amount)
	}
	if !view.Total.IsZero() && !ledger.RoundMoney(view.Total).Equal(total) {
		return nil, "", fmt.Errorf("%w: invoice %s total %s does not match its lines and tax %s",
			integration.ErrValidation, view.ExternalID, view.Total, total)
	}
	if total.IsZero() {
		return nil, integration.SkipReasonZeroAmount, nil
	}

	txn := ledger.NewInvoiceTransaction(rec.Scope, rec.ExternalID, nonZero(revenue), tax, total)
	txn.SourceRecordID = rec.ID
	txn.SourceRevision = rec.Revision
	txn.Number = view.Number
	txn.IssuedAt = view.IssuedAt
	if view.CustomerExternalID != "" {
		customer, err := a.entities.Lookup(ctx, rec.Scope, canonical.EntityKindCustomer, view.CustomerExternalID)
		switch {
		case err == nil:
			txn.CustomerID = &customer.ID
		case !errors.Is(err, canonical.ErrEntityNotFound):
			return nil, "", fmt.Errorf("failed to look up customer %s: %w", view.CustomerExternalID, err)
		}
	}
	return txn, "", nil
}

// lineAccount resolves the revenue account of one invoice line
func (a *Assembler) lineAccount(ctx context.Context, scope string, l integration.InvoiceLineView) (string, bool, error) {
	if l.ItemExternalID == "" {
		return a.accounts.RevenueAccount(l.Taxable), l.Taxable, nil
	}
	item, err := a.entities.Lookup(ctx, scope, canonical.EntityKindItem, l.ItemExternalID)
	if err != nil {
		if errors.Is(err, canonical.ErrEntityNotFound) {
			return "", false, fmt.Errorf("%w: line %s references item %s which has not been synced",
				integration.ErrValidation, l.Name, l.ItemExternalID)
		}
		return "", false, fmt.Errorf("failed to look up item %s: %w", l.ItemExternalID, err)
	}
	if item.Mapping.RevenueAccount == "" {
		return "", false, fmt.Errorf("%w: item %s has no revenue account mapping", integration.ErrValidation, l.ItemExternalID)
	}
	return item.Mapping.RevenueAccount, item.Mapping.Taxable, nil
}

func (a *Assembler) payment(rec *integration.ExternalRecord) (*ledger.Transaction, string, error) {
	view, err := a.decoder.DecodePayment(rec.RawPayload)
	if err != nil {
		return nil, "", err
	}
	if view.Amount.IsNegative() {
		return nil, "", fmt.Errorf("%w: payment %s amount %s is negative", integration.ErrValidation, view.ExternalID, view.Amount)
	}
	if view.Amount.IsZero() {
		return nil, integration.SkipReasonZeroAmount, nil
	}
	if view.InvoiceExternalID == "" {
		return nil, "", fmt.Errorf("%w: payment %s is not applied to an invoice", integration.ErrValidation, view.ExternalID)
	}

	txn := ledger.NewPaymentTransaction(rec.Scope, rec.ExternalID, view.InvoiceExternalID, ledger.RoundMoney(view.Amount), view.Method)
	txn.SourceRecordID = rec.ID
	txn.SourceRevision = rec.Revision
	txn.Number = view.InvoiceNumber
	txn.IssuedAt = view.EntryDate
	return txn, "", nil
}

func nonZero(lines []ledger.RevenueLine) []ledger.RevenueLine {
	out := lines[:0]
	for _, l := range lines {
		if !l.Amount.IsZero() {
			out = append(out, l)
		}
	}
	return out
}
