package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind is the business event type behind a ledger entry
type TransactionKind string

const (
	TransactionKindInvoice TransactionKind = "invoice"
	TransactionKindPayment TransactionKind = "payment"
)

// IsValid checks if the kind is known
func (k TransactionKind) IsValid() bool {
	return k == TransactionKindInvoice || k == TransactionKindPayment
}

// String returns the string representation
func (k TransactionKind) String() string {
	return string(k)
}

// InvoiceStatus is derived from posted payments, never taken from the source
type InvoiceStatus string

const (
	InvoiceStatusUnpaid        InvoiceStatus = "Unpaid"
	InvoiceStatusPartiallyPaid InvoiceStatus = "Partially Paid"
	InvoiceStatusPaid          InvoiceStatus = "Paid"
	InvoiceStatusOverpaid      InvoiceStatus = "Overpaid"
)

// Payment methods reported by Jobber that settle directly to the bank
const (
	PaymentMethodCreditCard = "JobberPaymentsCreditCardPaymentRecord"
	PaymentMethodACH        = "JobberPaymentsACHPaymentRecord"
)

// ComputeInvoiceStatus derives the status from the invoice total and the sum of posted payments
func ComputeInvoiceStatus(total, paid decimal.Decimal) InvoiceStatus {
	switch {
	case paid.GreaterThan(total):
		return InvoiceStatusOverpaid
	case paid.Equal(total):
		return InvoiceStatusPaid
	case paid.IsPositive():
		return InvoiceStatusPartiallyPaid
	default:
		return InvoiceStatusUnpaid
	}
}

// RevenueLine is one revenue account credit of an invoice, after discount allocation
type RevenueLine struct {
	AccountCode string          `json:"account_code"`
	Taxable     bool            `json:"taxable"`
	Amount      decimal.Decimal `json:"amount"`
}

// Transaction is an invoice or payment reconciled from an ExternalRecord.
// The body is immutable once Posted; only invoice payment fields are recomputed.
type Transaction struct {
	ID                 uuid.UUID
	Scope              string
	Kind               TransactionKind
	ExternalID         string
	SourceRecordID     uuid.UUID
	SourceRevision     int
	Number             string
	CustomerID         *uuid.UUID
	InvoiceExternalID  string
	Total              decimal.Decimal
	TaxableSubtotal    decimal.Decimal
	NontaxableSubtotal decimal.Decimal
	TaxAmount          decimal.Decimal
	RevenueLines       []RevenueLine
	PaymentMethod      string
	Status             InvoiceStatus
	AmountPaid         decimal.Decimal
	BalanceDue         decimal.Decimal
	Posted             bool
	LedgerEntryID      *uuid.UUID
	PostedAt           *time.Time
	IssuedAt           *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewInvoiceTransaction builds an unposted invoice from allocated revenue lines and tax
func NewInvoiceTransaction(scope, externalID string, lines []RevenueLine, taxAmount, total decimal.Decimal) *Transaction {
	now := time.Now()
	txn := &Transaction{
		ID:                 uuid.New(),
		Scope:              scope,
		Kind:               TransactionKindInvoice,
		ExternalID:         externalID,
		Total:              total,
		TaxAmount:          taxAmount,
		TaxableSubtotal:    decimal.Zero,
		NontaxableSubtotal: decimal.Zero,
		RevenueLines:       lines,
		AmountPaid:         decimal.Zero,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, l := range lines {
		if l.Taxable {
			txn.TaxableSubtotal = txn.TaxableSubtotal.Add(l.Amount)
		} else {
			txn.NontaxableSubtotal = txn.NontaxableSubtotal.Add(l.Amount)
		}
	}
	txn.ApplyPayments(decimal.Zero)
	return txn
}

// NewPaymentTransaction builds an unposted payment against an invoice
func NewPaymentTransaction(scope, externalID, invoiceExternalID string, amount decimal.Decimal, method string) *Transaction {
	now := time.Now()
	return &Transaction{
		ID:                uuid.New(),
		Scope:             scope,
		Kind:              TransactionKindPayment,
		ExternalID:        externalID,
		InvoiceExternalID: invoiceExternalID,
		Total:             amount,
		TaxAmount:         decimal.Zero,
		PaymentMethod:     method,
		AmountPaid:        decimal.Zero,
		BalanceDue:        decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Validate checks the transaction can be posted: amounts non-negative, whole cents,
// and the total equal to the sum of its components
func (t *Transaction) Validate() error {
	if t.Scope == "" {
		return validationError("transaction scope cannot be empty")
	}
	if t.ExternalID == "" {
		return validationError("transaction external id cannot be empty")
	}
	switch t.Kind {
	case TransactionKindInvoice:
		return t.validateInvoice()
	case TransactionKindPayment:
		return t.validatePayment()
	default:
		return validationError("unknown transaction kind %q", t.Kind)
	}
}

func (t *Transaction) validateInvoice() error {
	if t.Total.IsNegative() {
		return validationError("invoice %s total %s is negative", t.ExternalID, t.Total)
	}
	if t.TaxAmount.IsNegative() {
		return validationError("invoice %s tax %s is negative", t.ExternalID, t.TaxAmount)
	}
	amounts := []decimal.Decimal{t.Total, t.TaxAmount}
	revenue := decimal.Zero
	for _, l := range t.RevenueLines {
		if l.AccountCode == "" {
			return validationError("invoice %s has a revenue line without an account", t.ExternalID)
		}
		if l.Amount.IsNegative() {
			return validationError("invoice %s revenue line %s is negative", t.ExternalID, l.Amount)
		}
		revenue = revenue.Add(l.Amount)
		amounts = append(amounts, l.Amount)
	}
	for _, a := range amounts {
		if !isCents(a) {
			return validationError("invoice %s amount %s has sub-cent precision", t.ExternalID, a)
		}
	}
	if !revenue.Equal(t.TaxableSubtotal.Add(t.NontaxableSubtotal)) {
		return validationError("invoice %s revenue lines %s do not match subtotals", t.ExternalID, revenue)
	}
	if components := revenue.Add(t.TaxAmount); !components.Equal(t.Total) {
		return validationError("invoice %s total %s != revenue %s + tax %s", t.ExternalID, t.Total, revenue, t.TaxAmount)
	}
	return nil
}

func (t *Transaction) validatePayment() error {
	if t.Total.IsNegative() {
		return validationError("payment %s amount %s is negative", t.ExternalID, t.Total)
	}
	if !isCents(t.Total) {
		return validationError("payment %s amount %s has sub-cent precision", t.ExternalID, t.Total)
	}
	return nil
}

// ApplyPayments recomputes the invoice payment fields from the sum of posted payments
func (t *Transaction) ApplyPayments(paid decimal.Decimal) {
	t.AmountPaid = paid
	t.BalanceDue = t.Total.Sub(paid)
	t.Status = ComputeInvoiceStatus(t.Total, paid)
	t.UpdatedAt = time.Now()
}

// MarkPosted links the transaction to its ledger entry
func (t *Transaction) MarkPosted(entryID uuid.UUID, at time.Time) {
	t.Posted = true
	t.LedgerEntryID = &entryID
	t.PostedAt = &at
	t.UpdatedAt = at
}

// SameBody reports whether other carries the same posting-relevant amounts and accounts
func (t *Transaction) SameBody(other *Transaction) bool {
	if t.Kind != other.Kind || !t.Total.Equal(other.Total) || !t.TaxAmount.Equal(other.TaxAmount) {
		return false
	}
	if t.Kind == TransactionKindPayment {
		return t.InvoiceExternalID == other.InvoiceExternalID && t.PaymentMethod == other.PaymentMethod
	}
	a, b := sortedLines(t.RevenueLines), sortedLines(other.RevenueLines)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].AccountCode != b[i].AccountCode || a[i].Taxable != b[i].Taxable || !a[i].Amount.Equal(b[i].Amount) {
			return false
		}
	}
	return true
}

func sortedLines(lines []RevenueLine) []RevenueLine {
	out := append([]RevenueLine(nil), lines...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountCode != out[j].AccountCode {
			return out[i].AccountCode < out[j].AccountCode
		}
		return !out[i].Taxable && out[j].Taxable
	})
	return out
}
