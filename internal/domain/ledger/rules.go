package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Posting rules
// ---------------------------------------------------------------------------

// BuildInvoicePostings emits DR AR total, CR revenue per account, CR tax payable.
// Zero-amount lines are omitted.
func BuildInvoicePostings(txn *Transaction, accounts AccountCodes) ([]Posting, error) {
	if txn.Kind != TransactionKindInvoice {
		return nil, ErrInvalidKind
	}
	memo := entryMemo(txn)
	postings := make([]Posting, 0, len(txn.RevenueLines)+2)
	postings = appendPosting(postings, accounts.AccountsReceivable, Debit, txn.Total, memo)

	revenue := make(map[string]decimal.Decimal)
	codes := make([]string, 0, len(txn.RevenueLines))
	for _, l := range txn.RevenueLines {
		if _, ok := revenue[l.AccountCode]; !ok {
			codes = append(codes, l.AccountCode)
			revenue[l.AccountCode] = decimal.Zero
		}
		revenue[l.AccountCode] = revenue[l.AccountCode].Add(l.Amount)
	}
	sort.Strings(codes)
	for _, code := range codes {
		postings = appendPosting(postings, code, Credit, revenue[code], memo)
	}
	postings = appendPosting(postings, accounts.TaxPayable, Credit, txn.TaxAmount, memo)

	if err := ValidateBalance(postings); err != nil {
		return nil, err
	}
	return postings, nil
}

// BuildPaymentPostings emits DR deposit clearing (or cash for direct deposit methods), CR AR
func BuildPaymentPostings(txn *Transaction, accounts AccountCodes) ([]Posting, error) {
	if txn.Kind != TransactionKindPayment {
		return nil, ErrInvalidKind
	}
	memo := entryMemo(txn)
	postings := make([]Posting, 0, 2)
	postings = appendPosting(postings, accounts.PaymentDebitAccount(txn.PaymentMethod), Debit, txn.Total, memo)
	postings = appendPosting(postings, accounts.AccountsReceivable, Credit, txn.Total, memo)

	if err := ValidateBalance(postings); err != nil {
		return nil, err
	}
	return postings, nil
}

// BuildPostings dispatches on the transaction kind
func BuildPostings(txn *Transaction, accounts AccountCodes) ([]Posting, error) {
	switch txn.Kind {
	case TransactionKindInvoice:
		return BuildInvoicePostings(txn, accounts)
	case TransactionKindPayment:
		return BuildPaymentPostings(txn, accounts)
	default:
		return nil, ErrInvalidKind
	}
}

// ValidateBalance asserts every posting is positive and debits equal credits
func ValidateBalance(postings []Posting) error {
	if len(postings) == 0 {
		return validationError("ledger entry has no postings")
	}
	for _, p := range postings {
		if !p.Direction.IsValid() {
			return validationError("posting to %s has invalid direction %q", p.AccountCode, p.Direction)
		}
		if p.AccountCode == "" {
			return validationError("posting has no account code")
		}
		if !p.Amount.IsPositive() {
			return validationError("posting to %s has non-positive amount %s", p.AccountCode, p.Amount)
		}
	}
	debits, credits := totals(postings)
	if !debits.Equal(credits) {
		return unbalancedError(debits, credits)
	}
	return nil
}

func appendPosting(postings []Posting, account string, dir Direction, amount decimal.Decimal, memo string) []Posting {
	if amount.IsZero() {
		return postings
	}
	return append(postings, Posting{AccountCode: account, Direction: dir, Amount: amount, Memo: memo})
}

// ---------------------------------------------------------------------------
// Revenue allocation
// ---------------------------------------------------------------------------

// InvoiceLine is a priced invoice line with its resolved revenue account
type InvoiceLine struct {
	AccountCode string
	Taxable     bool
	Amount      decimal.Decimal
}

// AllocateRevenue groups lines by account and spreads an invoice-level discount
// proportionally over taxable and non-taxable revenue. The non-taxable class takes
// the rounding remainder so the allocated sum is exactly gross minus discount.
func AllocateRevenue(lines []InvoiceLine, discount decimal.Decimal) []RevenueLine {
	taxable := groupLines(lines, true)
	nontaxable := groupLines(lines, false)
	taxableGross := sumLines(taxable)
	nontaxableGross := sumLines(nontaxable)
	gross := taxableGross.Add(nontaxableGross)

	taxableDiscount := decimal.Zero
	if discount.IsPositive() && gross.IsPositive() {
		taxableDiscount = RoundMoney(discount.Mul(taxableGross).Div(gross))
		if nontaxableGross.IsZero() {
			taxableDiscount = discount
		}
	}
	nontaxableDiscount := decimal.Zero
	if discount.IsPositive() {
		nontaxableDiscount = discount.Sub(taxableDiscount)
	}

	out := spreadDiscount(taxable, taxableGross, taxableDiscount)
	return append(out, spreadDiscount(nontaxable, nontaxableGross, nontaxableDiscount)...)
}

// TaxableSubtotal returns the taxable share of allocated revenue
func TaxableSubtotal(lines []RevenueLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		if l.Taxable {
			total = total.Add(l.Amount)
		}
	}
	return total
}

func groupLines(lines []InvoiceLine, taxable bool) []RevenueLine {
	byAccount := make(map[string]decimal.Decimal)
	codes := make([]string, 0)
	for _, l := range lines {
		if l.Taxable != taxable {
			continue
		}
		if _, ok := byAccount[l.AccountCode]; !ok {
			codes = append(codes, l.AccountCode)
			byAccount[l.AccountCode] = decimal.Zero
		}
		byAccount[l.AccountCode] = byAccount[l.AccountCode].Add(l.Amount)
	}
	sort.Strings(codes)
	out := make([]RevenueLine, 0, len(codes))
	for _, code := range codes {
		out = append(out, RevenueLine{AccountCode: code, Taxable: taxable, Amount: byAccount[code]})
	}
	return out
}

func sumLines(lines []RevenueLine) decimal.Decimal {
	amounts := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		amounts[i] = l.Amount
	}
	return sum(amounts...)
}

// spreadDiscount allocates discount across lines by weight; the last line takes the remainder
func spreadDiscount(lines []RevenueLine, gross, discount decimal.Decimal) []RevenueLine {
	if discount.IsZero() || gross.IsZero() {
		return lines
	}
	remaining := discount
	for i := range lines {
		share := remaining
		if i < len(lines)-1 {
			share = RoundMoney(discount.Mul(lines[i].Amount).Div(gross))
		}
		lines[i].Amount = lines[i].Amount.Sub(share)
		remaining = remaining.Sub(share)
	}
	return lines
}
