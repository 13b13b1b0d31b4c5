package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/backend/internal/domain/integration"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func scenarioAInvoice(t *testing.T) *Transaction {
	t.Helper()
	accounts := DefaultAccountCodes()
	lines := AllocateRevenue([]InvoiceLine{
		{AccountCode: accounts.TaxableRevenue, Taxable: true, Amount: dec("150.00")},
	}, decimal.Zero)
	tax := ComputeTax(TaxableSubtotal(lines), dec("8.65"))
	txn := NewInvoiceTransaction("acme", "inv-1", lines, tax, dec("150.00").Add(tax))
	txn.Number = "1001"
	return txn
}

func assertPosting(t *testing.T, p Posting, account string, dir Direction, amount string) {
	t.Helper()
	assert.Equal(t, account, p.AccountCode)
	assert.Equal(t, dir, p.Direction)
	assert.True(t, p.Amount.Equal(dec(amount)), "expected %s, got %s", amount, p.Amount)
}

func TestComputeTax(t *testing.T) {
	tests := []struct {
		name     string
		subtotal string
		rate     string
		want     string
	}{
		{"rounds half away from zero", "150.00", "8.65", "12.98"},
		{"exact cents", "100.00", "8.00", "8.00"},
		{"rounds down", "10.00", "8.625", "0.86"},
		{"zero rate", "99.99", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTax(dec(tt.subtotal), dec(tt.rate))
			assert.True(t, got.Equal(dec(tt.want)), "got %s", got)
		})
	}
}

func TestBuildInvoicePostings_TaxedInvoice(t *testing.T) {
	txn := scenarioAInvoice(t)
	require.NoError(t, txn.Validate())
	assert.True(t, txn.Total.Equal(dec("162.98")))

	postings, err := BuildInvoicePostings(txn, DefaultAccountCodes())
	require.NoError(t, err)
	require.Len(t, postings, 3)
	assertPosting(t, postings[0], "1010", Debit, "162.98")
	assertPosting(t, postings[1], "4024", Credit, "150.00")
	assertPosting(t, postings[2], "2011", Credit, "12.98")
}

func TestBuildInvoicePostings_OmitsZeroLines(t *testing.T) {
	accounts := DefaultAccountCodes()
	lines := AllocateRevenue([]InvoiceLine{
		{AccountCode: accounts.NontaxableRevenue, Taxable: false, Amount: dec("80.00")},
	}, decimal.Zero)
	txn := NewInvoiceTransaction("acme", "inv-2", lines, decimal.Zero, dec("80.00"))

	postings, err := BuildInvoicePostings(txn, accounts)
	require.NoError(t, err)
	require.Len(t, postings, 2)
	assertPosting(t, postings[0], "1010", Debit, "80.00")
	assertPosting(t, postings[1], "4025", Credit, "80.00")
}

func TestBuildInvoicePostings_ItemAccountOverride(t *testing.T) {
	accounts := DefaultAccountCodes()
	lines := AllocateRevenue([]InvoiceLine{
		{AccountCode: "4100", Taxable: true, Amount: dec("40.00")},
		{AccountCode: accounts.TaxableRevenue, Taxable: true, Amount: dec("60.00")},
	}, decimal.Zero)
	tax := ComputeTax(TaxableSubtotal(lines), dec("10"))
	txn := NewInvoiceTransaction("acme", "inv-3", lines, tax, dec("110.00"))

	postings, err := BuildInvoicePostings(txn, accounts)
	require.NoError(t, err)
	require.Len(t, postings, 4)
	assertPosting(t, postings[1], "4024", Credit, "60.00")
	assertPosting(t, postings[2], "4100", Credit, "40.00")
	assertPosting(t, postings[3], "2011", Credit, "10.00")
}

func TestBuildPaymentPostings(t *testing.T) {
	accounts := DefaultAccountCodes()
	tests := []struct {
		name   string
		method string
		debit  string
	}{
		{"check settles to deposit clearing", "CHECK", "1024"},
		{"cash settles to deposit clearing", "CASH", "1024"},
		{"card settles to cash", PaymentMethodCreditCard, "1000"},
		{"ach settles to cash", PaymentMethodACH, "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := NewPaymentTransaction("acme", "pay-1", "inv-1", dec("100.00"), tt.method)
			postings, err := BuildPaymentPostings(txn, accounts)
			require.NoError(t, err)
			require.Len(t, postings, 2)
			assertPosting(t, postings[0], tt.debit, Debit, "100.00")
			assertPosting(t, postings[1], "1010", Credit, "100.00")
		})
	}
}

func TestBuildPostings_RejectsWrongKind(t *testing.T) {
	txn := NewPaymentTransaction("acme", "pay-1", "inv-1", dec("1.00"), "CASH")
	_, err := BuildInvoicePostings(txn, DefaultAccountCodes())
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestValidateBalance(t *testing.T) {
	t.Run("balanced", func(t *testing.T) {
		err := ValidateBalance([]Posting{
			{AccountCode: "1010", Direction: Debit, Amount: dec("5.00")},
			{AccountCode: "4024", Direction: Credit, Amount: dec("5.00")},
		})
		assert.NoError(t, err)
	})

	t.Run("unbalanced", func(t *testing.T) {
		err := ValidateBalance([]Posting{
			{AccountCode: "1010", Direction: Debit, Amount: dec("5.00")},
			{AccountCode: "4024", Direction: Credit, Amount: dec("4.99")},
		})
		assert.ErrorIs(t, err, integration.ErrUnbalancedPosting)
		assert.Equal(t, integration.ErrorKindUnbalanced, integration.ClassifyError(err))
	})

	t.Run("non-positive amount", func(t *testing.T) {
		err := ValidateBalance([]Posting{
			{AccountCode: "1010", Direction: Debit, Amount: decimal.Zero},
		})
		assert.ErrorIs(t, err, integration.ErrValidation)
	})

	t.Run("empty", func(t *testing.T) {
		assert.ErrorIs(t, ValidateBalance(nil), integration.ErrValidation)
	})
}

func TestTransaction_Validate(t *testing.T) {
	t.Run("negative payment", func(t *testing.T) {
		txn := NewPaymentTransaction("acme", "pay-1", "inv-1", dec("-5.00"), "CASH")
		assert.ErrorIs(t, txn.Validate(), integration.ErrValidation)
	})

	t.Run("sub-cent payment", func(t *testing.T) {
		txn := NewPaymentTransaction("acme", "pay-1", "inv-1", dec("5.001"), "CASH")
		assert.ErrorIs(t, txn.Validate(), integration.ErrValidation)
	})

	t.Run("total does not match components", func(t *testing.T) {
		txn := scenarioAInvoice(t)
		txn.Total = dec("163.00")
		err := txn.Validate()
		assert.ErrorIs(t, err, integration.ErrValidation)
		assert.False(t, errors.Is(err, integration.ErrUnbalancedPosting))
	})

	t.Run("missing external id", func(t *testing.T) {
		txn := scenarioAInvoice(t)
		txn.ExternalID = ""
		assert.ErrorIs(t, txn.Validate(), integration.ErrValidation)
	})
}

func TestComputeInvoiceStatus(t *testing.T) {
	total := dec("162.98")
	tests := []struct {
		name string
		paid string
		want InvoiceStatus
	}{
		{"nothing paid", "0", InvoiceStatusUnpaid},
		{"partial", "100.00", InvoiceStatusPartiallyPaid},
		{"exact", "162.98", InvoiceStatusPaid},
		{"over", "200.00", InvoiceStatusOverpaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeInvoiceStatus(total, dec(tt.paid)))
		})
	}
}

func TestTransaction_ApplyPayments(t *testing.T) {
	txn := scenarioAInvoice(t)
	txn.ApplyPayments(dec("100.00"))

	assert.True(t, txn.AmountPaid.Equal(dec("100.00")))
	assert.True(t, txn.BalanceDue.Equal(dec("62.98")))
	assert.Equal(t, InvoiceStatusPartiallyPaid, txn.Status)
}

func TestAllocateRevenue_Discount(t *testing.T) {
	accounts := DefaultAccountCodes()
	lines := AllocateRevenue([]InvoiceLine{
		{AccountCode: accounts.TaxableRevenue, Taxable: true, Amount: dec("100.00")},
		{AccountCode: accounts.NontaxableRevenue, Taxable: false, Amount: dec("200.00")},
	}, dec("10.00"))

	require.Len(t, lines, 2)
	assert.True(t, lines[0].Taxable)
	assert.True(t, lines[0].Amount.Equal(dec("96.67")), "taxable got %s", lines[0].Amount)
	assert.True(t, lines[1].Amount.Equal(dec("193.33")), "nontaxable got %s", lines[1].Amount)
	assert.True(t, lines[0].Amount.Add(lines[1].Amount).Equal(dec("290.00")))
}

func TestAllocateRevenue_GroupsByAccount(t *testing.T) {
	lines := AllocateRevenue([]InvoiceLine{
		{AccountCode: "4024", Taxable: true, Amount: dec("10.00")},
		{AccountCode: "4024", Taxable: true, Amount: dec("15.50")},
		{AccountCode: "4025", Taxable: false, Amount: dec("4.50")},
	}, decimal.Zero)

	require.Len(t, lines, 2)
	assert.True(t, lines[0].Amount.Equal(dec("25.50")))
	assert.True(t, lines[1].Amount.Equal(dec("4.50")))
}

func TestNewLedgerEntry(t *testing.T) {
	txn := scenarioAInvoice(t)
	postings, err := BuildPostings(txn, DefaultAccountCodes())
	require.NoError(t, err)

	entry := NewLedgerEntry(txn, postings, txn.CreatedAt)
	require.NoError(t, entry.Validate())
	assert.Equal(t, "Invoice #1001", entry.Memo)
	assert.Equal(t, TransactionKindInvoice, entry.SourceKind)
	for i, p := range entry.Postings {
		assert.Equal(t, entry.ID, p.EntryID)
		assert.Equal(t, i+1, p.LineNo)
	}
	debits, credits := entry.Totals()
	assert.True(t, debits.Equal(credits))
}

func TestTransaction_SameBody(t *testing.T) {
	a := scenarioAInvoice(t)
	b := scenarioAInvoice(t)
	assert.True(t, a.SameBody(b))

	b.RevenueLines[0].AccountCode = "4100"
	assert.False(t, a.SameBody(b))
}

func TestAccountCodes_Validate(t *testing.T) {
	assert.NoError(t, DefaultAccountCodes().Validate())

	codes := DefaultAccountCodes()
	codes.TaxPayable = ""
	err := codes.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tax_payable")
}
