package ledger

import (
	"errors"
	"strings"
)

// AccountCodes is the posting account table of one scope
type AccountCodes struct {
	AccountsReceivable string
	DepositClearing    string
	Cash               string
	TaxableRevenue     string
	NontaxableRevenue  string
	TaxPayable         string
	// DirectDepositMethods lists payment methods that settle straight to Cash
	DirectDepositMethods []string
}

// DefaultAccountCodes returns the chart used by the ledger when nothing is configured
func DefaultAccountCodes() AccountCodes {
	return AccountCodes{
		AccountsReceivable:   "1010",
		DepositClearing:      "1024",
		Cash:                 "1000",
		TaxableRevenue:       "4024",
		NontaxableRevenue:    "4025",
		TaxPayable:           "2011",
		DirectDepositMethods: []string{PaymentMethodCreditCard, PaymentMethodACH},
	}
}

// Validate checks every required code is present
func (a AccountCodes) Validate() error {
	missing := make([]string, 0)
	if a.AccountsReceivable == "" {
		missing = append(missing, "accounts_receivable")
	}
	if a.DepositClearing == "" {
		missing = append(missing, "deposit_clearing")
	}
	if a.TaxableRevenue == "" {
		missing = append(missing, "taxable_revenue")
	}
	if a.NontaxableRevenue == "" {
		missing = append(missing, "nontaxable_revenue")
	}
	if a.TaxPayable == "" {
		missing = append(missing, "tax_payable")
	}
	if len(a.DirectDepositMethods) > 0 && a.Cash == "" {
		missing = append(missing, "cash")
	}
	if len(missing) > 0 {
		return errors.New("ledger: missing account codes: " + strings.Join(missing, ", "))
	}
	return nil
}

// RevenueAccount returns the default revenue account for a taxability flag
func (a AccountCodes) RevenueAccount(taxable bool) string {
	if taxable {
		return a.TaxableRevenue
	}
	return a.NontaxableRevenue
}

// PaymentDebitAccount returns the account a payment method settles to
func (a AccountCodes) PaymentDebitAccount(method string) string {
	for _, m := range a.DirectDepositMethods {
		if strings.EqualFold(m, method) {
			return a.Cash
		}
	}
	return a.DepositClearing
}
