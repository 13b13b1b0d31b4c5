package integration

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// CustomerView is the decoded shape of a customer payload
type CustomerView struct {
	ExternalID     string
	DisplayName    string
	CompanyName    string
	Email          string
	Phone          string
	BillingAddress string
	ServiceAddress string
}

// ItemView is the decoded shape of a catalog item payload
type ItemView struct {
	ExternalID  string
	Name        string
	Description string
	Category    string
	DefaultRate decimal.Decimal
	Taxable     bool
	Active      bool
}

// InvoiceLineView is one line of an invoice payload
type InvoiceLineView struct {
	ExternalID     string
	Name           string
	ItemExternalID string
	Quantity       decimal.Decimal
	UnitPrice      decimal.Decimal
	Total          decimal.Decimal
	Taxable        bool
}

// InvoiceView is the decoded shape of an invoice payload
type InvoiceView struct {
	ExternalID         string
	Number             string
	CustomerExternalID string
	Status             string
	IssuedAt           *time.Time
	DueAt              *time.Time
	Subtotal           decimal.Decimal
	Discount           decimal.Decimal
	TaxAmount          decimal.Decimal
	TaxRatePercent     decimal.Decimal
	Total              decimal.Decimal
	Lines              []InvoiceLineView
}

// PaymentView is the decoded shape of a payment payload
type PaymentView struct {
	ExternalID         string
	InvoiceExternalID  string
	InvoiceNumber      string
	CustomerExternalID string
	Amount             decimal.Decimal
	Method             string
	EntryDate          *time.Time
}

// RecordDecoder is the versioned schema adapter for raw payloads.
// Decode failures wrap ErrValidation.
type RecordDecoder interface {
	SchemaVersion() string
	DecodeCustomer(raw json.RawMessage) (*CustomerView, error)
	DecodeItem(raw json.RawMessage) (*ItemView, error)
	DecodeInvoice(raw json.RawMessage) (*InvoiceView, error)
	DecodePayment(raw json.RawMessage) (*PaymentView, error)
}
