package jobber

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgersync/backend/internal/domain/integration"
)

// DefaultSchemaVersion is the GraphQL version the queries are written against
const DefaultSchemaVersion = "2025-04-16"

// ErrUnsupportedSchema is returned for unknown X-JOBBER-GRAPHQL-VERSION values
var ErrUnsupportedSchema = errors.New("jobber: unsupported schema version")

// supportedVersions maps a GraphQL version onto its decoder.
// Older versions share the decoder; the drift tolerances below cover them.
var supportedVersions = map[string]bool{
	"2023-11-15":         true,
	"2024-06-10":         true,
	DefaultSchemaVersion: true,
}

// NewDecoder returns the RecordDecoder of a schema version
func NewDecoder(version string) (integration.RecordDecoder, error) {
	if version == "" {
		version = DefaultSchemaVersion
	}
	if !supportedVersions[version] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSchema, version)
	}
	return &Decoder{version: version}, nil
}

// Decoder decodes raw Jobber nodes into integration views.
// Every field whose shape drifted between versions is decoded through a flexible type.
type Decoder struct {
	version string
}

// SchemaVersion returns the decoded GraphQL version
func (d *Decoder) SchemaVersion() string {
	return d.version
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

type address struct {
	Street1    string `json:"street1"`
	Street2    string `json:"street2"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func (a *address) String() string {
	if a == nil {
		return ""
	}
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Street1, a.Street2, a.City, strings.TrimSpace(a.Province + " " + a.PostalCode), a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type clientNode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	CompanyName string `json:"companyName"`
	IsCompany   bool   `json:"isCompany"`
	Emails      []struct {
		Primary bool   `json:"primary"`
		Address string `json:"address"`
	} `json:"emails"`
	Phones []struct {
		Primary bool   `json:"primary"`
		Number  string `json:"number"`
	} `json:"phones"`
	BillingAddress   *address `json:"billingAddress"`
	ClientProperties struct {
		Nodes []struct {
			Address *address `json:"address"`
		} `json:"nodes"`
	} `json:"clientProperties"`
}

// DecodeCustomer decodes a clients node
func (d *Decoder) DecodeCustomer(raw json.RawMessage) (*integration.CustomerView, error) {
	var n clientNode
	if err := decode(raw, &n); err != nil {
		return nil, err
	}
	if n.ID == "" {
		return nil, invalid("client has no id")
	}

	name := strings.TrimSpace(n.Name)
	if name == "" {
		name = strings.TrimSpace(n.FirstName + " " + n.LastName)
	}
	if n.IsCompany && n.CompanyName != "" {
		name = n.CompanyName
	}

	v := &integration.CustomerView{
		ExternalID:     n.ID,
		DisplayName:    name,
		CompanyName:    n.CompanyName,
		BillingAddress: n.BillingAddress.String(),
	}
	for i, e := range n.Emails {
		if e.Primary || i == 0 {
			v.Email = e.Address
		}
	}
	for i, p := range n.Phones {
		if p.Primary || i == 0 {
			v.Phone = p.Number
		}
	}
	if len(n.ClientProperties.Nodes) > 0 {
		v.ServiceAddress = n.ClientProperties.Nodes[0].Address.String()
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

type productNode struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	DefaultUnitCost decimal.Decimal `json:"defaultUnitCost"`
	Taxable         *bool           `json:"taxable"`
	Visible         *bool           `json:"visible"`
	Category        namedValue      `json:"category"`
}

// DecodeItem decodes a products node
func (d *Decoder) DecodeItem(raw json.RawMessage) (*integration.ItemView, error) {
	var n productNode
	if err := decode(raw, &n); err != nil {
		return nil, err
	}
	if n.ID == "" {
		return nil, invalid("product has no id")
	}
	return &integration.ItemView{
		ExternalID:  n.ID,
		Name:        n.Name,
		Description: n.Description,
		Category:    string(n.Category),
		DefaultRate: n.DefaultUnitCost,
		Taxable:     n.Taxable != nil && *n.Taxable,
		Active:      n.Visible == nil || *n.Visible,
	}, nil
}

// ---------------------------------------------------------------------------
// Invoices
// ---------------------------------------------------------------------------

type lineItemNode struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Quantity   decimal.Decimal  `json:"quantity"`
	UnitPrice  decimal.Decimal  `json:"unitPrice"`
	TotalPrice *decimal.Decimal `json:"totalPrice"`
	Total      *decimal.Decimal `json:"total"`
	Taxable    bool             `json:"taxable"`
	Linked     *struct {
		ID string `json:"id"`
	} `json:"linkedProductOrService"`
}

type invoiceNode struct {
	ID            string     `json:"id"`
	InvoiceNumber namedValue `json:"invoiceNumber"`
	InvoiceStatus namedValue `json:"invoiceStatus"`
	IssuedDate    flexTime   `json:"issuedDate"`
	DueDate       flexTime   `json:"dueDate"`
	Amounts       struct {
		Subtotal       decimal.Decimal `json:"subtotal"`
		DiscountAmount decimal.Decimal `json:"discountAmount"`
		TaxAmount      decimal.Decimal `json:"taxAmount"`
		Total          decimal.Decimal `json:"total"`
	} `json:"amounts"`
	TaxRate decimal.Decimal `json:"taxRate"`
	Client  *struct {
		ID string `json:"id"`
	} `json:"client"`
	LineItems nodeList[lineItemNode] `json:"lineItems"`
}

// DecodeInvoice decodes an invoices node
func (d *Decoder) DecodeInvoice(raw json.RawMessage) (*integration.InvoiceView, error) {
	var n invoiceNode
	if err := decode(raw, &n); err != nil {
		return nil, err
	}
	if n.ID == "" {
		return nil, invalid("invoice has no id")
	}

	v := &integration.InvoiceView{
		ExternalID:     n.ID,
		Number:         string(n.InvoiceNumber),
		Status:         string(n.InvoiceStatus),
		IssuedAt:       n.IssuedDate.ptr(),
		DueAt:          n.DueDate.ptr(),
		Subtotal:       n.Amounts.Subtotal,
		Discount:       n.Amounts.DiscountAmount,
		TaxAmount:      n.Amounts.TaxAmount,
		TaxRatePercent: n.TaxRate,
		Total:          n.Amounts.Total,
		Lines:          make([]integration.InvoiceLineView, 0, len(n.LineItems)),
	}
	if n.Client != nil {
		v.CustomerExternalID = n.Client.ID
	}
	for _, l := range n.LineItems {
		line := integration.InvoiceLineView{
			ExternalID: l.ID,
			Name:       l.Name,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
			Taxable:    l.Taxable,
		}
		switch {
		case l.TotalPrice != nil:
			line.Total = *l.TotalPrice
		case l.Total != nil:
			line.Total = *l.Total
		default:
			line.Total = l.Quantity.Mul(l.UnitPrice)
		}
		if l.Linked != nil {
			line.ItemExternalID = l.Linked.ID
		}
		v.Lines = append(v.Lines, line)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Payments
// ---------------------------------------------------------------------------

type paymentNode struct {
	Typename  string          `json:"__typename"`
	ID        string          `json:"id"`
	EntryDate flexTime        `json:"entryDate"`
	Amount    decimal.Decimal `json:"amount"`
	Invoice   *struct {
		ID            string     `json:"id"`
		InvoiceNumber namedValue `json:"invoiceNumber"`
	} `json:"invoice"`
	Client *struct {
		ID string `json:"id"`
	} `json:"client"`
}

// DecodePayment decodes a paymentRecords node; the GraphQL typename is the method
func (d *Decoder) DecodePayment(raw json.RawMessage) (*integration.PaymentView, error) {
	var n paymentNode
	if err := decode(raw, &n); err != nil {
		return nil, err
	}
	if n.ID == "" {
		return nil, invalid("payment record has no id")
	}
	v := &integration.PaymentView{
		ExternalID: n.ID,
		Amount:     n.Amount,
		Method:     n.Typename,
		EntryDate:  n.EntryDate.ptr(),
	}
	if n.Invoice != nil {
		v.InvoiceExternalID = n.Invoice.ID
		v.InvoiceNumber = string(n.Invoice.InvoiceNumber)
	}
	if n.Client != nil {
		v.CustomerExternalID = n.Client.ID
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Drift-tolerant field types
// ---------------------------------------------------------------------------

// namedValue accepts a string, a number, or an object carrying name/label/status/value
type namedValue string

func (v *namedValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = namedValue(s)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		for _, key := range []string{"name", "label", "status", "value"} {
			if raw, ok := obj[key]; ok {
				return v.UnmarshalJSON(raw)
			}
		}
		*v = ""
	default:
		*v = namedValue(string(b))
	}
	return nil
}

// flexTime accepts RFC 3339 timestamps and plain dates
type flexTime struct {
	t *time.Time
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	var s string
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			f.t = &t
			return nil
		}
	}
	return fmt.Errorf("unrecognized time %q", s)
}

func (f flexTime) ptr() *time.Time {
	return f.t
}

// nodeList accepts both a plain list and a {nodes: [...]} connection
type nodeList[T any] []T

func (l *nodeList[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if b[0] == '[' {
		var items []T
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var conn struct {
		Nodes []T `json:"nodes"`
	}
	if err := json.Unmarshal(b, &conn); err != nil {
		return err
	}
	*l = conn.Nodes
	return nil
}

func decode(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", integration.ErrValidation, err)
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", integration.ErrValidation, msg)
}

// Ensure Decoder implements integration.RecordDecoder
var _ integration.RecordDecoder = (*Decoder)(nil)
