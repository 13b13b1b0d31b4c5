package jobber

import (
	"time"

	"github.com/ledgersync/backend/internal/domain/integration"
)

const clientsQuery = `
query Clients($first: Int!, $after: String, $filter: ClientFilterAttributes) {
  clients(first: $first, after: $after, filter: $filter) {
    pageInfo { hasNextPage endCursor }
    nodes {
      id
      name
      firstName
      lastName
      companyName
      isCompany
      emails { primary address }
      phones { primary number }
      billingAddress { street1 street2 city province postalCode country }
      clientProperties(first: 1) {
        nodes { address { street1 street2 city province postalCode country } }
      }
    }
  }
}`

const productsQuery = `
query Products($first: Int!, $after: String) {
  products(first: $first, after: $after) {
    pageInfo { hasNextPage endCursor }
    nodes {
      id
      name
      description
      defaultUnitCost
      taxable
      visible
      category { id name }
    }
  }
}`

const invoicesQuery = `
query Invoices($first: Int!, $after: String, $filter: InvoiceFilterAttributes) {
  invoices(first: $first, after: $after, filter: $filter) {
    pageInfo { hasNextPage endCursor }
    nodes {
      id
      invoiceNumber
      invoiceStatus
      issuedDate
      dueDate
      amounts { subtotal discountAmount taxAmount total paymentsTotal invoiceBalance }
      client { id }
      lineItems {
        nodes {
          id
          name
          quantity
          unitPrice
          totalPrice
          taxable
          linkedProductOrService { id }
        }
      }
    }
  }
}`

const paymentRecordsQuery = `
query PaymentRecords($first: Int!, $after: String, $filter: PaymentRecordFilterAttributes) {
  paymentRecords(first: $first, after: $after, filter: $filter) {
    pageInfo { hasNextPage endCursor }
    nodes {
      __typename
      id
      entryDate
      amount
      adjustmentType
      invoice { id invoiceNumber }
      client { id }
    }
  }
}`

// probeQuery is the cheapest query that still reports throttle status
const probeQuery = `query Probe { account { id name } }`

// collection describes how one record kind is fetched
type collection struct {
	field string
	query string
}

var collections = map[integration.RecordKind]collection{
	integration.RecordKindCustomer: {field: "clients", query: clientsQuery},
	integration.RecordKindItem:     {field: "products", query: productsQuery},
	integration.RecordKindInvoice:  {field: "invoices", query: invoicesQuery},
	integration.RecordKindPayment:  {field: "paymentRecords", query: paymentRecordsQuery},
}

// pageVariables builds the GraphQL variables of one page request
func pageVariables(kind integration.RecordKind, req integration.PageRequest) map[string]any {
	vars := map[string]any{"first": req.PageSize}
	if req.Cursor != "" {
		vars["after"] = req.Cursor
	}

	filter := map[string]any{}
	var since string
	if req.Since != nil {
		since = req.Since.UTC().Format(time.RFC3339)
	}
	switch kind {
	case integration.RecordKindCustomer:
		if since != "" {
			filter["updatedAt"] = map[string]any{"after": since}
		}
	case integration.RecordKindInvoice:
		if since != "" {
			filter["issuedDate"] = map[string]any{"after": since}
		}
	case integration.RecordKindPayment:
		filter["adjustmentType"] = "PAYMENT"
		if since != "" {
			filter["entryDate"] = map[string]any{"after": since}
		}
	}
	if len(filter) > 0 {
		vars["filter"] = filter
	}
	return vars
}
