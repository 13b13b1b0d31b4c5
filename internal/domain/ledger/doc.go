// Package ledger contains the Ledger bounded context: business transactions
// (invoices and payments) reconciled from the external source, and the balanced
// double-entry journal entries they produce.
//
// The posting rules in this package are pure functions over fixed-point decimals.
// Persistence and exactly-once commit live behind the Repository port.
package ledger
