package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/ledgersync/backend/internal/domain/ledger"
)

// TransactionModel is the persistence model for a reconciled invoice or payment.
type TransactionModel struct {
	ID                 uuid.UUID              `gorm:"type:uuid;primary_key"`
	Scope              string                 `gorm:"type:varchar(100);not null;uniqueIndex:idx_transaction_source,priority:1;index:idx_transaction_invoice,priority:1"`
	Kind               ledger.TransactionKind `gorm:"type:varchar(20);not null;uniqueIndex:idx_transaction_source,priority:2"`
	ExternalID         string                 `gorm:"type:varchar(255);not null;uniqueIndex:idx_transaction_source,priority:3"`
	SourceRecordID     uuid.UUID              `gorm:"type:uuid"`
	SourceRevision     int                    `gorm:"not null;default:0"`
	Number             string                 `gorm:"type:varchar(50)"`
	CustomerID         *uuid.UUID             `gorm:"type:uuid;index"`
	InvoiceExternalID  string                 `gorm:"type:varchar(255);index:idx_transaction_invoice,priority:2"`
	Total              decimal.Decimal        `gorm:"type:decimal(18,2);not null"`
	TaxableSubtotal    decimal.Decimal        `gorm:"type:decimal(18,2);not null"`
	NontaxableSubtotal decimal.Decimal        `gorm:"type:decimal(18,2);not null"`
	TaxAmount          decimal.Decimal        `gorm:"type:decimal(18,2);not null"`
	RevenueLines       datatypes.JSONType[[]ledger.RevenueLine]
	PaymentMethod      string               `gorm:"type:varchar(100)"`
	Status             ledger.InvoiceStatus `gorm:"type:varchar(20)"`
	AmountPaid         decimal.Decimal      `gorm:"type:decimal(18,2);not null"`
	BalanceDue         decimal.Decimal      `gorm:"type:decimal(18,2);not null"`
	Posted             bool                 `gorm:"not null;default:false;index"`
	LedgerEntryID      *uuid.UUID           `gorm:"type:uuid"`
	PostedAt           *time.Time
	IssuedAt           *time.Time
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (TransactionModel) TableName() string {
	return "ledger_transactions"
}

// ToDomain converts the persistence model to a domain Transaction.
func (m *TransactionModel) ToDomain() *ledger.Transaction {
	lines := m.RevenueLines.Data()
	return &ledger.Transaction{
		ID:                 m.ID,
		Scope:              m.Scope,
		Kind:               m.Kind,
		ExternalID:         m.ExternalID,
		SourceRecordID:     m.SourceRecordID,
		SourceRevision:     m.SourceRevision,
		Number:             m.Number,
		CustomerID:         m.CustomerID,
		InvoiceExternalID:  m.InvoiceExternalID,
		Total:              m.Total,
		TaxableSubtotal:    m.TaxableSubtotal,
		NontaxableSubtotal: m.NontaxableSubtotal,
		TaxAmount:          m.TaxAmount,
		RevenueLines:       lines,
		PaymentMethod:      m.PaymentMethod,
		Status:             m.Status,
		AmountPaid:         m.AmountPaid,
		BalanceDue:         m.BalanceDue,
		Posted:             m.Posted,
		LedgerEntryID:      m.LedgerEntryID,
		PostedAt:           m.PostedAt,
		IssuedAt:           m.IssuedAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Transaction.
func (m *TransactionModel) FromDomain(t *ledger.Transaction) {
	m.ID = t.ID
	m.Scope = t.Scope
	m.Kind = t.Kind
	m.ExternalID = t.ExternalID
	m.SourceRecordID = t.SourceRecordID
	m.SourceRevision = t.SourceRevision
	m.Number = t.Number
	m.CustomerID = t.CustomerID
	m.InvoiceExternalID = t.InvoiceExternalID
	m.Total = t.Total
	m.TaxableSubtotal = t.TaxableSubtotal
	m.NontaxableSubtotal = t.NontaxableSubtotal
	m.TaxAmount = t.TaxAmount
	m.RevenueLines = datatypes.NewJSONType(t.RevenueLines)
	m.PaymentMethod = t.PaymentMethod
	m.Status = t.Status
	m.AmountPaid = t.AmountPaid
	m.BalanceDue = t.BalanceDue
	m.Posted = t.Posted
	m.LedgerEntryID = t.LedgerEntryID
	m.PostedAt = t.PostedAt
	m.IssuedAt = t.IssuedAt
	m.CreatedAt = t.CreatedAt
	m.UpdatedAt = t.UpdatedAt
}

// LedgerEntryModel is the persistence model for a journal entry.
// (scope, source_kind, source_external_id) is unique so one transaction posts once.
type LedgerEntryModel struct {
	ID               uuid.UUID              `gorm:"type:uuid;primary_key"`
	Scope            string                 `gorm:"type:varchar(100);not null;uniqueIndex:idx_ledger_entry_source,priority:1"`
	TransactionID    uuid.UUID              `gorm:"type:uuid;not null;index"`
	SourceKind       ledger.TransactionKind `gorm:"type:varchar(20);not null;uniqueIndex:idx_ledger_entry_source,priority:2"`
	SourceExternalID string                 `gorm:"type:varchar(255);not null;uniqueIndex:idx_ledger_entry_source,priority:3"`
	Memo             string                 `gorm:"type:varchar(255)"`
	PostedAt         time.Time              `gorm:"not null"`
	Postings         []PostingModel         `gorm:"foreignKey:EntryID;references:ID"`
}

// TableName returns the table name for GORM
func (LedgerEntryModel) TableName() string {
	return "ledger_entries"
}

// ToDomain converts the persistence model to a domain LedgerEntry.
func (m *LedgerEntryModel) ToDomain() *ledger.LedgerEntry {
	postings := make([]ledger.Posting, len(m.Postings))
	for i := range m.Postings {
		postings[i] = m.Postings[i].ToDomain()
	}
	return &ledger.LedgerEntry{
		ID:               m.ID,
		Scope:            m.Scope,
		TransactionID:    m.TransactionID,
		SourceKind:       m.SourceKind,
		SourceExternalID: m.SourceExternalID,
		Memo:             m.Memo,
		PostedAt:         m.PostedAt,
		Postings:         postings,
	}
}

// FromDomain populates the persistence model from a domain LedgerEntry.
func (m *LedgerEntryModel) FromDomain(e *ledger.LedgerEntry) {
	m.ID = e.ID
	m.Scope = e.Scope
	m.TransactionID = e.TransactionID
	m.SourceKind = e.SourceKind
	m.SourceExternalID = e.SourceExternalID
	m.Memo = e.Memo
	m.PostedAt = e.PostedAt
	m.Postings = make([]PostingModel, len(e.Postings))
	for i, p := range e.Postings {
		m.Postings[i].FromDomain(e.ID, p)
	}
}

// PostingModel is one journal line, keyed by (entry_id, line_no).
type PostingModel struct {
	EntryID     uuid.UUID        `gorm:"type:uuid;primaryKey"`
	LineNo      int              `gorm:"primaryKey;autoIncrement:false"`
	AccountCode string           `gorm:"type:varchar(20);not null;index"`
	Direction   ledger.Direction `gorm:"type:varchar(10);not null"`
	Amount      decimal.Decimal  `gorm:"type:decimal(18,2);not null"`
	Memo        string           `gorm:"type:varchar(255)"`
}

// TableName returns the table name for GORM
func (PostingModel) TableName() string {
	return "ledger_postings"
}

// ToDomain converts the persistence model to a domain Posting.
func (m *PostingModel) ToDomain() ledger.Posting {
	return ledger.Posting{
		EntryID:     m.EntryID,
		LineNo:      m.LineNo,
		AccountCode: m.AccountCode,
		Direction:   m.Direction,
		Amount:      m.Amount,
		Memo:        m.Memo,
	}
}

// FromDomain populates the persistence model from a domain Posting.
func (m *PostingModel) FromDomain(entryID uuid.UUID, p ledger.Posting) {
	m.EntryID = entryID
	m.LineNo = p.LineNo
	m.AccountCode = p.AccountCode
	m.Direction = p.Direction
	m.Amount = p.Amount
	m.Memo = p.Memo
}
