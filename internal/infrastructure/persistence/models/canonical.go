package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgersync/backend/internal/domain/canonical"
)

// CanonicalEntityModel is the persistence model for internally-owned customers and items.
// ExternalID is nullable; NULLs never collide in the unique index.
type CanonicalEntityModel struct {
	ID             uuid.UUID               `gorm:"type:uuid;primary_key"`
	Scope          string                  `gorm:"type:varchar(100);not null;uniqueIndex:idx_canonical_external,priority:1"`
	Kind           canonical.EntityKind    `gorm:"type:varchar(20);not null;uniqueIndex:idx_canonical_external,priority:2"`
	ExternalID     *string                 `gorm:"type:varchar(255);uniqueIndex:idx_canonical_external,priority:3"`
	DisplayName    string                  `gorm:"type:varchar(255);not null"`
	Email          string                  `gorm:"type:varchar(255)"`
	Phone          string                  `gorm:"type:varchar(50)"`
	Address        string                  `gorm:"type:text"`
	Category       string                  `gorm:"type:varchar(100)"`
	Description    string                  `gorm:"type:text"`
	DefaultRate    decimal.Decimal         `gorm:"type:decimal(18,4);not null"`
	RevenueAccount string                  `gorm:"type:varchar(20)"`
	Taxable        bool                    `gorm:"not null;default:false"`
	MappingSource  canonical.MappingSource `gorm:"type:varchar(10)"`
	Active         bool                    `gorm:"not null;default:true"`
	CreatedAt      time.Time               `gorm:"not null"`
	UpdatedAt      time.Time               `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CanonicalEntityModel) TableName() string {
	return "canonical_entities"
}

// ToDomain converts the persistence model to a domain CanonicalEntity.
func (m *CanonicalEntityModel) ToDomain() *canonical.CanonicalEntity {
	return &canonical.CanonicalEntity{
		ID:          m.ID,
		Scope:       m.Scope,
		Kind:        m.Kind,
		ExternalID:  m.ExternalID,
		DisplayName: m.DisplayName,
		Email:       m.Email,
		Phone:       m.Phone,
		Address:     m.Address,
		Category:    m.Category,
		Description: m.Description,
		DefaultRate: m.DefaultRate,
		Mapping: canonical.AccountMapping{
			RevenueAccount: m.RevenueAccount,
			Taxable:        m.Taxable,
			Source:         m.MappingSource,
		},
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain CanonicalEntity.
func (m *CanonicalEntityModel) FromDomain(e *canonical.CanonicalEntity) {
	m.ID = e.ID
	m.Scope = e.Scope
	m.Kind = e.Kind
	m.ExternalID = e.ExternalID
	m.DisplayName = e.DisplayName
	m.Email = e.Email
	m.Phone = e.Phone
	m.Address = e.Address
	m.Category = e.Category
	m.Description = e.Description
	m.DefaultRate = e.DefaultRate
	m.RevenueAccount = e.Mapping.RevenueAccount
	m.Taxable = e.Mapping.Taxable
	m.MappingSource = e.Mapping.Source
	m.Active = e.Active
	m.CreatedAt = e.CreatedAt
	m.UpdatedAt = e.UpdatedAt
}
