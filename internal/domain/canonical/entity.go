// Package canonical holds the internally-owned customers and catalog items that
// external records are reconciled against.
package canonical

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgersync/backend/internal/domain/integration"
)

var (
	ErrEntityNotFound = errors.New("canonical: entity not found")
	ErrInvalidKind    = errors.New("canonical: entity kind must be customer or item")
)

// EntityKind is the kind of canonical entity
type EntityKind string

const (
	EntityKindCustomer EntityKind = "customer"
	EntityKindItem     EntityKind = "item"
)

// KindFor maps a record kind to the canonical kind it reconciles into
func KindFor(kind integration.RecordKind) (EntityKind, error) {
	switch kind {
	case integration.RecordKindCustomer:
		return EntityKindCustomer, nil
	case integration.RecordKindItem:
		return EntityKindItem, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}
}

// MappingSource records who chose an account mapping
type MappingSource string

const (
	MappingSourceRule   MappingSource = "rule"
	MappingSourceManual MappingSource = "manual"
)

// AccountMapping is the revenue account an item posts to
type AccountMapping struct {
	RevenueAccount string
	Taxable        bool
	Source         MappingSource
}

// IsManual reports whether an operator set the mapping
func (m AccountMapping) IsManual() bool {
	return m.Source == MappingSourceManual
}

// CanonicalEntity is an internally-owned customer or item.
// ID is stable across re-syncs; ExternalID is nil for entities created internally.
type CanonicalEntity struct {
	ID          uuid.UUID
	Scope       string
	Kind        EntityKind
	ExternalID  *string
	DisplayName string
	Email       string
	Phone       string
	Address     string
	Category    string
	Description string
	DefaultRate decimal.Decimal
	Mapping     AccountMapping
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewEntity creates an entity linked to an external id
func NewEntity(scope string, kind EntityKind, externalID string) *CanonicalEntity {
	now := time.Now()
	ext := externalID
	return &CanonicalEntity{
		ID:          uuid.New(),
		Scope:       scope,
		Kind:        kind,
		ExternalID:  &ext,
		DefaultRate: decimal.Zero,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ExternalIDValue returns the external id or an empty string
func (e *CanonicalEntity) ExternalIDValue() string {
	if e.ExternalID == nil {
		return ""
	}
	return *e.ExternalID
}

// ApplyCustomer copies display fields from a decoded customer; it reports whether anything changed
func (e *CanonicalEntity) ApplyCustomer(v *integration.CustomerView) bool {
	name := strings.TrimSpace(v.DisplayName)
	if name == "" {
		name = "Jobber Client " + v.ExternalID
	}
	address := v.BillingAddress
	if address == "" {
		address = v.ServiceAddress
	}
	changed := e.DisplayName != name || e.Email != v.Email || e.Phone != v.Phone || e.Address != address
	e.DisplayName = name
	e.Email = v.Email
	e.Phone = v.Phone
	e.Address = address
	if changed {
		e.UpdatedAt = time.Now()
	}
	return changed
}

// ApplyItem copies catalog fields from a decoded item and re-derives the rule
// mapping. A manual mapping is kept.
func (e *CanonicalEntity) ApplyItem(v *integration.ItemView, rule ClassificationRule) bool {
	mapping := e.Mapping
	if !mapping.IsManual() {
		mapping = rule.Classify(v)
	}
	changed := e.DisplayName != v.Name ||
		e.Description != v.Description ||
		e.Category != v.Category ||
		!e.DefaultRate.Equal(v.DefaultRate) ||
		e.Active != v.Active ||
		e.Mapping != mapping
	e.DisplayName = v.Name
	e.Description = v.Description
	e.Category = v.Category
	e.DefaultRate = v.DefaultRate
	e.Active = v.Active
	e.Mapping = mapping
	if changed {
		e.UpdatedAt = time.Now()
	}
	return changed
}

// OverrideMapping pins the account mapping; later syncs do not replace it
func (e *CanonicalEntity) OverrideMapping(revenueAccount string, taxable bool) error {
	if e.Kind != EntityKindItem {
		return fmt.Errorf("%w: only items carry an account mapping", integration.ErrValidation)
	}
	if revenueAccount == "" {
		return fmt.Errorf("%w: revenue account cannot be empty", integration.ErrValidation)
	}
	e.Mapping = AccountMapping{RevenueAccount: revenueAccount, Taxable: taxable, Source: MappingSourceManual}
	e.UpdatedAt = time.Now()
	return nil
}
