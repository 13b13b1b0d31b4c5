package canonical

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/backend/internal/domain/integration"
)

func testRule() ClassificationRule {
	return ClassificationRule{
		TaxableAccount:     "4024",
		NontaxableAccount:  "4025",
		CategoryTaxability: map[string]bool{"Labor": false},
	}
}

func TestClassificationRule_Classify(t *testing.T) {
	rule := testRule()
	tests := []struct {
		name        string
		item        integration.ItemView
		wantAccount string
		wantTaxable bool
	}{
		{"taxable product", integration.ItemView{Taxable: true, Category: "Product"}, "4024", true},
		{"non-taxable product", integration.ItemView{Taxable: false, Category: "Product"}, "4025", false},
		{"category forces non-taxable", integration.ItemView{Taxable: true, Category: "labor"}, "4025", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := rule.Classify(&tt.item)
			assert.Equal(t, tt.wantAccount, m.RevenueAccount)
			assert.Equal(t, tt.wantTaxable, m.Taxable)
			assert.Equal(t, MappingSourceRule, m.Source)
		})
	}
}

func TestCanonicalEntity_ApplyItem_KeepsManualMapping(t *testing.T) {
	e := NewEntity("acme", EntityKindItem, "item-1")
	view := &integration.ItemView{ExternalID: "item-1", Name: "Mulch", Taxable: true, DefaultRate: decimal.NewFromInt(45), Active: true}

	assert.True(t, e.ApplyItem(view, testRule()))
	assert.Equal(t, "4024", e.Mapping.RevenueAccount)

	require.NoError(t, e.OverrideMapping("4100", false))
	view.Name = "Premium Mulch"
	assert.True(t, e.ApplyItem(view, testRule()))
	assert.Equal(t, "Premium Mulch", e.DisplayName)
	assert.Equal(t, AccountMapping{RevenueAccount: "4100", Taxable: false, Source: MappingSourceManual}, e.Mapping)

	assert.False(t, e.ApplyItem(view, testRule()), "re-applying the same view is a no-op")
}

func TestCanonicalEntity_ApplyCustomer(t *testing.T) {
	e := NewEntity("acme", EntityKindCustomer, "c-9")

	assert.True(t, e.ApplyCustomer(&integration.CustomerView{ExternalID: "c-9", ServiceAddress: "1 Elm St"}))
	assert.Equal(t, "Jobber Client c-9", e.DisplayName)
	assert.Equal(t, "1 Elm St", e.Address)
	assert.False(t, e.ApplyCustomer(&integration.CustomerView{ExternalID: "c-9", ServiceAddress: "1 Elm St"}))
}

func TestCanonicalEntity_OverrideMapping(t *testing.T) {
	customer := NewEntity("acme", EntityKindCustomer, "c-1")
	assert.ErrorIs(t, customer.OverrideMapping("4100", true), integration.ErrValidation)

	item := NewEntity("acme", EntityKindItem, "i-1")
	assert.ErrorIs(t, item.OverrideMapping("", true), integration.ErrValidation)
}

func TestKindFor(t *testing.T) {
	k, err := KindFor(integration.RecordKindItem)
	require.NoError(t, err)
	assert.Equal(t, EntityKindItem, k)

	_, err = KindFor(integration.RecordKindInvoice)
	assert.ErrorIs(t, err, ErrInvalidKind)
}
