package canonical

import (
	"strings"

	"github.com/ledgersync/backend/internal/domain/integration"
)

// ClassificationRule derives an item's account mapping from its taxable flag.
// CategoryTaxability forces the flag for listed categories (case-insensitive).
type ClassificationRule struct {
	TaxableAccount     string
	NontaxableAccount  string
	CategoryTaxability map[string]bool
}

// Classify returns the rule mapping for an item
func (r ClassificationRule) Classify(v *integration.ItemView) AccountMapping {
	taxable := v.Taxable
	for category, forced := range r.CategoryTaxability {
		if strings.EqualFold(category, v.Category) {
			taxable = forced
			break
		}
	}
	account := r.NontaxableAccount
	if taxable {
		account = r.TaxableAccount
	}
	return AccountMapping{RevenueAccount: account, Taxable: taxable, Source: MappingSourceRule}
}
