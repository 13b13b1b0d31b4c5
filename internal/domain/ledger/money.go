package ledger

import "github.com/shopspring/decimal"

// MoneyPlaces is the currency precision of every stored amount
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to cents
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ComputeTax returns subtotal * ratePercent / 100 rounded to cents.
// 150.00 at 8.65 gives 12.98.
func ComputeTax(subtotal, ratePercent decimal.Decimal) decimal.Decimal {
	return RoundMoney(subtotal.Mul(ratePercent).Div(hundred))
}

// isCents reports whether d carries no precision beyond cents
func isCents(d decimal.Decimal) bool {
	return d.Equal(RoundMoney(d))
}

// sum adds amounts exactly
func sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
