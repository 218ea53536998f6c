package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultPriceTolerance is the absolute difference under which two prices
// are considered equal by the quick policy. The comparison is inclusive.
var DefaultPriceTolerance = decimal.New(1, -2)

// ParseAmount converts a feed or API decimal string to a Decimal.
// Accepts "12.50", "12,50" and surrounding whitespace.
// Empty or non-numeric input yields zero; it never fails.
// Examples: "12.50" → 12.50, "8,75" → 8.75, "abc" → 0, "" → 0
func ParseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	// "1.234,56" style thousands separators show up in hand-edited feeds
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
		}
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseNonNegativeAmount is ParseAmount clamped at zero.
func ParseNonNegativeAmount(s string) decimal.Decimal {
	d := ParseAmount(s)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// FormatAmount renders exactly two decimals with "." as separator,
// independent of locale. Examples: 10 → "10.00", 10.335 → "10.34"
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// PriceWithoutTax backs the tax out of a tax-inclusive price, rounded to
// cents. A zero or negative rate returns the price unchanged.
// Example: 12.50 @ 21% → 10.33
func PriceWithoutTax(priceWithTax, taxRatePercent decimal.Decimal) decimal.Decimal {
	if !taxRatePercent.IsPositive() {
		return priceWithTax
	}
	hundred := decimal.NewFromInt(100)
	divisor := decimal.NewFromInt(1).Add(taxRatePercent.Div(hundred))
	return priceWithTax.Div(divisor).Round(2)
}

// PricesEqual reports whether |a-b| <= tolerance.
func PricesEqual(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}
