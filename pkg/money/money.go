// Package money converts between API-facing decimal amounts and the
// integer cents stored in the database.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseCents parses a decimal string such as "150.00" into integer cents.
// Amounts with more than two fractional digits are rejected rather than
// rounded so callers never silently lose sub-cent precision.
func ParseCents(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("amount is required")
	}
	dec, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	if dec.Exponent() < -2 && !dec.Equal(dec.Round(2)) {
		return 0, fmt.Errorf("amount %q has more than two decimal places", value)
	}
	return dec.Shift(2).IntPart(), nil
}

// FormatCents renders integer cents as a two-decimal string, e.g. 15000 -> "150.00".
func FormatCents(cents int64) string {
	return decimal.NewFromInt(cents).Shift(-2).StringFixed(2)
}
