package numeric

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// MinSignificantDigits is the number of significant digits every quotient keeps.
	MinSignificantDigits = 28
	// StoragePlaces is the scale persisted instrument rates are rounded to.
	StoragePlaces = 6
	// InvariantPlaces is the fixed scale used when the invariant leaves the process.
	InvariantPlaces = 18
)

var (
	// One is the parity value.
	One = decimal.NewFromInt(1)
	// Hundred converts fractions to percentages.
	Hundred = decimal.NewFromInt(100)
)

// Div returns a/b carrying at least MinSignificantDigits significant digits.
// It panics when b is zero, like decimal.Decimal.Div.
func Div(a, b decimal.Decimal) decimal.Decimal {
	if a.IsZero() {
		return decimal.Zero
	}
	places := int32(MinSignificantDigits) - (magnitude(a) - magnitude(b)) + 2
	if places < 0 {
		places = 0
	}
	return a.DivRound(b, places)
}

// magnitude is the position of the most significant digit: 1.163 -> 1, 0.0071 -> -2.
func magnitude(d decimal.Decimal) int32 {
	if d.IsZero() {
		return 0
	}
	return int32(d.NumDigits()) + d.Exponent()
}

// RoundStorage rounds half-up (away from zero) to StoragePlaces.
func RoundStorage(d decimal.Decimal) decimal.Decimal {
	return d.Round(StoragePlaces)
}

// FormatInvariant renders d with exactly InvariantPlaces decimals, never in exponent form.
func FormatInvariant(d decimal.Decimal) string {
	return d.StringFixed(InvariantPlaces)
}

// Parse converts upstream text into a decimal. Comma decimal separators are accepted.
func Parse(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("parse decimal: empty value")
	}
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse decimal %q: %w", raw, err)
	}
	return d, nil
}

// Some wraps d as a present nullable value.
func Some(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(d)
}

// Null is the absent nullable value.
func Null() decimal.NullDecimal {
	return decimal.NullDecimal{}
}

// NullEqual reports whether two nullable decimals hold the same value or are both absent.
func NullEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}
