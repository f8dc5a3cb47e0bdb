package domain

import "github.com/shopspring/decimal"

const (
	// QuantityScale matches the NUMERIC(20,4) quantity columns.
	QuantityScale = int32(4)
	// AttributeScale bounds the decimal places of number attributes.
	AttributeScale = int32(8)

	maxIntegerDigits = int32(16)
	minExponent      = int32(-32)
)

// MaxNumber is the exclusive upper bound on the magnitude of stored numbers.
var MaxNumber = decimal.New(1, maxIntegerDigits)

// NumberInRange reports whether d is below MaxNumber in magnitude and has at
// most scale decimal places. The exponent is checked before any arithmetic so
// inputs such as 1e2000000000 are rejected without being expanded.
func NumberInRange(d decimal.Decimal, scale int32) bool {
	exp := d.Exponent()
	if exp > maxIntegerDigits || exp < minExponent {
		return false
	}
	if d.Abs().Cmp(MaxNumber) >= 0 {
		return false
	}
	return d.Equal(d.Truncate(scale))
}

// CheckQuantity rejects quantities the stores cannot hold exactly.
func CheckQuantity(field string, q decimal.Decimal) error {
	if !NumberInRange(q, QuantityScale) {
		return Validation(field, "quantity must be below 1e16 with at most %d decimal places", QuantityScale)
	}
	return nil
}
