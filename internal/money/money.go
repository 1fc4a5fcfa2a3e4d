// Package money parses and formats fixed-point amounts with two fraction digits.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/labourconnect/backend/internal/models"
)

// Scale is the number of fraction digits every amount carries.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Max is the largest amount a single credit, debit, bid or budget may carry.
var Max = decimal.NewFromInt(1_000_000_000)

// ErrOutOfRange is returned when an amount or balance does not fit in int64 cents.
var ErrOutOfRange = fmt.Errorf("%w: amount out of range", models.ErrInvalidInput)

// Parse reads a decimal string such as "10" or "99.50". More than two fraction
// digits is rejected rather than rounded.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, models.Invalid("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, models.Invalid("malformed amount %q", s)
	}
	if !HasValidScale(d) {
		return decimal.Zero, models.Invalid("amount %q has more than %d fraction digits", s, Scale)
	}
	return d, nil
}

// ParsePositive is Parse plus a strictly-positive check.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if err := ValidatePositive(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidatePositive checks an already-parsed amount.
func ValidatePositive(d decimal.Decimal) error {
	if !d.IsPositive() {
		return models.Invalid("amount must be positive")
	}
	if !HasValidScale(d) {
		return models.Invalid("amount has more than %d fraction digits", Scale)
	}
	if d.GreaterThan(Max) {
		return models.Invalid("amount must not exceed %s", Format(Max))
	}
	return nil
}

func HasValidScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Scale))
}

// Format renders d with exactly two fraction digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// ToCents converts d to integer cents. d must already satisfy HasValidScale.
// Values that do not fit in an int64 yield ErrOutOfRange.
func ToCents(d decimal.Decimal) (int64, error) {
	c := d.Mul(hundred).BigInt()
	if !c.IsInt64() {
		return 0, ErrOutOfRange
	}
	return c.Int64(), nil
}

func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -Scale)
}

// Sum adds amounts.
func Sum(ds ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d)
	}
	return total
}
