package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fraction digits every stored or serialized amount carries.
const MoneyPlaces = 2

// Round2 rounds half away from zero to two places. For the non-negative amounts
// the engine bills this is round-half-up.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// FormatMoney renders an amount with exactly two fraction digits.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}

// ParseMoney parses a decimal string. Empty or non-numeric input is rejected.
func ParseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount: %w", ErrInvalidInput)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", s, ErrInvalidInput)
	}
	return d, nil
}

// SameAmount reports whether two amounts are equal to the cent.
func SameAmount(a, b decimal.Decimal) bool {
	return Round2(a).Equal(Round2(b))
}
