// Package core provides money parsing and handling utilities.
//
// Amounts are held as decimal.Decimal everywhere in business logic. Stores
// convert to and from their native representation exactly once, using the
// helpers in this file.
package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept for amounts.
const MoneyScale = 2

var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount converts a decimal string into a non-negative amount rounded
// half-up to MoneyScale digits.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,345") -> 12.35
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Round(MoneyScale), nil
}

// FromCents converts integer minor units into an amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -MoneyScale)
}

// ToCents converts an amount into integer minor units, rounding half-up.
func ToCents(d decimal.Decimal) int64 {
	return d.Round(MoneyScale).Shift(MoneyScale).IntPart()
}

// FormatAmount renders an amount with exactly MoneyScale fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(MoneyScale)
}
