package domain

import (
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits Money carries exactly.
const MoneyScale = 6

// Money represents a monetary value in a specific currency.
// Amount is stored as BIGINT micros (10^-6) to avoid floating point errors.
type Money struct {
	Amount   int64  // micros
	Currency string // ISO 4217
}

// MoneyFromDecimal converts a major-unit decimal amount into Money.
// Sub-micro precision is truncated.
func MoneyFromDecimal(amount decimal.Decimal, currency string) Money {
	return Money{
		Amount:   FromDecimal(amount),
		Currency: currency,
	}
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(1_000_000))
}

// FromDecimal converts a decimal.Decimal to int64 micros.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(1_000_000)).IntPart()
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.Amount > 0
}

// GreaterThan compares against a major-unit threshold in the same currency.
func (m Money) GreaterThan(threshold decimal.Decimal) bool {
	return m.ToDecimal().GreaterThan(threshold)
}

// FitsMicros reports whether d converts to micros without truncation.
func FitsMicros(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}
