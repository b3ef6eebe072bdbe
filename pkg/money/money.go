/**
 * @description
 * Package money converts between the integer minor units ("centavos") used on the
 * TropiPay wire and the decimal display units handed to every consumer.
 *
 * Key features:
 * - ToMinorUnits / ToDisplayUnits are total functions: invalid or missing input becomes 0.
 * - Rounding is half away from zero on the decimal value, so 10.555 -> 1056.
 * - Money pairs a minor-unit amount with its currency so the two representations never mix.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact decimal arithmetic for the scaling step.
 */
package money

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorPerMajor is the number of minor units in one display unit.
const MinorPerMajor = 100

// ToMinorUnits converts a display amount into integer minor units.
// NaN and infinities are coerced to 0.
func ToMinorUnits(amount float64) int64 {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	return decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart()
}

// RoundMinor rounds a fractional minor-unit amount half away from zero.
func RoundMinor(minor float64) int64 {
	if math.IsNaN(minor) || math.IsInf(minor, 0) {
		return 0
	}
	return decimal.NewFromFloat(minor).Round(0).IntPart()
}

// ToMinorUnitsPtr is ToMinorUnits for optional amounts; nil yields 0.
func ToMinorUnitsPtr(amount *float64) int64 {
	if amount == nil {
		return 0
	}
	return ToMinorUnits(*amount)
}

// ToDisplayUnits converts integer minor units into a display amount.
func ToDisplayUnits(minor int64) float64 {
	return decimal.New(minor, -2).InexactFloat64()
}

// ToDisplayUnitsPtr is ToDisplayUnits for optional amounts; nil yields 0.
func ToDisplayUnitsPtr(minor *int64) float64 {
	if minor == nil {
		return 0
	}
	return ToDisplayUnits(*minor)
}

// Money is an amount in minor units tagged with its ISO currency code.
type Money struct {
	Minor    int64
	Currency string
}

// New builds a Money from minor units.
func New(minor int64, currency string) Money {
	return Money{Minor: minor, Currency: normalizeCurrency(currency)}
}

// FromDisplay builds a Money from a display amount.
func FromDisplay(amount float64, currency string) Money {
	return New(ToMinorUnits(amount), currency)
}

// Display returns the amount in display units.
func (m Money) Display() float64 {
	return ToDisplayUnits(m.Minor)
}

// Decimal returns the display amount as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Minor, -2)
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.Minor > 0
}

// Add sums two amounts of the same currency.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency && m.Currency != "" && other.Currency != "" {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	currency := m.Currency
	if currency == "" {
		currency = other.Currency
	}
	return Money{Minor: m.Minor + other.Minor, Currency: currency}, nil
}

func (m Money) String() string {
	if m.Currency == "" {
		return m.Decimal().StringFixed(2)
	}
	return m.Decimal().StringFixed(2) + " " + m.Currency
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
