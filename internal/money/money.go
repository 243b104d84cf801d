package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrCurrencyMismatch is returned when two amounts tagged with different currencies are combined.
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
	// ErrUnknownCurrency indicates a currency code that the table cannot resolve.
	ErrUnknownCurrency = errors.New("money: unknown currency")
	// ErrOverflow is returned when a result does not fit in int64 minor units.
	ErrOverflow = errors.New("money: amount out of range")
)

// Money is an exact amount in minor units tagged with an ISO currency code.
type Money struct {
	Amount   int64
	Currency string
}

// New constructs a Money value, normalising the currency code.
func New(amount int64, code string) Money {
	return Money{Amount: amount, Currency: NormalizeCode(code)}
}

// NormalizeCode upper-cases and trims a currency code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Add returns m+o. Both operands must share a currency.
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	sum, ok := addInt64(m.Amount, o.Amount)
	if !ok {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrOverflow, m, o)
	}
	return Money{Amount: sum, Currency: m.Currency}, nil
}

// Sub returns m-o. Both operands must share a currency.
func (m Money) Sub(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	if o.Amount == math.MinInt64 {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrOverflow, m, o)
	}
	diff, ok := addInt64(m.Amount, -o.Amount)
	if !ok {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrOverflow, m, o)
	}
	return Money{Amount: diff, Currency: m.Currency}, nil
}

// Mul scales the amount by an integer factor.
func (m Money) Mul(n int64) (Money, error) {
	if m.Amount == 0 || n == 0 {
		return Money{Currency: m.Currency}, nil
	}
	p := m.Amount * n
	if p/n != m.Amount || (m.Amount == -1 && n == math.MinInt64) || (n == -1 && m.Amount == math.MinInt64) {
		return Money{}, fmt.Errorf("%w: %s x %d", ErrOverflow, m, n)
	}
	return Money{Amount: p, Currency: m.Currency}, nil
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// Equal reports whether both amount and currency match.
func (m Money) Equal(o Money) bool {
	return m.Amount == o.Amount && m.Currency == o.Currency
}

// Decimal exposes the minor-unit amount as a decimal for exact intermediate arithmetic.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount)
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}

// RoundHalfUp rounds a non-negative minor-unit decimal to the nearest integer, halves going up.
// Negative values round half away from zero.
func RoundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

func addInt64(a, b int64) (int64, bool) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, false
	}
	return c, true
}
