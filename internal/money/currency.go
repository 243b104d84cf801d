package money

import (
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Currency describes a currency code and its minor-unit multiplier (100 for two-decimal currencies).
type Currency struct {
	Code       string
	Multiplier int64
}

// Zero returns a zero amount in the currency.
func (c Currency) Zero() Money {
	return Money{Currency: c.Code}
}

// Owns reports whether the amount is tagged with this currency.
func (c Currency) Owns(m Money) bool {
	return m.Currency == c.Code
}

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// FromMajor converts a major-unit value (e.g. 5.50) into minor units, truncating any remainder.
// Values outside the int64 range return ErrOverflow.
func (c Currency) FromMajor(d decimal.Decimal) (Money, error) {
	minor := d.Mul(decimal.NewFromInt(c.multiplier())).Truncate(0)
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return Money{}, fmt.Errorf("%w: %s %s", ErrOverflow, d.String(), c.Code)
	}
	return Money{Amount: minor.IntPart(), Currency: c.Code}, nil
}

// Format renders m in major units with the currency's decimal places, e.g. "5.50 GBP".
func (c Currency) Format(m Money) string {
	major := m.Decimal().Div(decimal.NewFromInt(c.multiplier()))
	return major.StringFixed(c.scale()) + " " + m.Currency
}

func (c Currency) scale() int32 {
	var s int32
	for m := c.multiplier(); m >= 10; m /= 10 {
		s++
	}
	return s
}

func (c Currency) multiplier() int64 {
	if c.Multiplier <= 0 {
		return 1
	}
	return c.Multiplier
}

// Table resolves a currency code to its definition.
type Table interface {
	Lookup(code string) (Currency, error)
}

// StandardTable resolves ISO 4217 codes using CLDR rounding data. Overrides take precedence
// and allow registering codes unknown to CLDR.
type StandardTable struct {
	mu        sync.RWMutex
	overrides map[string]Currency
}

// NewStandardTable constructs a table with optional overrides.
func NewStandardTable(overrides ...Currency) *StandardTable {
	t := &StandardTable{overrides: make(map[string]Currency, len(overrides))}
	for _, c := range overrides {
		t.Register(c)
	}
	return t
}

// Register adds or replaces an override entry.
func (t *StandardTable) Register(c Currency) {
	c.Code = NormalizeCode(c.Code)
	if c.Multiplier <= 0 {
		c.Multiplier = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.overrides == nil {
		t.overrides = make(map[string]Currency)
	}
	t.overrides[c.Code] = c
}

// Lookup implements Table.
func (t *StandardTable) Lookup(code string) (Currency, error) {
	norm := NormalizeCode(code)
	if norm == "" {
		return Currency{}, fmt.Errorf("%w: empty code", ErrUnknownCurrency)
	}
	if t != nil {
		t.mu.RLock()
		c, ok := t.overrides[norm]
		t.mu.RUnlock()
		if ok {
			return c, nil
		}
	}
	unit, err := currency.ParseISO(norm)
	if err != nil {
		return Currency{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, norm)
	}
	scale, _ := currency.Standard.Rounding(unit)
	mult := int64(1)
	for i := 0; i < scale; i++ {
		mult *= 10
	}
	return Currency{Code: unit.String(), Multiplier: mult}, nil
}
