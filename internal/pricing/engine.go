package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-billing/internal/money"
)

var (
	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

// Line describes a bill entry used for pricing calculation.
type Line struct {
	Name             string
	UnitPrice        money.Money
	TaxRate          float64
	PriceIncludesVAT bool
	Discount         Discount
	Qty              int64
}

// LineTotal holds the computed components for a single line.
type LineTotal struct {
	Name      string
	Qty       int64
	UnitPrice money.Money
	Triggered int64
	Discount  money.Money
	Net       money.Money
	Tax       money.Money
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal money.Money
	Tax      money.Money
	Discount money.Money
	Lines    []LineTotal
}

// ExtractVAT removes an included tax of taxRate percent from price, rounding half up.
func ExtractVAT(price money.Money, taxRate float64) money.Money {
	if taxRate <= 0 {
		return price
	}
	divisor := hundred.Add(decimal.NewFromFloat(taxRate))
	net := price.Decimal().Mul(hundred).Div(divisor)
	return money.Money{Amount: money.RoundHalfUp(net), Currency: price.Currency}
}

// TaxOn computes taxRate percent of amount, rounding half up.
func TaxOn(amount money.Money, taxRate float64) money.Money {
	if taxRate <= 0 {
		return money.Money{Currency: amount.Currency}
	}
	return money.Money{Amount: money.RoundHalfUp(taxDecimal(amount, taxRate)), Currency: amount.Currency}
}

func taxDecimal(amount money.Money, taxRate float64) decimal.Decimal {
	return amount.Decimal().Mul(decimal.NewFromFloat(taxRate)).Div(hundred)
}

// Compute totals the provided lines from scratch. Every line must be priced in cur. Totals that
// do not fit in int64 minor units return money.ErrOverflow.
func Compute(lines []Line, cur money.Currency) (Summary, error) {
	summary := Summary{
		Subtotal: cur.Zero(),
		Tax:      cur.Zero(),
		Discount: cur.Zero(),
		Lines:    make([]LineTotal, 0, len(lines)),
	}
	for _, ln := range lines {
		if !cur.Owns(ln.UnitPrice) {
			return Summary{}, fmt.Errorf("price line %q: %w: %s != %s", ln.Name, money.ErrCurrencyMismatch, ln.UnitPrice.Currency, cur.Code)
		}
		if ln.Qty <= 0 {
			continue
		}
		lt, err := computeLine(ln, cur)
		if err != nil {
			return Summary{}, fmt.Errorf("price line %q: %w", ln.Name, err)
		}
		if summary.Discount, err = summary.Discount.Add(lt.Discount); err != nil {
			return Summary{}, fmt.Errorf("discount total: %w", err)
		}
		if summary.Tax, err = summary.Tax.Add(lt.Tax); err != nil {
			return Summary{}, fmt.Errorf("tax total: %w", err)
		}
		if summary.Subtotal, err = summary.Subtotal.Add(lt.Net); err != nil {
			return Summary{}, fmt.Errorf("subtotal: %w", err)
		}
		if summary.Subtotal, err = summary.Subtotal.Add(lt.Tax); err != nil {
			return Summary{}, fmt.Errorf("subtotal: %w", err)
		}
		summary.Lines = append(summary.Lines, lt)
	}
	return summary, nil
}

// computeLine prices one line. A discount too large for int64 is clamped to the gross price
// like any other oversized discount; only an oversized gross or tax is an error.
func computeLine(ln Line, cur money.Currency) (LineTotal, error) {
	unit := ln.UnitPrice
	if ln.PriceIncludesVAT {
		unit = ExtractVAT(unit, ln.TaxRate)
	}
	gross, err := unit.Mul(ln.Qty)
	if err != nil {
		return LineTotal{}, err
	}
	amount, triggered, err := ComputeDiscount(ln.Discount, ln.Qty, unit, cur)
	if err != nil && !errors.Is(err, money.ErrOverflow) {
		return LineTotal{}, err
	}
	discount := gross
	if err == nil {
		if d, mulErr := amount.Mul(triggered); mulErr == nil && d.Amount < gross.Amount {
			discount = d
		}
	}
	if discount.Amount < 0 {
		discount.Amount = 0
	}
	net := money.Money{Amount: gross.Amount - discount.Amount, Currency: cur.Code}
	if taxDecimal(net, ln.TaxRate).Round(0).GreaterThan(maxMinor) {
		return LineTotal{}, fmt.Errorf("%w: tax on %s at %v%%", money.ErrOverflow, net, ln.TaxRate)
	}
	return LineTotal{
		Name:      ln.Name,
		Qty:       ln.Qty,
		UnitPrice: unit,
		Triggered: triggered,
		Discount:  discount,
		Net:       net,
		Tax:       TaxOn(net, ln.TaxRate),
	}, nil
}
