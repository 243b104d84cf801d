package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-billing/internal/money"
)

// DiscountKind selects how a quantity discount is applied.
type DiscountKind int

const (
	// DiscountNone means the item carries no discount rule.
	DiscountNone DiscountKind = iota
	// DiscountFreeUnits is "buy Threshold get Param free".
	DiscountFreeUnits
	// DiscountAmountOff is "buy Threshold get Param major units off".
	DiscountAmountOff
)

func (k DiscountKind) String() string {
	switch k {
	case DiscountFreeUnits:
		return "free_units"
	case DiscountAmountOff:
		return "amount_off"
	default:
		return "none"
	}
}

// Discount is a quantity-triggered discount rule.
type Discount struct {
	Threshold int64
	Param     float64
	Kind      DiscountKind
}

// NoDiscount is the zero rule.
var NoDiscount = Discount{}

// Active reports whether the rule can ever fire.
func (d Discount) Active() bool {
	return d.Kind != DiscountNone && d.Threshold > 0
}

func (d Discount) String() string {
	if !d.Active() {
		return "none"
	}
	return fmt.Sprintf("%s(%d,%s)", d.Kind, d.Threshold, decimal.NewFromFloat(d.Param).String())
}

// ComputeDiscount returns the per-trigger discount amount and the number of times it fires
// for qty units priced at unitPrice. The total line discount is amount × triggered.
// An AMOUNT_OFF param too large for minor units returns money.ErrOverflow.
func ComputeDiscount(d Discount, qty int64, unitPrice money.Money, cur money.Currency) (money.Money, int64, error) {
	zero := money.Money{Currency: unitPrice.Currency}
	if !d.Active() || qty <= 0 {
		return zero, 0, nil
	}
	switch d.Kind {
	case DiscountFreeUnits:
		group := decimal.NewFromInt(d.Threshold).Add(decimal.NewFromFloat(d.Param))
		if group.GreaterThan(decimal.NewFromInt(qty)) {
			return zero, 0, nil
		}
		triggered := decimal.NewFromInt(qty).Div(group).Floor().IntPart()
		return unitPrice, triggered, nil
	case DiscountAmountOff:
		if d.Threshold > qty {
			return zero, 0, nil
		}
		amount, err := cur.FromMajor(decimal.NewFromFloat(d.Param))
		if err != nil {
			return zero, 0, fmt.Errorf("amount off %s: %w", d, err)
		}
		amount.Currency = unitPrice.Currency
		return amount, qty / d.Threshold, nil
	default:
		return zero, 0, nil
	}
}
