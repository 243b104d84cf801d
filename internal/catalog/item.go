package catalog

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-billing/internal/money"
	"github.com/noah-isme/pos-billing/internal/obs"
	"github.com/noah-isme/pos-billing/internal/pricing"
)

// DefaultName replaces names that cannot be normalised.
const DefaultName = "unnamed"

// Fields carries the raw inputs for a new item. Null optional fields take their defaults
// silently: no tax, no discount, no tags and VAT-inclusive pricing. A null name or price is
// reported as a warning and falls back to DefaultName or zero.
type Fields struct {
	Name            Value
	Price           Value
	Tax             Value
	Discount        Value
	Tags            Value
	PriceIncludeVAT Value
}

// Warning records a coerced field value.
type Warning struct {
	Field  string
	Value  string
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("bad value for %s %q: %s", w.Field, w.Value, w.Reason)
}

// Item is a validated catalog entry. Every field is kept in normalised form; malformed input
// is coerced to a safe default and reported instead of being rejected.
type Item struct {
	name            string
	price           money.Money
	tax             float64
	discount        pricing.Discount
	tags            []string
	priceIncludeVAT bool

	currency money.Currency
	log      zerolog.Logger
	warnings []Warning
}

// New validates fields against the currency cur. The only error is a price tagged with a
// different currency.
func New(cur money.Currency, f Fields, log zerolog.Logger) (*Item, error) {
	it := &Item{currency: cur, log: log, price: cur.Zero(), priceIncludeVAT: true}
	it.SetName(f.Name)
	if err := it.SetPrice(f.Price); err != nil {
		return nil, err
	}
	it.SetTax(f.Tax)
	it.SetDiscount(f.Discount)
	it.SetTags(f.Tags)
	it.SetPriceIncludeVAT(f.PriceIncludeVAT)
	return it, nil
}

// Name returns the normalised identifier.
func (it *Item) Name() string { return it.name }

// Price returns the listed price in minor units.
func (it *Item) Price() money.Money { return it.price }

// Tax returns the tax rate percentage.
func (it *Item) Tax() float64 { return it.tax }

// Discount returns the discount rule; the zero rule means none.
func (it *Item) Discount() pricing.Discount { return it.discount }

// Tags returns a copy of the normalised tags.
func (it *Item) Tags() []string { return slices.Clone(it.tags) }

// PriceIncludeVAT reports whether Price already contains tax.
func (it *Item) PriceIncludeVAT() bool { return it.priceIncludeVAT }

// Currency returns the currency the item is priced in.
func (it *Item) Currency() money.Currency { return it.currency }

// Warnings returns every coercion recorded for this item.
func (it *Item) Warnings() []Warning { return slices.Clone(it.warnings) }

// HasTag reports whether the normalised form of tag is present.
func (it *Item) HasTag(tag string) bool {
	return slices.Contains(it.tags, NormalizeIdentifier(tag))
}

// SetName normalises and assigns the name.
func (it *Item) SetName(v Value) {
	name, ok := Normalize(v)
	if !ok {
		it.name = DefaultName
		it.warn("name", v, "expected a non-empty scalar")
		return
	}
	it.name = name
}

// SetPrice assigns a price. Amounts must be in the item's currency; numbers are treated as
// major units and truncated to minor units.
func (it *Item) SetPrice(v Value) error {
	switch v.Kind() {
	case KindAmount:
		m := v.amount
		m.Currency = money.NormalizeCode(m.Currency)
		if m.Currency != it.currency.Code {
			return fmt.Errorf("item %s price: %w: %s != %s", it.name, money.ErrCurrencyMismatch, m.Currency, it.currency.Code)
		}
		if m.Amount < 0 {
			it.price = it.currency.Zero()
			it.warn("price", v, "negative amount")
			return nil
		}
		it.price = m
	case KindInt, KindFloat:
		if v.Kind() == KindFloat && !finite(v.f) {
			it.price = it.currency.Zero()
			it.warn("price", v, "expected a finite number")
			return nil
		}
		d, _ := v.Number()
		if d.IsNegative() {
			it.price = it.currency.Zero()
			it.warn("price", v, "expected a non-negative number")
			return nil
		}
		m, err := it.currency.FromMajor(d)
		if err != nil {
			it.price = it.currency.Zero()
			it.warn("price", v, "number out of range")
			return nil
		}
		it.price = m
	default:
		it.price = it.currency.Zero()
		it.warn("price", v, "expected money or a number")
	}
	return nil
}

// SetTax assigns the tax percentage. Numeric text such as "17.5%" is accepted.
func (it *Item) SetTax(v Value) {
	it.tax = 0
	var (
		d  decimal.Decimal
		ok bool
	)
	switch v.Kind() {
	case KindNull:
		return
	case KindInt:
		d, ok = v.Number()
	case KindFloat:
		if finite(v.f) {
			d, ok = v.Number()
		}
	case KindText:
		raw := strings.TrimSuffix(strings.TrimSpace(v.text), "%")
		parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
		d, ok = parsed, err == nil
	}
	if !ok {
		it.warn("tax", v, "expected a number")
		return
	}
	if d.IsNegative() {
		it.warn("tax", v, "negative rate")
		return
	}
	it.tax = d.InexactFloat64()
}

// SetDiscount assigns the discount rule from a (threshold, param, kind) triple where kind 0
// is free units and 1 is an amount off. Null or false clears the rule.
func (it *Item) SetDiscount(v Value) {
	it.discount = pricing.NoDiscount
	switch v.Kind() {
	case KindNull:
		return
	case KindBool:
		if !v.b {
			return
		}
	case KindList:
		if d, ok := parseDiscount(v, it.currency); ok {
			it.discount = d
			return
		}
	}
	it.warn("discount", v, "expected (threshold, param, kind)")
}

func parseDiscount(v Value, cur money.Currency) (pricing.Discount, bool) {
	if v.Len() != 3 {
		return pricing.Discount{}, false
	}
	threshold, param, kind := v.list[0], v.list[1], v.list[2]
	if threshold.Kind() != KindInt || threshold.i <= 0 {
		return pricing.Discount{}, false
	}
	var p float64
	switch param.Kind() {
	case KindInt:
		p = float64(param.i)
	case KindFloat:
		p = param.f
	default:
		return pricing.Discount{}, false
	}
	if p < 0 || !finite(p) {
		return pricing.Discount{}, false
	}
	if kind.Kind() != KindInt {
		return pricing.Discount{}, false
	}
	d := pricing.Discount{Threshold: threshold.i, Param: p}
	switch kind.i {
	case 0:
		d.Kind = pricing.DiscountFreeUnits
	case 1:
		d.Kind = pricing.DiscountAmountOff
		if _, err := cur.FromMajor(decimal.NewFromFloat(p)); err != nil {
			return pricing.Discount{}, false
		}
	default:
		return pricing.Discount{}, false
	}
	return d, true
}

// SetTags replaces the tags. A scalar becomes a single tag.
func (it *Item) SetTags(v Value) {
	it.tags = nil
	switch {
	case v.Kind() == KindNull:
		return
	case v.Kind() == KindList:
		for _, tag := range v.list {
			it.AddTag(tag)
		}
	default:
		it.AddTag(v)
	}
}

// AddTag normalises and appends a tag, ignoring duplicates.
func (it *Item) AddTag(v Value) {
	tag, ok := Normalize(v)
	if !ok {
		it.warn("tags", v, "expected a non-empty scalar")
		return
	}
	if !slices.Contains(it.tags, tag) {
		it.tags = append(it.tags, tag)
	}
}

// SetPriceIncludeVAT assigns the VAT-inclusion flag; anything but a boolean resets it to true.
func (it *Item) SetPriceIncludeVAT(v Value) {
	switch v.Kind() {
	case KindBool:
		it.priceIncludeVAT = v.b
	case KindNull:
		it.priceIncludeVAT = true
	default:
		it.priceIncludeVAT = true
		it.warn("price_include_vat", v, "expected a boolean")
	}
}

// Clone returns an independent copy of the item.
func (it *Item) Clone() Item {
	c := *it
	c.tags = slices.Clone(it.tags)
	c.warnings = slices.Clone(it.warnings)
	return c
}

// Equal compares two items field by field; tag order is ignored.
func (it *Item) Equal(o *Item) bool {
	if it == nil || o == nil {
		return it == o
	}
	if it.name != o.name || !it.price.Equal(o.price) || it.tax != o.tax ||
		it.discount != o.discount || it.priceIncludeVAT != o.priceIncludeVAT {
		return false
	}
	if len(it.tags) != len(o.tags) {
		return false
	}
	for _, tag := range it.tags {
		if !slices.Contains(o.tags, tag) {
			return false
		}
	}
	return true
}

func (it *Item) warn(field string, v Value, reason string) {
	w := Warning{Field: field, Value: v.String(), Reason: reason}
	it.warnings = append(it.warnings, w)
	if obs.ItemValidationWarnings != nil {
		obs.ItemValidationWarnings.WithLabelValues(field).Inc()
	}
	it.log.Warn().
		Str("item", it.name).
		Str("field", field).
		Str("value", w.Value).
		Str("input_kind", v.Kind().String()).
		Msg(w.String())
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
