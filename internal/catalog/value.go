package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-billing/internal/money"
)

// Kind enumerates the raw input shapes accepted by item fields.
type Kind int

const (
	KindNull Kind = iota
	KindText
	KindInt
	KindFloat
	KindBool
	KindAmount
	KindList
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindAmount:
		return "amount"
	case KindList:
		return "list"
	default:
		return "opaque"
	}
}

// Value is a raw field input before validation. The zero Value is Null.
type Value struct {
	kind   Kind
	text   string
	i      int64
	f      float64
	b      bool
	amount money.Money
	list   []Value
}

// Null is an absent value. Optional fields map it to their default without a warning; name and
// price are required and warn before falling back to theirs.
func Null() Value { return Value{} }

// Text wraps a string.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a real number.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Amount wraps a Money value.
func Amount(m money.Money) Value { return Value{kind: KindAmount, amount: m} }

// List wraps a sequence of values.
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), items...)}
}

// Opaque carries an input of an unsupported shape; it is only useful for diagnostics.
func Opaque(desc string) Value { return Value{kind: KindOpaque, text: desc} }

// Strings wraps a list of strings.
func Strings(items ...string) Value {
	vals := make([]Value, 0, len(items))
	for _, s := range items {
		vals = append(vals, Text(s))
	}
	return Value{kind: KindList, list: vals}
}

// DiscountValue builds the three-element discount input (threshold, param, kind).
func DiscountValue(threshold int64, param float64, kind int64) Value {
	return List(Int(threshold), Float(param), Int(kind))
}

// Kind returns the input shape.
func (v Value) Kind() Kind { return v.kind }

// IsScalar reports whether the value is text, a number or a boolean.
func (v Value) IsScalar() bool {
	switch v.kind {
	case KindText, KindInt, KindFloat, KindBool:
		return true
	default:
		return false
	}
}

// Len returns the element count of a list value.
func (v Value) Len() int { return len(v.list) }

// Number returns the numeric value of an Int or Float input.
func (v Value) Number() (decimal.Decimal, bool) {
	switch v.kind {
	case KindInt:
		return decimal.NewFromInt(v.i), true
	case KindFloat:
		return decimal.NewFromFloat(v.f), true
	default:
		return decimal.Decimal{}, false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindText, KindOpaque:
		return v.text
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindAmount:
		return v.amount.String()
	case KindList:
		parts := make([]string, 0, len(v.list))
		for _, item := range v.list {
			parts = append(parts, item.String())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return ""
	}
}

// FromAny converts a decoded JSON value (decoded with UseNumber) into a Value.
// Objects of the form {"amount": <minor units>, "currency": <code>} become Amount values.
func FromAny(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case string:
		return Text(v)
	case bool:
		return Bool(v)
	case int:
		return Int(int64(v))
	case int64:
		return Int(v)
	case float64:
		return Float(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Int(i)
		}
		if f, err := v.Float64(); err == nil {
			return Float(f)
		}
		return Opaque(v.String())
	case money.Money:
		return Amount(v)
	case []any:
		items := make([]Value, 0, len(v))
		for _, item := range v {
			items = append(items, FromAny(item))
		}
		return Value{kind: KindList, list: items}
	case map[string]any:
		if m, ok := amountFromMap(v); ok {
			return Amount(m)
		}
		return Opaque(fmt.Sprint(v))
	default:
		return Opaque(fmt.Sprint(v))
	}
}

func amountFromMap(obj map[string]any) (money.Money, bool) {
	code, ok := obj["currency"].(string)
	if !ok || strings.TrimSpace(code) == "" {
		return money.Money{}, false
	}
	var amount int64
	switch a := obj["amount"].(type) {
	case json.Number:
		i, err := a.Int64()
		if err != nil {
			return money.Money{}, false
		}
		amount = i
	case float64:
		if a != float64(int64(a)) {
			return money.Money{}, false
		}
		amount = int64(a)
	default:
		return money.Money{}, false
	}
	return money.New(amount, code), true
}
