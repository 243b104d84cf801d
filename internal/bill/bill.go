package bill

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/pos-billing/internal/catalog"
	"github.com/noah-isme/pos-billing/internal/money"
	"github.com/noah-isme/pos-billing/internal/obs"
	"github.com/noah-isme/pos-billing/internal/pricing"
)

var (
	// ErrSubmitted is reported when a submitted bill is mutated or submitted again. The
	// operation is ignored.
	ErrSubmitted = errors.New("bill already submitted")
	// ErrInvalidQuantity is returned for quantities below one.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrNilItem is returned when AddItem receives no item.
	ErrNilItem = errors.New("item is required")
)

// Submitter receives the frozen snapshot of a submitted bill.
type Submitter interface {
	Submit(ctx context.Context, s Snapshot) error
}

// Entry is a line on the bill: an independent copy of the catalog item and its quantity.
type Entry struct {
	Item catalog.Item
	Qty  int64
}

func (e Entry) clone() Entry {
	return Entry{Item: e.Item.Clone(), Qty: e.Qty}
}

// Bill accumulates items for a single sale. A Bill must be used by one session at a time.
type Bill struct {
	ref       int64
	currency  money.Currency
	entries   map[string]Entry
	subtotal  money.Money
	tax       money.Money
	discount  money.Money
	lines     []pricing.LineTotal
	submitted bool

	submitter Submitter
	log       zerolog.Logger
	now       func() time.Time
}

// New constructs an empty open bill. submitter may be nil for detached bills.
func New(ref int64, cur money.Currency, submitter Submitter, log zerolog.Logger) *Bill {
	return &Bill{
		ref:       ref,
		currency:  cur,
		entries:   make(map[string]Entry),
		subtotal:  cur.Zero(),
		tax:       cur.Zero(),
		discount:  cur.Zero(),
		submitter: submitter,
		log:       log.With().Int64("bill_ref", ref).Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reference returns the register-assigned identifier.
func (b *Bill) Reference() int64 { return b.ref }

// Currency returns the bill currency.
func (b *Bill) Currency() money.Currency { return b.currency }

// Subtotal is the tax-inclusive total after discounts.
func (b *Bill) Subtotal() money.Money { return b.subtotal }

// Tax is the tax due.
func (b *Bill) Tax() money.Money { return b.tax }

// Discount is the total discount applied.
func (b *Bill) Discount() money.Money { return b.discount }

// IsSubmitted reports whether the bill has been handed to the register.
func (b *Bill) IsSubmitted() bool { return b.submitted }

// Lines returns the per-line breakdown of the last retotal.
func (b *Bill) Lines() []pricing.LineTotal {
	return append([]pricing.LineTotal(nil), b.lines...)
}

// Entries returns copies of the bill lines ordered by item name.
func (b *Bill) Entries() []Entry {
	out := make([]Entry, 0, len(b.entries))
	for _, name := range b.names() {
		out = append(out, b.entries[name].clone())
	}
	return out
}

// Entry returns a copy of the named line.
func (b *Bill) Entry(name string) (Entry, bool) {
	e, ok := b.entries[catalog.NormalizeIdentifier(name)]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// AddItem stores a copy of item with qty units, or increments the quantity of an existing line
// with the same name, then retotals. Later changes to item do not affect the bill.
func (b *Bill) AddItem(item *catalog.Item, qty int64) error {
	if b.submitted {
		return b.notice("add_item")
	}
	if item == nil {
		return ErrNilItem
	}
	if qty < 1 {
		return fmt.Errorf("add %s x%d: %w", item.Name(), qty, ErrInvalidQuantity)
	}
	if item.Currency().Code != b.currency.Code || !b.currency.Owns(item.Price()) {
		return fmt.Errorf("add %s: %w: %s != %s", item.Name(), money.ErrCurrencyMismatch, item.Price().Currency, b.currency.Code)
	}
	name := item.Name()
	existing, ok := b.entries[name]
	if ok {
		if existing.Qty > math.MaxInt64-qty {
			return fmt.Errorf("add %s x%d: %w", name, qty, money.ErrOverflow)
		}
		b.entries[name] = Entry{Item: existing.Item, Qty: existing.Qty + qty}
	} else {
		b.entries[name] = Entry{Item: item.Clone(), Qty: qty}
	}
	if err := b.Retotal(); err != nil {
		if ok {
			b.entries[name] = existing
		} else {
			delete(b.entries, name)
		}
		return err
	}
	return nil
}

// Reset clears every line.
func (b *Bill) Reset() error {
	if b.submitted {
		return b.notice("reset")
	}
	clear(b.entries)
	return b.Retotal()
}

// Retotal recomputes subtotal, tax and discount from the full entry set.
func (b *Bill) Retotal() error {
	lines := make([]pricing.Line, 0, len(b.entries))
	for _, name := range b.names() {
		e := b.entries[name]
		lines = append(lines, pricing.Line{
			Name:             name,
			UnitPrice:        e.Item.Price(),
			TaxRate:          e.Item.Tax(),
			PriceIncludesVAT: e.Item.PriceIncludeVAT(),
			Discount:         e.Item.Discount(),
			Qty:              e.Qty,
		})
	}
	summary, err := pricing.Compute(lines, b.currency)
	if err != nil {
		return fmt.Errorf("retotal bill %d: %w", b.ref, err)
	}
	b.subtotal = summary.Subtotal
	b.tax = summary.Tax
	b.discount = summary.Discount
	b.lines = summary.Lines
	return nil
}

// Submit retotals, closes the bill and hands a snapshot to the register. A rejection by the
// register is returned but the bill stays closed.
func (b *Bill) Submit(ctx context.Context) error {
	if b.submitted {
		return b.notice("submit")
	}
	if err := b.Retotal(); err != nil {
		return err
	}
	b.submitted = true
	snap := b.snapshot(b.now())
	b.log.Info().
		Int64("subtotal", snap.Subtotal.Amount).
		Int64("tax", snap.Tax.Amount).
		Int64("discount", snap.Discount.Amount).
		Int("lines", len(snap.Entries)).
		Msg("bill submitted")
	if b.submitter == nil {
		return nil
	}
	if err := b.submitter.Submit(ctx, snap); err != nil {
		return fmt.Errorf("submit bill %d: %w", b.ref, err)
	}
	return nil
}

// Snapshot returns a frozen copy of the bill.
func (b *Bill) Snapshot() Snapshot {
	return b.snapshot(time.Time{})
}

func (b *Bill) snapshot(at time.Time) Snapshot {
	return Snapshot{
		Reference:   b.ref,
		Currency:    b.currency.Code,
		Entries:     b.Entries(),
		Lines:       b.Lines(),
		Subtotal:    b.subtotal,
		Tax:         b.tax,
		Discount:    b.discount,
		Submitted:   b.submitted,
		SubmittedAt: at,
	}
}

func (b *Bill) notice(op string) error {
	if obs.BillNoticesTotal != nil {
		obs.BillNoticesTotal.WithLabelValues(op).Inc()
	}
	b.log.Warn().Str("operation", op).Msg("this bill has already been submitted")
	return ErrSubmitted
}

func (b *Bill) names() []string {
	names := make([]string, 0, len(b.entries))
	for name := range b.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
