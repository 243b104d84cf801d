package bill

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-billing/internal/catalog"
	"github.com/noah-isme/pos-billing/internal/money"
)

var gbp = money.Currency{Code: "GBP", Multiplier: 100}

type recordingSubmitter struct {
	snaps []Snapshot
	err   error
}

func (r *recordingSubmitter) Submit(_ context.Context, s Snapshot) error {
	r.snaps = append(r.snaps, s)
	return r.err
}

func newItem(t *testing.T, f catalog.Fields) *catalog.Item {
	t.Helper()
	it, err := catalog.New(gbp, f, zerolog.Nop())
	require.NoError(t, err)
	return it
}

func newBill(t *testing.T) (*Bill, *recordingSubmitter, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	sub := &recordingSubmitter{}
	return New(1, gbp, sub, zerolog.New(&buf)), sub, &buf
}

func gbpAmount(n int64) money.Money { return money.Money{Amount: n, Currency: "GBP"} }

func TestNewBillIsEmpty(t *testing.T) {
	b, _, _ := newBill(t)
	require.Equal(t, int64(1), b.Reference())
	require.Empty(t, b.Entries())
	require.Equal(t, gbpAmount(0), b.Subtotal())
	require.Equal(t, gbpAmount(0), b.Tax())
	require.Equal(t, gbpAmount(0), b.Discount())
	require.False(t, b.IsSubmitted())
}

func TestAddItemScenarios(t *testing.T) {
	cases := []struct {
		name     string
		fields   catalog.Fields
		qty      int64
		subtotal int64
		tax      int64
		discount int64
	}{
		{
			name:     "basic",
			fields:   catalog.Fields{Name: catalog.Text("item"), Price: catalog.Float(5.50)},
			qty:      1,
			subtotal: 550,
		},
		{
			name:     "taxable",
			fields:   catalog.Fields{Name: catalog.Text("taxable"), Price: catalog.Int(40), Tax: catalog.Int(12)},
			qty:      1,
			subtotal: 4000,
			tax:      429,
		},
		{
			name:     "free units",
			fields:   catalog.Fields{Name: catalog.Text("free"), Price: catalog.Float(10.50), Discount: catalog.DiscountValue(2, 1, 0)},
			qty:      4,
			subtotal: 3150,
			discount: 1050,
		},
		{
			name:     "amount off",
			fields:   catalog.Fields{Name: catalog.Text("off"), Price: catalog.Int(20), Discount: catalog.DiscountValue(3, 2.5, 1)},
			qty:      7,
			subtotal: 13500,
			discount: 500,
		},
		{
			name:     "tax and discount",
			fields:   catalog.Fields{Name: catalog.Text("dsc tax"), Price: catalog.Float(37.30), Tax: catalog.Int(10), Discount: catalog.DiscountValue(1, 1, 0)},
			qty:      3,
			subtotal: 7460,
			tax:      678,
			discount: 3391,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, _, _ := newBill(t)
			require.NoError(t, b.AddItem(newItem(t, tc.fields), tc.qty))
			require.Equal(t, gbpAmount(tc.subtotal), b.Subtotal())
			require.Equal(t, gbpAmount(tc.tax), b.Tax())
			require.Equal(t, gbpAmount(tc.discount), b.Discount())
		})
	}
}

func TestAddItemIncrementsExistingLine(t *testing.T) {
	b, _, _ := newBill(t)
	it := newItem(t, catalog.Fields{Name: catalog.Text("free"), Price: catalog.Float(10.50), Discount: catalog.DiscountValue(2, 1, 0)})
	for i := 0; i < 4; i++ {
		require.NoError(t, b.AddItem(it, 1))
	}
	entries := b.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, int64(4), entries[0].Qty)
	require.Equal(t, gbpAmount(3150), b.Subtotal())
	require.Equal(t, gbpAmount(1050), b.Discount())
}

func TestAddItemStoresIndependentCopy(t *testing.T) {
	b, _, _ := newBill(t)
	it := newItem(t, catalog.Fields{Name: catalog.Text("widget"), Price: catalog.Int(5)})
	require.NoError(t, b.AddItem(it, 1))

	require.NoError(t, it.SetPrice(catalog.Int(99)))
	it.AddTag(catalog.Text("changed"))
	require.NoError(t, b.Retotal())

	e, ok := b.Entry("Widget")
	require.True(t, ok)
	require.Equal(t, gbpAmount(500), e.Item.Price())
	require.Empty(t, e.Item.Tags())
	require.Equal(t, gbpAmount(500), b.Subtotal())
}

func TestRetotalIsIdempotent(t *testing.T) {
	b, _, _ := newBill(t)
	require.NoError(t, b.AddItem(newItem(t, catalog.Fields{Name: catalog.Text("a"), Price: catalog.Int(40), Tax: catalog.Int(12)}), 2))
	require.NoError(t, b.AddItem(newItem(t, catalog.Fields{Name: catalog.Text("b"), Price: catalog.Float(1.25)}), 3))
	subtotal, tax, discount := b.Subtotal(), b.Tax(), b.Discount()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Retotal())
	}
	require.Equal(t, subtotal, b.Subtotal())
	require.Equal(t, tax, b.Tax())
	require.Equal(t, discount, b.Discount())
	require.Equal(t, gbpAmount(8374), b.Subtotal())
}

func TestAddItemValidation(t *testing.T) {
	b, _, _ := newBill(t)
	it := newItem(t, catalog.Fields{Name: catalog.Text("x"), Price: catalog.Int(1)})
	require.ErrorIs(t, b.AddItem(it, 0), ErrInvalidQuantity)
	require.ErrorIs(t, b.AddItem(nil, 1), ErrNilItem)

	eur := money.Currency{Code: "EUR", Multiplier: 100}
	foreign, err := catalog.New(eur, catalog.Fields{Name: catalog.Text("y"), Price: catalog.Int(1)}, zerolog.Nop())
	require.NoError(t, err)
	require.ErrorIs(t, b.AddItem(foreign, 1), money.ErrCurrencyMismatch)
	require.Empty(t, b.Entries())
}

func TestAddItemOutOfRangeLeavesBillUnchanged(t *testing.T) {
	b, _, _ := newBill(t)
	big := newItem(t, catalog.Fields{Name: catalog.Text("big"), Price: catalog.Amount(gbpAmount(5e18))})
	require.NoError(t, b.AddItem(big, 1))

	err := b.AddItem(big, 1)
	require.ErrorIs(t, err, money.ErrOverflow)
	entry, ok := b.Entry("big")
	require.True(t, ok)
	require.Equal(t, int64(1), entry.Qty)
	require.Equal(t, gbpAmount(5e18), b.Subtotal())

	other := newItem(t, catalog.Fields{Name: catalog.Text("other"), Price: catalog.Amount(gbpAmount(5e18))})
	require.ErrorIs(t, b.AddItem(other, 1), money.ErrOverflow)
	_, ok = b.Entry("other")
	require.False(t, ok)
	require.Len(t, b.Entries(), 1)
}

func TestResetClearsLines(t *testing.T) {
	b, _, _ := newBill(t)
	require.NoError(t, b.AddItem(newItem(t, catalog.Fields{Name: catalog.Text("x"), Price: catalog.Int(3)}), 2))
	require.NoError(t, b.Reset())
	require.Empty(t, b.Entries())
	require.Equal(t, gbpAmount(0), b.Subtotal())
}

func TestSubmitHandsSnapshotToRegister(t *testing.T) {
	b, sub, _ := newBill(t)
	require.NoError(t, b.AddItem(newItem(t, catalog.Fields{Name: catalog.Text("x"), Price: catalog.Int(3)}), 2))
	require.NoError(t, b.Submit(context.Background()))
	require.True(t, b.IsSubmitted())
	require.Len(t, sub.snaps, 1)

	snap := sub.snaps[0]
	require.Equal(t, int64(1), snap.Reference)
	require.Equal(t, "GBP", snap.Currency)
	require.Equal(t, gbpAmount(600), snap.Subtotal)
	require.Equal(t, int64(2), snap.Quantity())
	require.True(t, snap.Submitted)
	require.False(t, snap.SubmittedAt.IsZero())
}

func TestSubmittedBillIsImmutable(t *testing.T) {
	b, sub, buf := newBill(t)
	it := newItem(t, catalog.Fields{Name: catalog.Text("x"), Price: catalog.Int(3)})
	require.NoError(t, b.AddItem(it, 1))
	require.NoError(t, b.Submit(context.Background()))
	buf.Reset()

	require.ErrorIs(t, b.AddItem(it, 1), ErrSubmitted)
	require.ErrorIs(t, b.Reset(), ErrSubmitted)
	require.ErrorIs(t, b.Submit(context.Background()), ErrSubmitted)

	require.Len(t, sub.snaps, 1)
	require.Len(t, b.Entries(), 1)
	require.Equal(t, gbpAmount(300), b.Subtotal())
	require.Contains(t, buf.String(), "already been submitted")
}

func TestSubmitRejectionKeepsBillClosed(t *testing.T) {
	b, sub, _ := newBill(t)
	sub.err = errors.New("duplicate")
	err := b.Submit(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, sub.err)
	require.True(t, b.IsSubmitted())
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	b, _, _ := newBill(t)
	require.NoError(t, b.AddItem(newItem(t, catalog.Fields{Name: catalog.Text("x"), Price: catalog.Int(3), Tags: catalog.Strings("a")}), 1))
	snap := b.Snapshot()
	clone := snap.Clone()
	clone.Entries[0].Qty = 50
	clone.Entries[0].Item.AddTag(catalog.Text("b"))
	require.Equal(t, int64(1), snap.Entries[0].Qty)
	require.Equal(t, []string{"a"}, snap.Entries[0].Item.Tags())
}
