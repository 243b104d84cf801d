package bill

import (
	"time"

	"github.com/noah-isme/pos-billing/internal/money"
	"github.com/noah-isme/pos-billing/internal/pricing"
)

// Snapshot is the frozen state of a bill handed to the register on submission.
type Snapshot struct {
	Reference   int64
	Currency    string
	Entries     []Entry
	Lines       []pricing.LineTotal
	Subtotal    money.Money
	Tax         money.Money
	Discount    money.Money
	Submitted   bool
	SubmittedAt time.Time
}

// Clone returns a deep copy so holders cannot alter each other's view.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Entries = make([]Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		out.Entries = append(out.Entries, e.clone())
	}
	out.Lines = append([]pricing.LineTotal(nil), s.Lines...)
	return out
}

// Quantity returns the total number of units across all entries.
func (s Snapshot) Quantity() int64 {
	var n int64
	for _, e := range s.Entries {
		n += e.Qty
	}
	return n
}
