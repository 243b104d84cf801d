package register

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/pos-billing/internal/bill"
	"github.com/noah-isme/pos-billing/internal/catalog"
	"github.com/noah-isme/pos-billing/internal/events"
	"github.com/noah-isme/pos-billing/internal/money"
	"github.com/noah-isme/pos-billing/internal/obs"
	"github.com/noah-isme/pos-billing/internal/sequence"
)

var (
	// ErrDuplicateBill is reported when a bill reference was already accepted. The snapshot is
	// discarded.
	ErrDuplicateBill = errors.New("bill has already been submitted to the register")
	// ErrInvalidRefStart rejects negative starting references.
	ErrInvalidRefStart = errors.New("reference start must not be negative")
)

// Config carries the register settings.
type Config struct {
	Currency string
	// RefStart is the first reference handed out. Zero means 1.
	RefStart int64
}

// Deps holds the collaborators of a register. Nil members fall back to in-memory defaults.
type Deps struct {
	Currencies money.Table
	Sequence   sequence.Sequencer
	Events     *events.Bus
	Logger     zerolog.Logger
}

// Register issues bill references and keeps the registry of submitted bills together with the
// running system total.
type Register struct {
	currency money.Currency
	seq      sequence.Sequencer
	bus      *events.Bus
	log      zerolog.Logger

	mu    sync.RWMutex
	bills map[int64]bill.Snapshot
	total money.Money
}

// New resolves the register currency and wires collaborators.
func New(cfg Config, deps Deps) (*Register, error) {
	if cfg.RefStart < 0 {
		return nil, ErrInvalidRefStart
	}
	if cfg.RefStart == 0 {
		cfg.RefStart = 1
	}
	table := deps.Currencies
	if table == nil {
		table = money.NewStandardTable()
	}
	cur, err := table.Lookup(cfg.Currency)
	if err != nil {
		return nil, fmt.Errorf("register currency: %w", err)
	}
	seq := deps.Sequence
	if seq == nil {
		seq = sequence.NewMemory(cfg.RefStart)
	}
	r := &Register{
		currency: cur,
		seq:      seq,
		bus:      deps.Events,
		log:      deps.Logger.With().Str("currency", cur.Code).Logger(),
		bills:    make(map[int64]bill.Snapshot),
		total:    cur.Zero(),
	}
	if obs.SystemTotal != nil {
		obs.SystemTotal.WithLabelValues(cur.Code).Set(0)
	}
	return r, nil
}

// Currency returns the register currency.
func (r *Register) Currency() money.Currency { return r.currency }

// NewItem builds a catalog item in the register currency.
func (r *Register) NewItem(f catalog.Fields) (*catalog.Item, error) {
	return catalog.New(r.currency, f, r.log)
}

// NewBill opens a bill with the next reference.
func (r *Register) NewBill(ctx context.Context) (*bill.Bill, error) {
	ctx, span := obs.Tracer().Start(ctx, "register.NewBill")
	defer span.End()
	ref, err := r.seq.Next(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "next reference")
		return nil, fmt.Errorf("next bill reference: %w", err)
	}
	span.SetAttributes(attribute.Int64("bill.ref", ref))
	if obs.BillsOpenedTotal != nil {
		obs.BillsOpenedTotal.Inc()
	}
	r.emit(ctx, events.TopicBillOpened, ref, openedPayload{Reference: ref, Currency: r.currency.Code})
	return bill.New(ref, r.currency, r, r.log), nil
}

// LastReference returns the most recently issued reference, or RefStart-1 if none was issued.
func (r *Register) LastReference(ctx context.Context) (int64, error) {
	return r.seq.Last(ctx)
}

// Submit accepts a bill snapshot into the registry. Each reference is accepted once; later
// submissions are logged and rejected without touching the system total.
func (r *Register) Submit(ctx context.Context, s bill.Snapshot) error {
	ctx, span := obs.Tracer().Start(ctx, "register.Submit", trace.WithAttributes(
		attribute.Int64("bill.ref", s.Reference),
		attribute.Int64("bill.subtotal", s.Subtotal.Amount),
	))
	defer span.End()
	log := r.log.With().Int64("bill_ref", s.Reference).Logger()
	if s.Currency != r.currency.Code || !r.currency.Owns(s.Subtotal) {
		r.count("currency_mismatch")
		log.Warn().Str("bill_currency", s.Currency).Msg("bill currency differs from register")
		span.SetStatus(codes.Error, "currency mismatch")
		return fmt.Errorf("bill %d: %w: %s != %s", s.Reference, money.ErrCurrencyMismatch, s.Currency, r.currency.Code)
	}

	r.mu.Lock()
	if _, exists := r.bills[s.Reference]; exists {
		r.mu.Unlock()
		r.count("duplicate")
		log.Warn().Msg("this bill has already been submitted to the register")
		span.SetStatus(codes.Error, "duplicate")
		r.emit(ctx, events.TopicBillDuplicate, s.Reference, duplicatePayload{Reference: s.Reference})
		return fmt.Errorf("bill %d: %w", s.Reference, ErrDuplicateBill)
	}
	total, err := r.total.Add(s.Subtotal)
	if err != nil {
		r.mu.Unlock()
		r.count("overflow")
		log.Error().Err(err).Msg("system total out of range")
		span.SetStatus(codes.Error, "overflow")
		return fmt.Errorf("bill %d: %w", s.Reference, err)
	}
	r.bills[s.Reference] = s.Clone()
	r.total = total
	r.mu.Unlock()

	r.count("accepted")
	if obs.SystemTotal != nil {
		obs.SystemTotal.WithLabelValues(total.Currency).Set(float64(total.Amount))
	}
	log.Info().
		Int64("subtotal", s.Subtotal.Amount).
		Int64("system_total", total.Amount).
		Msg("bill accepted")
	r.emit(ctx, events.TopicBillSubmitted, s.Reference, submittedPayload{
		Reference:   s.Reference,
		Currency:    s.Currency,
		Subtotal:    s.Subtotal.Amount,
		Tax:         s.Tax.Amount,
		Discount:    s.Discount.Amount,
		Quantity:    s.Quantity(),
		SystemTotal: total.Amount,
	})
	return nil
}

// Bills returns copies of the accepted bills ordered by reference.
func (r *Register) Bills() []bill.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]bill.Snapshot, 0, len(r.bills))
	for _, s := range r.bills {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return out
}

// Bill returns the accepted bill with ref.
func (r *Register) Bill(ref int64) (bill.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.bills[ref]
	if !ok {
		return bill.Snapshot{}, false
	}
	return s.Clone(), true
}

// SystemTotal is the sum of accepted bill subtotals.
func (r *Register) SystemTotal() money.Money {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

func (r *Register) count(result string) {
	if obs.BillSubmissionsTotal != nil {
		obs.BillSubmissionsTotal.WithLabelValues(result).Inc()
	}
}

func (r *Register) emit(ctx context.Context, topic string, ref int64, payload any) {
	if r.bus == nil {
		return
	}
	if _, err := r.bus.Emit(ctx, topic, strconv.FormatInt(ref, 10), payload); err != nil {
		r.log.Error().Err(err).Str("topic", topic).Int64("bill_ref", ref).Msg("emit register event")
	}
}

type openedPayload struct {
	Reference int64  `json:"reference"`
	Currency  string `json:"currency"`
}

type duplicatePayload struct {
	Reference int64 `json:"reference"`
}

type submittedPayload struct {
	Reference   int64  `json:"reference"`
	Currency    string `json:"currency"`
	Subtotal    int64  `json:"subtotal"`
	Tax         int64  `json:"tax"`
	Discount    int64  `json:"discount"`
	Quantity    int64  `json:"quantity"`
	SystemTotal int64  `json:"systemTotal"`
}
