package register

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/pos-billing/internal/bill"
	"github.com/noah-isme/pos-billing/internal/catalog"
	"github.com/noah-isme/pos-billing/internal/common"
	"github.com/noah-isme/pos-billing/internal/money"
	"github.com/noah-isme/pos-billing/internal/obs"
	"github.com/noah-isme/pos-billing/internal/pricing"
	"github.com/noah-isme/pos-billing/internal/security"
)

var errBillNotFound = errors.New("bill not found")

// Handler exposes the catalog, open bills and the register over HTTP.
type Handler struct {
	reg      *Register
	items    *catalog.Store
	validate *validator.Validate
	open     *sessions
	idem     func(http.Handler) http.Handler
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Register  *Register
	Items     *catalog.Store
	Validator *validator.Validate
	// Idempotency optionally guards bill creation against client retries.
	Idempotency func(http.Handler) http.Handler
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	items := cfg.Items
	if items == nil {
		items = catalog.NewStore()
	}
	validate := cfg.Validator
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return &Handler{reg: cfg.Register, items: items, validate: validate, open: newSessions(), idem: cfg.Idempotency}
}

// Mount registers the routes under r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/items", func(it chi.Router) {
		it.Get("/", h.ListItems)
		it.Post("/", h.CreateItem)
		it.Get("/{name}", h.GetItem)
		it.Patch("/{name}", h.UpdateItem)
		it.Delete("/{name}", h.DeleteItem)
	})
	r.Route("/bills", func(b chi.Router) {
		if h.idem != nil {
			b.With(h.idem).Post("/", h.OpenBill)
		} else {
			b.Post("/", h.OpenBill)
		}
		b.Route("/{ref}", func(one chi.Router) {
			one.Get("/", h.GetBill)
			one.Post("/items", h.AddLine)
			one.Post("/reset", h.ResetBill)
			one.Post("/submit", h.SubmitBill)
		})
	})
	r.Get("/register", h.Summary)
	r.Get("/register/bills", h.ListBills)
}

type itemRequest struct {
	Name            any `json:"name" validate:"required"`
	Price           any `json:"price" validate:"required"`
	Tax             any `json:"tax"`
	Discount        any `json:"discount"`
	Tags            any `json:"tags"`
	PriceIncludeVAT any `json:"priceIncludeVat"`
}

type addLineRequest struct {
	Name string `json:"name" validate:"required"`
	Qty  int64  `json:"qty" validate:"omitempty,min=1"`
}

type moneyView struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Display  string `json:"display"`
}

type discountView struct {
	Kind      string  `json:"kind"`
	Threshold int64   `json:"threshold"`
	Param     float64 `json:"param"`
}

type itemView struct {
	Name            string        `json:"name"`
	Price           moneyView     `json:"price"`
	Tax             float64       `json:"tax"`
	Discount        *discountView `json:"discount"`
	Tags            []string      `json:"tags"`
	PriceIncludeVAT bool          `json:"priceIncludeVat"`
	Warnings        []string      `json:"warnings,omitempty"`
}

type lineView struct {
	Name      string    `json:"name"`
	Qty       int64     `json:"qty"`
	UnitPrice moneyView `json:"unitPrice"`
	Triggered int64     `json:"triggered"`
	Discount  moneyView `json:"discount"`
	Net       moneyView `json:"net"`
	Tax       moneyView `json:"tax"`
}

type billView struct {
	Reference   int64      `json:"reference"`
	Status      string     `json:"status"`
	Currency    string     `json:"currency"`
	Quantity    int64      `json:"quantity"`
	Lines       []lineView `json:"lines"`
	Subtotal    moneyView  `json:"subtotal"`
	Tax         moneyView  `json:"tax"`
	Discount    moneyView  `json:"discount"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
}

type summaryView struct {
	Currency      string    `json:"currency"`
	LastReference int64     `json:"lastReference"`
	SystemTotal   moneyView `json:"systemTotal"`
	Submitted     int       `json:"submitted"`
	Open          int       `json:"open"`
}

// ListItems handles GET /items.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items := h.items.List()
	out := make([]itemView, 0, len(items))
	for i := range items {
		out = append(out, h.itemView(&items[i]))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// CreateItem handles POST /items. Malformed fields are coerced and reported as warnings.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		common.WriteError(w, validationError(err))
		return
	}
	it, err := h.reg.NewItem(catalog.Fields{
		Name:            catalog.FromAny(req.Name),
		Price:           catalog.FromAny(req.Price),
		Tax:             catalog.FromAny(req.Tax),
		Discount:        catalog.FromAny(req.Discount),
		Tags:            catalog.FromAny(req.Tags),
		PriceIncludeVAT: catalog.FromAny(req.PriceIncludeVAT),
	})
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	h.items.Put(it)
	common.JSON(w, http.StatusCreated, map[string]any{"data": h.itemView(it)})
}

// GetItem handles GET /items/{name}.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.items.Get(chi.URLParam(r, "name"))
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.itemView(&it)})
}

// UpdateItem handles PATCH /items/{name}. Only the fields present in the body are revalidated.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeJSON(r, &patch); err != nil {
		common.WriteError(w, err)
		return
	}
	for key := range patch {
		if _, ok := itemSetters[key]; !ok {
			common.WriteError(w, common.NewAppError("BAD_REQUEST", fmt.Sprintf("unknown field %q", key), http.StatusBadRequest, nil))
			return
		}
	}
	it, err := h.items.Update(chi.URLParam(r, "name"), func(it *catalog.Item) error {
		for key, raw := range patch {
			if err := itemSetters[key](it, catalog.FromAny(raw)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.itemView(&it)})
}

var itemSetters = map[string]func(*catalog.Item, catalog.Value) error{
	"name":  func(it *catalog.Item, v catalog.Value) error { it.SetName(v); return nil },
	"price": func(it *catalog.Item, v catalog.Value) error { return it.SetPrice(v) },
	"tax":   func(it *catalog.Item, v catalog.Value) error { it.SetTax(v); return nil },
	"discount": func(it *catalog.Item, v catalog.Value) error {
		it.SetDiscount(v)
		return nil
	},
	"tags":   func(it *catalog.Item, v catalog.Value) error { it.SetTags(v); return nil },
	"addTag": func(it *catalog.Item, v catalog.Value) error { it.AddTag(v); return nil },
	"priceIncludeVat": func(it *catalog.Item, v catalog.Value) error {
		it.SetPriceIncludeVAT(v)
		return nil
	},
}

// DeleteItem handles DELETE /items/{name}. Bills keep their own copies.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.items.Delete(chi.URLParam(r, "name")); err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OpenBill handles POST /bills.
func (h *Handler) OpenBill(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	b, err := h.reg.NewBill(r.Context())
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	h.open.put(b)
	common.JSON(w, http.StatusCreated, map[string]any{"data": h.billView(b.Snapshot())})
}

// GetBill handles GET /bills/{ref}.
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	ref, ok := parseRef(w, r)
	if !ok {
		return
	}
	var view billView
	err := h.open.with(ref, func(b *bill.Bill) error {
		view = h.billView(b.Snapshot())
		return nil
	})
	if errors.Is(err, errBillNotFound) && h.reg != nil {
		if snap, found := h.reg.Bill(ref); found {
			view, err = h.billView(snap), nil
		}
	}
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// AddLine handles POST /bills/{ref}/items, adding a catalog item by name.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	ref, ok := parseRef(w, r)
	if !ok {
		return
	}
	var req addLineRequest
	if err := decodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		common.WriteError(w, validationError(err))
		return
	}
	if req.Qty == 0 {
		req.Qty = 1
	}
	it, err := h.items.Get(req.Name)
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	h.mutateBill(w, ref, "add_item", func(b *bill.Bill) error { return b.AddItem(&it, req.Qty) })
}

// ResetBill handles POST /bills/{ref}/reset.
func (h *Handler) ResetBill(w http.ResponseWriter, r *http.Request) {
	ref, ok := parseRef(w, r)
	if !ok {
		return
	}
	h.mutateBill(w, ref, "reset", (*bill.Bill).Reset)
}

// SubmitBill handles POST /bills/{ref}/submit.
func (h *Handler) SubmitBill(w http.ResponseWriter, r *http.Request) {
	ref, ok := parseRef(w, r)
	if !ok {
		return
	}
	h.mutateBill(w, ref, "submit", func(b *bill.Bill) error { return b.Submit(r.Context()) })
}

// mutateBill runs fn against an open bill. Once the bill is submitted its session is dropped and
// the register's copy answers reads; later mutations are reported as notices.
func (h *Handler) mutateBill(w http.ResponseWriter, ref int64, op string, fn func(*bill.Bill) error) {
	var view billView
	err := h.open.with(ref, func(b *bill.Bill) error {
		err := fn(b)
		if b.IsSubmitted() {
			h.open.remove(ref)
		}
		if err != nil {
			return err
		}
		view = h.billView(b.Snapshot())
		return nil
	})
	if errors.Is(err, errBillNotFound) && h.reg != nil {
		if _, found := h.reg.Bill(ref); found {
			if obs.BillNoticesTotal != nil {
				obs.BillNoticesTotal.WithLabelValues(op).Inc()
			}
			err = bill.ErrSubmitted
		}
	}
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Summary handles GET /register.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	last, err := h.reg.LastReference(r.Context())
	if err != nil {
		common.WriteError(w, toAppError(err))
		return
	}
	cur := h.reg.Currency()
	common.JSON(w, http.StatusOK, map[string]any{"data": summaryView{
		Currency:      cur.Code,
		LastReference: last,
		SystemTotal:   toMoneyView(cur, h.reg.SystemTotal()),
		Submitted:     len(h.reg.Bills()),
		Open:          h.open.len(),
	}})
}

// ListBills handles GET /register/bills with page/limit pagination.
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	bills := h.reg.Bills()
	start := (page - 1) * perPage
	if start > len(bills) {
		start = len(bills)
	}
	end := start + perPage
	if end > len(bills) {
		end = len(bills)
	}
	out := make([]billView, 0, end-start)
	for _, s := range bills[start:end] {
		out = append(out, h.billView(s))
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(bills)))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       out,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: len(bills)},
	})
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.reg == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "register not configured", nil)
		return false
	}
	return true
}

func (h *Handler) itemView(it *catalog.Item) itemView {
	view := itemView{
		Name:            it.Name(),
		Price:           toMoneyView(it.Currency(), it.Price()),
		Tax:             it.Tax(),
		Tags:            it.Tags(),
		PriceIncludeVAT: it.PriceIncludeVAT(),
	}
	if d := it.Discount(); d.Active() {
		view.Discount = &discountView{Kind: d.Kind.String(), Threshold: d.Threshold, Param: d.Param}
	}
	for _, warn := range it.Warnings() {
		view.Warnings = append(view.Warnings, warn.String())
	}
	return view
}

func (h *Handler) billView(s bill.Snapshot) billView {
	cur := h.reg.Currency()
	view := billView{
		Reference: s.Reference,
		Status:    "open",
		Currency:  s.Currency,
		Quantity:  s.Quantity(),
		Lines:     make([]lineView, 0, len(s.Lines)),
		Subtotal:  toMoneyView(cur, s.Subtotal),
		Tax:       toMoneyView(cur, s.Tax),
		Discount:  toMoneyView(cur, s.Discount),
	}
	if s.Submitted {
		view.Status = "submitted"
		if !s.SubmittedAt.IsZero() {
			at := s.SubmittedAt
			view.SubmittedAt = &at
		}
	}
	for _, ln := range s.Lines {
		view.Lines = append(view.Lines, toLineView(cur, ln))
	}
	return view
}

func toLineView(cur money.Currency, ln pricing.LineTotal) lineView {
	return lineView{
		Name:      ln.Name,
		Qty:       ln.Qty,
		UnitPrice: toMoneyView(cur, ln.UnitPrice),
		Triggered: ln.Triggered,
		Discount:  toMoneyView(cur, ln.Discount),
		Net:       toMoneyView(cur, ln.Net),
		Tax:       toMoneyView(cur, ln.Tax),
	}
}

func toMoneyView(cur money.Currency, m money.Money) moneyView {
	return moneyView{Amount: m.Amount, Currency: m.Currency, Display: cur.Format(m)}
}

func parseRef(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ref, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "ref")), 10, 64)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid bill reference", nil)
		return 0, false
	}
	return ref, true
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if security.IsTooLarge(err) {
			return common.NewAppError("PAYLOAD_TOO_LARGE", "request entity too large", http.StatusRequestEntityTooLarge, err)
		}
		return common.NewAppError("BAD_REQUEST", "invalid payload", http.StatusBadRequest, err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return common.NewAppError("BAD_REQUEST", "invalid payload", http.StatusBadRequest, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	appErr := common.NewAppError("VALIDATION_ERROR", "request validation failed", http.StatusBadRequest, err)
	appErr.Details = map[string]any{"fields": fields}
	return appErr
}

func toAppError(err error) error {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return common.NewAppError("NOT_FOUND", "item not found", http.StatusNotFound, err)
	case errors.Is(err, catalog.ErrExists):
		return common.NewAppError("CONFLICT", "item already exists", http.StatusConflict, err)
	case errors.Is(err, errBillNotFound):
		return common.NewAppError("NOT_FOUND", "bill not found", http.StatusNotFound, err)
	case errors.Is(err, bill.ErrSubmitted):
		return common.NewAppError("BILL_SUBMITTED", "this bill has already been submitted", http.StatusConflict, err)
	case errors.Is(err, ErrDuplicateBill):
		return common.NewAppError("DUPLICATE_BILL", "this bill has already been submitted to the register", http.StatusConflict, err)
	case errors.Is(err, money.ErrCurrencyMismatch):
		return common.NewAppError("CURRENCY_MISMATCH", err.Error(), http.StatusUnprocessableEntity, err)
	case errors.Is(err, bill.ErrInvalidQuantity):
		return common.NewAppError("BAD_REQUEST", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, money.ErrOverflow):
		return common.NewAppError("AMOUNT_OUT_OF_RANGE", err.Error(), http.StatusUnprocessableEntity, err)
	default:
		return common.NewAppError("INTERNAL", "internal error", http.StatusInternalServerError, err)
	}
}
