package register_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-billing/internal/catalog"
	"github.com/noah-isme/pos-billing/internal/register"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type moneyBody struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Display  string `json:"display"`
}

type itemBody struct {
	Name     string    `json:"name"`
	Price    moneyBody `json:"price"`
	Tax      float64   `json:"tax"`
	Discount *struct {
		Kind      string  `json:"kind"`
		Threshold int64   `json:"threshold"`
		Param     float64 `json:"param"`
	} `json:"discount"`
	Tags     []string `json:"tags"`
	Warnings []string `json:"warnings"`
}

type billBody struct {
	Reference int64     `json:"reference"`
	Status    string    `json:"status"`
	Quantity  int64     `json:"quantity"`
	Subtotal  moneyBody `json:"subtotal"`
	Tax       moneyBody `json:"tax"`
	Discount  moneyBody `json:"discount"`
	Lines     []struct {
		Name      string    `json:"name"`
		Triggered int64     `json:"triggered"`
		Net       moneyBody `json:"net"`
	} `json:"lines"`
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	reg, err := register.New(register.Config{Currency: "GBP"}, register.Deps{Logger: zerolog.Nop()})
	require.NoError(t, err)
	h := register.NewHandler(register.HandlerConfig{Register: reg, Items: catalog.NewStore()})
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestItemEndpoints(t *testing.T) {
	h := newTestRouter(t)

	rec, env := do(t, h, http.MethodPost, "/items", `{"name":"  Dsc   Tax ","price":37.30,"tax":"10%","discount":[1,1,0],"tags":["Hot Food","hot food"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item itemBody
	require.NoError(t, json.Unmarshal(env.Data, &item))
	require.Equal(t, "dsc_tax", item.Name)
	require.Equal(t, moneyBody{Amount: 3730, Currency: "GBP", Display: "37.30 GBP"}, item.Price)
	require.Equal(t, 10.0, item.Tax)
	require.NotNil(t, item.Discount)
	require.Equal(t, "free_units", item.Discount.Kind)
	require.Equal(t, []string{"hot_food"}, item.Tags)
	require.Empty(t, item.Warnings)

	rec, env = do(t, h, http.MethodPost, "/items", `{"name":"odd","price":"cheap","discount":"nope"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &item))
	require.Zero(t, item.Price.Amount)
	require.Nil(t, item.Discount)
	require.Len(t, item.Warnings, 2)

	rec, env = do(t, h, http.MethodGet, "/items/DSC%20TAX", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &item))
	require.Equal(t, "dsc_tax", item.Name)

	rec, env = do(t, h, http.MethodPatch, "/items/odd", `{"price":4,"addTag":"New"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &item))
	require.Equal(t, int64(400), item.Price.Amount)
	require.Equal(t, []string{"new"}, item.Tags)

	rec, env = do(t, h, http.MethodPatch, "/items/odd", `{"price":{"amount":100,"currency":"EUR"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "CURRENCY_MISMATCH", env.Error.Code)

	rec, env = do(t, h, http.MethodPatch, "/items/odd", `{"colour":"red"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "BAD_REQUEST", env.Error.Code)

	rec, env = do(t, h, http.MethodPatch, "/items/odd", `{"name":"dsc tax"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "CONFLICT", env.Error.Code)

	rec, env = do(t, h, http.MethodPost, "/items", `{"price":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rec, _ = do(t, h, http.MethodDelete, "/items/odd", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec, env = do(t, h, http.MethodGet, "/items/odd", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", env.Error.Code)

	rec, env = do(t, h, http.MethodGet, "/items", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []itemBody
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 1)
}

func TestBillLifecycleEndpoints(t *testing.T) {
	h := newTestRouter(t)

	rec, _ := do(t, h, http.MethodPost, "/items", `{"name":"free","price":10.50,"discount":[2,1,0]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = do(t, h, http.MethodPost, "/items", `{"name":"taxable","price":40,"tax":12}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := do(t, h, http.MethodPost, "/bills", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var b billBody
	require.NoError(t, json.Unmarshal(env.Data, &b))
	require.Equal(t, int64(1), b.Reference)
	require.Equal(t, "open", b.Status)

	rec, _ = do(t, h, http.MethodPost, "/bills/1/items", `{"name":"free","qty":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, env = do(t, h, http.MethodPost, "/bills/1/items", `{"name":"FREE"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &b))
	require.Equal(t, int64(4), b.Quantity)
	require.Equal(t, int64(3150), b.Subtotal.Amount)
	require.Equal(t, int64(1050), b.Discount.Amount)
	require.Len(t, b.Lines, 1)
	require.Equal(t, int64(1), b.Lines[0].Triggered)

	rec, env = do(t, h, http.MethodPost, "/bills/1/items", `{"name":"taxable","qty":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &b))
	require.Equal(t, int64(7150), b.Subtotal.Amount)
	require.Equal(t, int64(429), b.Tax.Amount)

	rec, env = do(t, h, http.MethodPost, "/bills/1/submit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &b))
	require.Equal(t, "submitted", b.Status)

	rec, env = do(t, h, http.MethodPost, "/bills/1/submit", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "BILL_SUBMITTED", env.Error.Code)
	rec, env = do(t, h, http.MethodPost, "/bills/1/items", `{"name":"free"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "BILL_SUBMITTED", env.Error.Code)
	rec, _ = do(t, h, http.MethodPost, "/bills/1/reset", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, env = do(t, h, http.MethodGet, "/register", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		LastReference int64     `json:"lastReference"`
		SystemTotal   moneyBody `json:"systemTotal"`
		Submitted     int       `json:"submitted"`
		Open          int       `json:"open"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	require.Zero(t, summary.Open)
	require.Equal(t, int64(1), summary.LastReference)
	require.Equal(t, moneyBody{Amount: 7150, Currency: "GBP", Display: "71.50 GBP"}, summary.SystemTotal)
	require.Equal(t, 1, summary.Submitted)

	rec, env = do(t, h, http.MethodGet, "/register/bills?page=1&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-Total-Count"))
	var bills []billBody
	require.NoError(t, json.Unmarshal(env.Data, &bills))
	require.Len(t, bills, 1)
	require.Equal(t, "submitted", bills[0].Status)
}

func TestSubmittedBillLeavesOpenSessions(t *testing.T) {
	h := newTestRouter(t)
	type counts struct {
		Open      int `json:"open"`
		Submitted int `json:"submitted"`
	}
	registerCounts := func() counts {
		rec, env := do(t, h, http.MethodGet, "/register", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var c counts
		require.NoError(t, json.Unmarshal(env.Data, &c))
		return c
	}

	rec, _ := do(t, h, http.MethodPost, "/bills", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = do(t, h, http.MethodPost, "/bills", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, counts{Open: 2}, registerCounts())

	rec, _ = do(t, h, http.MethodPost, "/bills/1/submit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, counts{Open: 1, Submitted: 1}, registerCounts())

	rec, env := do(t, h, http.MethodGet, "/bills/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var b billBody
	require.NoError(t, json.Unmarshal(env.Data, &b))
	require.Equal(t, "submitted", b.Status)

	rec, env = do(t, h, http.MethodPost, "/bills/1/reset", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "BILL_SUBMITTED", env.Error.Code)

	rec, _ = do(t, h, http.MethodPost, "/bills/2/submit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, counts{Submitted: 2}, registerCounts())
}

func TestBillEndpointErrors(t *testing.T) {
	h := newTestRouter(t)

	rec, env := do(t, h, http.MethodGet, "/bills/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "BAD_REQUEST", env.Error.Code)

	rec, env = do(t, h, http.MethodGet, "/bills/42", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", env.Error.Code)

	rec, _ = do(t, h, http.MethodPost, "/bills", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env = do(t, h, http.MethodPost, "/bills/1/items", `{"name":"ghost"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", env.Error.Code)

	rec, env = do(t, h, http.MethodPost, "/bills/1/items", `{"name":"ghost","qty":-2}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	require.Contains(t, env.Error.Details["fields"], "Qty")

	rec, env = do(t, h, http.MethodPost, "/bills/1/items", `{"name":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "BAD_REQUEST", env.Error.Code)

	rec, _ = do(t, h, http.MethodPost, "/items", `{"name":"tea","price":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = do(t, h, http.MethodPost, "/bills/1/items", `{"name":"tea"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodPost, "/items", `{"name":"gold","price":{"amount":5000000000000000000,"currency":"gbp"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec, _ = do(t, h, http.MethodPost, "/bills/1/items", `{"name":"gold"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, env = do(t, h, http.MethodPost, "/bills/1/items", `{"name":"gold"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "AMOUNT_OUT_OF_RANGE", env.Error.Code)

	rec, env = do(t, h, http.MethodPost, "/bills/1/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var b billBody
	require.NoError(t, json.Unmarshal(env.Data, &b))
	require.Zero(t, b.Subtotal.Amount)
	require.Empty(t, b.Lines)
}
