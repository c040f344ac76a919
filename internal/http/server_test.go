package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fincontrol/internal/core"
	"fincontrol/internal/ledger"
	"fincontrol/internal/services"
	"fincontrol/internal/storage/memory"
	"fincontrol/internal/storage/record"
)

var testNow = time.Date(2024, time.May, 15, 9, 0, 0, 0, time.UTC)

type fakeAdvisor struct {
	text  string
	err   error
	calls int
	got   int
}

func (f *fakeAdvisor) Advise(_ context.Context, ledger []core.Transaction, _ decimal.Decimal) (string, error) {
	f.calls++
	f.got = len(ledger)
	return f.text, f.err
}

type testEnv struct {
	srv   *Server
	store *ledger.Store
	repo  *memory.Store
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	repo := memory.New()
	store := ledger.NewStore("u1", repo)
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	deps := Deps{
		Store:              store,
		Recurring:          services.NewRecurringSynchronizer(store, nil),
		RateLimitPerMinute: 1000,
		Now:                func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv := NewServer(":0", deps)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, repo: repo}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func txBody(desc, amount, kind, date string) map[string]any {
	return map[string]any{
		"description": desc,
		"amount":      amount,
		"type":        kind,
		"date":        date,
	}
}

func (e *testEnv) create(t *testing.T, body map[string]any) record.Transaction {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/transactions", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d (%s)", w.Code, http.StatusCreated, w.Body.String())
	}
	return decode[record.Transaction](t, w)
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want %d", w.Code, http.StatusOK)
	}
	w = env.do(t, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("readyz status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestReady_NotLoaded(t *testing.T) {
	store := ledger.NewStore("u1", memory.New())
	srv := NewServer(":0", Deps{Store: store})
	defer srv.Close()

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/transactions", nil)

	if got := w.Header().Get("X-Request-ID"); !strings.HasPrefix(got, "req_") {
		t.Errorf("X-Request-ID = %q, want req_ prefix", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestCreateAndListTransactions(t *testing.T) {
	env := newTestEnv(t, nil)

	env.create(t, txBody("Groceries", "42.50", "expense", "2024-05-03"))
	env.create(t, txBody("Salary", "1000", "income", "2024-05-20"))
	env.create(t, txBody("Rent", "500", "expense", "2024-04-01"))

	w := env.do(t, http.MethodGet, "/api/transactions?year=2024&month=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", w.Code, http.StatusOK)
	}
	got := decode[[]record.Transaction](t, w)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Description != "Salary" || got[1].Description != "Groceries" {
		t.Errorf("order = [%s %s], want [Salary Groceries]", got[0].Description, got[1].Description)
	}
	if got[1].Amount != "42.5" {
		t.Errorf("amount = %q, want 42.5", got[1].Amount)
	}
	if ledger.IsTemporaryID(got[0].ID) || got[0].ID == "" {
		t.Errorf("id = %q, want confirmed id", got[0].ID)
	}

	// Default period is the month of testNow.
	w = env.do(t, http.MethodGet, "/api/transactions", nil)
	if got := decode[[]record.Transaction](t, w); len(got) != 2 {
		t.Errorf("default period len = %d, want 2", len(got))
	}
}

func TestCreateTransaction_Rejections(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"bad json", `{"description":`, http.StatusBadRequest},
		{"empty body", "", http.StatusBadRequest},
		{"trailing data", `{"description":"a"} {}`, http.StatusBadRequest},
		{"negative amount", txBody("x", "-3", "expense", "2024-05-01"), http.StatusBadRequest},
		{"bad date", txBody("x", "3", "expense", "2024-13-01"), http.StatusBadRequest},
		{"bad type", txBody("x", "3", "transfer", "2024-05-01"), http.StatusBadRequest},
		{"empty description", txBody("  ", "3", "expense", "2024-05-01"), http.StatusUnprocessableEntity},
		{"long description", txBody(strings.Repeat("a", 201), "3", "expense", "2024-05-01"), http.StatusUnprocessableEntity},
		{"unknown card", map[string]any{
			"description": "x", "amount": "3", "type": "expense", "date": "2024-05-01", "card_id": "nope",
		}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/transactions", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if body := decode[errorBody](t, w); body.Error == "" {
				t.Error("error message is empty")
			}
		})
	}
	if n := len(env.store.Snapshot().Transactions); n != 0 {
		t.Errorf("stored %d transactions, want 0", n)
	}
}

func TestEditToggleDelete(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.create(t, txBody("Coffee", "3", "expense", "2024-05-02"))

	body := txBody("Coffee beans", "12", "expense", "2024-05-02")
	body["id"] = "ignored"
	w := env.do(t, http.MethodPut, "/api/transactions/"+created.ID, body)
	if w.Code != http.StatusOK {
		t.Fatalf("edit status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}
	edited := decode[record.Transaction](t, w)
	if edited.ID != created.ID || edited.Description != "Coffee beans" {
		t.Errorf("edited = %+v, want id %s and new description", edited, created.ID)
	}

	w = env.do(t, http.MethodPost, "/api/transactions/"+created.ID+"/toggle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decode[record.Transaction](t, w); !got.IsPaid {
		t.Error("IsPaid = false after toggle, want true")
	}

	w = env.do(t, http.MethodDelete, "/api/transactions/"+created.ID+"?scope=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad scope status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = env.do(t, http.MethodDelete, "/api/transactions/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decode[deleteResponse](t, w); len(got.Deleted) != 1 || got.Deleted[0] != created.ID {
		t.Errorf("deleted = %v, want [%s]", got.Deleted, created.ID)
	}

	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/api/transactions/" + created.ID},
		{http.MethodPost, "/api/transactions/" + created.ID + "/toggle"},
	} {
		if w := env.do(t, tc.method, tc.path, nil); w.Code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want %d", tc.method, tc.path, w.Code, http.StatusNotFound)
		}
	}
}

func TestDeleteThisAndFuture(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, date := range []string{"2024-03-05", "2024-04-05", "2024-05-05"} {
		body := txBody("Gym", "30", "expense", date)
		body["is_recurring"] = true
		body["recurring_group_id"] = "g1"
		env.create(t, body)
	}
	var april string
	for _, tx := range env.store.Snapshot().Transactions {
		if tx.Date.Month() == 4 {
			april = tx.ID
		}
	}

	w := env.do(t, http.MethodDelete, "/api/transactions/"+april+"?scope=future", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decode[deleteResponse](t, w); len(got.Deleted) != 2 {
		t.Errorf("deleted = %v, want 2 ids", got.Deleted)
	}
	if n := len(env.store.Snapshot().Transactions); n != 1 {
		t.Errorf("remaining = %d, want 1", n)
	}
}

func TestCreateInstallments(t *testing.T) {
	env := newTestEnv(t, nil)

	body := txBody("Laptop", "1000", "expense", "2024-01-31")
	body["installments"] = 3
	w := env.do(t, http.MethodPost, "/api/installments", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (%s)", w.Code, http.StatusCreated, w.Body.String())
	}
	got := decode[[]record.Transaction](t, w)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Description != "Laptop (1/3)" || got[1].Date != "2024-02-29" {
		t.Errorf("first = %+v, second date = %s", got[0], got[1].Date)
	}

	body["installments"] = 0
	if w := env.do(t, http.MethodPost, "/api/installments", body); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("zero installments status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	income := txBody("Bonus", "100", "income", "2024-01-10")
	income["installments"] = 2
	if w := env.do(t, http.MethodPost, "/api/installments", income); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("income installments status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
}

func TestCardsAndSummary(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/cards", map[string]any{
		"name": "Visa", "limit": "1000", "closing_day": 25, "due_day": 5, "color": "#123456",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("card status = %d, want %d (%s)", w.Code, http.StatusCreated, w.Body.String())
	}
	card := decode[record.Card](t, w)

	paid := txBody("Salary", "1000", "income", "2024-05-01")
	paid["is_paid"] = true
	env.create(t, paid)
	env.create(t, txBody("Rent", "200", "expense", "2024-05-20"))
	charge := txBody("Shoes", "300", "expense", "2024-05-10")
	charge["card_id"] = card.ID
	env.create(t, charge)

	w = env.do(t, http.MethodGet, "/api/summary?year=2024&month=5&every=0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary status = %d, want %d", w.Code, http.StatusOK)
	}
	sum := decode[summaryResponse](t, w)
	want := map[string][2]string{
		"balance":            {sum.Balance, "1000.00"},
		"income":             {sum.Income, "1000.00"},
		"pending_expense":    {sum.PendingExpense, "200.00"},
		"card_invoice_total": {sum.CardInvoiceTotal, "300.00"},
		"forecast":           {sum.Forecast, "500.00"},
	}
	for name, pair := range want {
		if pair[0] != pair[1] {
			t.Errorf("%s = %s, want %s", name, pair[0], pair[1])
		}
	}
	if len(sum.Points) != 31 {
		t.Errorf("points = %d, want 31", len(sum.Points))
	}
	if len(sum.Cards) != 1 || sum.Cards[0].Available != "700.00" {
		t.Errorf("cards = %+v, want one card with 700.00 available", sum.Cards)
	}

	w = env.do(t, http.MethodGet, "/api/summary?year=2024&month=5", nil)
	if sampled := decode[summaryResponse](t, w); len(sampled.Points) >= 31 {
		t.Errorf("sampled points = %d, want fewer than 31", len(sampled.Points))
	}

	w = env.do(t, http.MethodGet, "/api/cards", nil)
	if got := decode[[]record.Card](t, w); len(got) != 1 || got[0].Name != "Visa" {
		t.Errorf("cards = %+v, want [Visa]", got)
	}

	w = env.do(t, http.MethodDelete, "/api/cards/"+card.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete card status = %d, want %d", w.Code, http.StatusNoContent)
	}
	for _, tx := range env.store.Snapshot().Transactions {
		if tx.CardID != "" {
			t.Errorf("transaction %s still on card %s", tx.ID, tx.CardID)
		}
	}
	if w := env.do(t, http.MethodDelete, "/api/cards/"+card.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestCreateCard_Invalid(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"empty name", map[string]any{"name": "", "limit": "10", "closing_day": 1, "due_day": 2}, http.StatusUnprocessableEntity},
		{"zero limit", map[string]any{"name": "A", "limit": "0", "closing_day": 1, "due_day": 2}, http.StatusUnprocessableEntity},
		{"bad day", map[string]any{"name": "A", "limit": "10", "closing_day": 40, "due_day": 2}, http.StatusUnprocessableEntity},
		{"bad limit", map[string]any{"name": "A", "limit": "ten", "closing_day": 1, "due_day": 2}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPost, "/api/cards", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSummary_BadPeriod(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		query string
		want  int
	}{
		{"?year=abc", http.StatusBadRequest},
		{"?month=13", http.StatusUnprocessableEntity},
		{"?every=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if w := env.do(t, http.MethodGet, "/api/summary"+tt.query, nil); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCategories(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, c := range []string{"Food", "Food", "Fun"} {
		body := txBody("Pizza", "10", "expense", "2024-05-02")
		body["category"] = c
		env.create(t, body)
	}

	w := env.do(t, http.MethodGet, "/api/categories/suggest?description=pizza", nil)
	if got := decode[suggestResponse](t, w); !got.Found || got.Category != "Food" {
		t.Errorf("suggest = %+v, want Food", got)
	}
	if w := env.do(t, http.MethodGet, "/api/categories/suggest", nil); w.Code != http.StatusBadRequest {
		t.Errorf("suggest without description status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = env.do(t, http.MethodPost, "/api/categories/rename", renameRequest{OldName: "Food", NewName: "Meals"})
	if got := decode[changedResponse](t, w); got.Changed != 2 {
		t.Errorf("rename changed = %d, want 2", got.Changed)
	}
	w = env.do(t, http.MethodPost, "/api/categories/rename", renameRequest{OldName: "Fun"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("rename without new name status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}

	w = env.do(t, http.MethodDelete, "/api/categories/Fun", nil)
	if got := decode[changedResponse](t, w); got.Changed != 1 {
		t.Errorf("delete changed = %d, want 1", got.Changed)
	}

	w = env.do(t, http.MethodGet, "/api/categories", nil)
	if got := decode[[]string](t, w); len(got) != 1 || got[0] != "Meals" {
		t.Errorf("categories = %v, want [Meals]", got)
	}
}

func TestPersistenceFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.repo.FailWrites(true)

	w := env.do(t, http.MethodPost, "/api/transactions", txBody("x", "1", "expense", "2024-05-01"))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if got := decode[errorBody](t, w); got.Error != "change not persisted, please retry" {
		t.Errorf("error = %q", got.Error)
	}
	if n := len(env.store.Snapshot().Transactions); n != 0 {
		t.Errorf("transactions after rollback = %d, want 0", n)
	}
}

func TestRecurringSync(t *testing.T) {
	env := newTestEnv(t, nil)
	body := txBody("Netflix", "15", "expense", "2024-04-12")
	body["is_recurring"] = true
	env.create(t, body)

	w := env.do(t, http.MethodPost, "/api/recurring/sync?year=2024&month=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}
	got := decode[syncResponse](t, w)
	if got.Created != 1 || got.Backfilled != 1 || got.Period != "2024-05" {
		t.Errorf("sync = %+v, want 1 created and 1 backfilled for 2024-05", got)
	}

	w = env.do(t, http.MethodPost, "/api/recurring/sync?year=2024&month=5", nil)
	if got := decode[syncResponse](t, w); got.Created != 0 {
		t.Errorf("second sync created = %d, want 0", got.Created)
	}
}

func TestRecurringSync_NotConfigured(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Recurring = nil })
	if w := env.do(t, http.MethodPost, "/api/recurring/sync", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestAdvice(t *testing.T) {
	adv := &fakeAdvisor{text: "Spend less on coffee."}
	env := newTestEnv(t, func(d *Deps) { d.Advisor = adv })
	env.create(t, txBody("Coffee", "3", "expense", "2024-05-02"))

	w := env.do(t, http.MethodPost, "/api/advice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decode[adviceResponse](t, w); got.Advice != adv.text {
		t.Errorf("advice = %q, want %q", got.Advice, adv.text)
	}
	if adv.got != 1 {
		t.Errorf("advisor saw %d transactions, want 1", adv.got)
	}

	adv.err = errors.New("upstream exploded")
	if w := env.do(t, http.MethodPost, "/api/advice", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("failing advisor status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestAdvice_NotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do(t, http.MethodPost, "/api/advice", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRateLimit_MutatingOnly(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.RateLimitPerMinute = 1 })

	env.create(t, txBody("a", "1", "expense", "2024-05-01"))
	w := env.do(t, http.MethodPost, "/api/transactions", txBody("b", "1", "expense", "2024-05-01"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second POST status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After not set")
	}
	for i := 0; i < 3; i++ {
		if w := env.do(t, http.MethodGet, "/api/transactions", nil); w.Code != http.StatusOK {
			t.Errorf("GET #%d status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do(t, http.MethodPatch, "/api/transactions", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := env.srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := env.srv.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}
