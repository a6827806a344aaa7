package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lolgoatvowsly-cell/cookie/internal/app"
	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
	"github.com/lolgoatvowsly-cell/cookie/internal/inventory"
	"github.com/lolgoatvowsly-cell/cookie/internal/ledger"
)

var startedAt = time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)

type stubPurchases struct {
	startErr   error
	started    []app.PurchaseRequest
	intents    map[string]domain.PurchaseIntent
	cancelled  []string
	deliverArg app.DeliverFunc
}

func (s *stubPurchases) StartAsync(_ context.Context, req app.PurchaseRequest, deliver app.DeliverFunc) (domain.PurchaseIntent, error) {
	s.started = append(s.started, req)
	s.deliverArg = deliver
	if s.startErr != nil {
		return domain.PurchaseIntent{}, s.startErr
	}
	return domain.PurchaseIntent{ID: "intent-1", Status: domain.IntentStatusWaitingPayment}, nil
}

func (s *stubPurchases) Get(id string) (domain.PurchaseIntent, error) {
	intent, ok := s.intents[id]
	if !ok {
		return domain.PurchaseIntent{}, domain.ErrPurchaseNotFound
	}
	return intent, nil
}

func (s *stubPurchases) Cancel(id string) (domain.PurchaseIntent, error) {
	intent, ok := s.intents[id]
	if !ok {
		return domain.PurchaseIntent{}, domain.ErrPurchaseNotFound
	}
	s.cancelled = append(s.cancelled, id)
	intent.Status = domain.IntentStatusCancelled
	return intent, nil
}

func (s *stubPurchases) Active() []domain.PurchaseIntent {
	out := make([]domain.PurchaseIntent, 0, len(s.intents))
	for _, intent := range s.intents {
		if !intent.Status.Terminal() {
			out = append(out, intent)
		}
	}
	return out
}

type recordingDeliverer struct {
	urls []string
}

func (d *recordingDeliverer) Deliver(url string) func(context.Context, []domain.InventoryItem) domain.DeliveryResult {
	d.urls = append(d.urls, url)
	return func(context.Context, []domain.InventoryItem) domain.DeliveryResult {
		return domain.Delivered()
	}
}

type harness struct {
	handler   http.Handler
	purchases *stubPurchases
	delivery  *recordingDeliverer
	pool      *inventory.Pool
	orders    *ledger.Ledger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		purchases: &stubPurchases{intents: map[string]domain.PurchaseIntent{
			"intent-1": {
				ID:          "intent-1",
				BuyerID:     77,
				BuyerHandle: "alice",
				Quantity:    2,
				Status:      domain.IntentStatusWaitingPayment,
				StartedAt:   startedAt,
			},
			"intent-2": {
				ID:          "intent-2",
				BuyerID:     78,
				BuyerHandle: "bob",
				Quantity:    1,
				Status:      domain.IntentStatusDelivered,
				Transaction: &domain.TransactionRecord{ID: "tx-9"},
				OrderID:     "K3Q9ZT1M",
				StartedAt:   startedAt,
				ResolvedAt:  startedAt.Add(time.Minute),
			},
		}},
		delivery: &recordingDeliverer{},
		pool:     inventory.NewPool(),
		orders:   ledger.New(),
	}
	h.handler = NewRouter(Services{
		Purchases: h.purchases,
		Delivery:  h.delivery,
		Stock:     app.NewAdminService(h.pool, zap.NewNop()),
		Reports:   app.NewReportService(h.orders),
		Logger:    zap.NewNop(),
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	req.Header.Set(requesterHeader, "op-1")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestStartPurchase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		body         string
		startErr     error
		expectedCode int
		expectedErr  string
	}{
		{
			name:         "accepted",
			body:         `{"buyer_handle":" alice ","quantity":2,"delivery_url":"https://buyer.example/hook"}`,
			expectedCode: http.StatusAccepted,
		},
		{
			name:         "unknown field",
			body:         `{"buyer_handle":"alice","quantity":2,"delivery_url":"https://x.example","extra":1}`,
			expectedCode: http.StatusBadRequest,
			expectedErr:  codeInvalidRequestBody,
		},
		{
			name:         "missing handle",
			body:         `{"quantity":2,"delivery_url":"https://x.example"}`,
			expectedCode: http.StatusBadRequest,
			expectedErr:  codeMissingRequiredField,
		},
		{
			name:         "zero quantity",
			body:         `{"buyer_handle":"alice","quantity":0,"delivery_url":"https://x.example"}`,
			expectedCode: http.StatusBadRequest,
			expectedErr:  codeInvalidQuantity,
		},
		{
			name:         "relative delivery url",
			body:         `{"buyer_handle":"alice","quantity":1,"delivery_url":"/hook"}`,
			expectedCode: http.StatusBadRequest,
			expectedErr:  codeInvalidDeliveryURL,
		},
		{
			name:         "unknown buyer",
			body:         `{"buyer_handle":"ghost","quantity":1,"delivery_url":"https://x.example"}`,
			startErr:     domain.ErrBuyerNotFound,
			expectedCode: http.StatusNotFound,
			expectedErr:  codeBuyerNotFound,
		},
		{
			name:         "out of stock",
			body:         `{"buyer_handle":"alice","quantity":5,"delivery_url":"https://x.example"}`,
			startErr:     domain.ErrInsufficientStock,
			expectedCode: http.StatusConflict,
			expectedErr:  codeInsufficientStock,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.purchases.startErr = tt.startErr

			rec := h.do(t, http.MethodPost, "/purchases", tt.body)
			if rec.Code != tt.expectedCode {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedCode, rec.Code, rec.Body.String())
			}
			if tt.expectedErr != "" {
				if resp := decodeError(t, rec); resp.Code != tt.expectedErr {
					t.Fatalf("expected code %s, got %s", tt.expectedErr, resp.Code)
				}
				return
			}

			var resp startPurchaseResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.ID != "intent-1" || resp.Status != "waiting_payment" {
				t.Fatalf("unexpected response: %+v", resp)
			}
			if len(h.purchases.started) != 1 {
				t.Fatalf("expected one started purchase, got %d", len(h.purchases.started))
			}
			got := h.purchases.started[0]
			if got.BuyerHandle != "alice" || got.Quantity != 2 || got.RequesterID != "op-1" {
				t.Fatalf("unexpected purchase request: %+v", got)
			}
			if len(h.delivery.urls) != 1 || h.delivery.urls[0] != "https://buyer.example/hook" {
				t.Fatalf("expected delivery to target the buyer hook, got %v", h.delivery.urls)
			}
			if h.purchases.deliverArg == nil {
				t.Fatalf("expected a deliver func to be passed")
			}
		})
	}
}

func TestPurchaseLookupAndCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/purchases/intent-2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got purchaseResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != "delivered" || got.TransactionID != "tx-9" || got.OrderID != "K3Q9ZT1M" || got.ResolvedAt == nil {
		t.Fatalf("unexpected purchase: %+v", got)
	}

	rec = h.do(t, http.MethodGet, "/purchases", "")
	var active []purchaseResponse
	if err := json.NewDecoder(rec.Body).Decode(&active); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(active) != 1 || active[0].ID != "intent-1" {
		t.Fatalf("expected only intent-1 to be active, got %+v", active)
	}

	rec = h.do(t, http.MethodPost, "/purchases/intent-1/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if len(h.purchases.cancelled) != 1 || h.purchases.cancelled[0] != "intent-1" {
		t.Fatalf("expected intent-1 to be cancelled, got %v", h.purchases.cancelled)
	}

	rec = h.do(t, http.MethodPost, "/purchases/missing/cancel", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != codePurchaseNotFound {
		t.Fatalf("expected code %s, got %s", codePurchaseNotFound, resp.Code)
	}
}

func TestAdminStock(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/admin/stock", `{"items":["a:pw:tok","garbage","b:pw:tok:with:colons","a:pw:tok"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	var added addStockResponse
	if err := json.NewDecoder(rec.Body).Decode(&added); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if added.Count != 2 || len(added.Added) != 2 || len(added.Rejected) != 2 {
		t.Fatalf("unexpected add result: %+v", added)
	}
	if added.Rejected[0].Line != 2 || added.Rejected[1].Line != 4 {
		t.Fatalf("unexpected rejected lines: %+v", added.Rejected)
	}

	rec = h.do(t, http.MethodGet, "/admin/stock?limit=1", "")
	if strings.Contains(rec.Body.String(), "pw") {
		t.Fatalf("stock listing leaked a secret: %s", rec.Body.String())
	}
	var listing stockResponse
	if err := json.NewDecoder(rec.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.Count != 2 || len(listing.Next) != 1 || listing.Next[0] != "a" {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	rec = h.do(t, http.MethodDelete, "/admin/stock/A", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	rec = h.do(t, http.MethodDelete, "/admin/stock/a", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodDelete, "/admin/stock", "")
	var cleared clearStockResponse
	if err := json.NewDecoder(rec.Body).Decode(&cleared); err != nil {
		t.Fatalf("decode clear: %v", err)
	}
	if cleared.Removed != 1 || h.pool.Count() != 0 {
		t.Fatalf("expected one item cleared, got %+v (pool %d)", cleared, h.pool.Count())
	}

	rec = h.do(t, http.MethodPost, "/admin/stock", `{"items":["nope"]}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodPut, "/admin/stock", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}

func TestAdminReports(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for i, amount := range []string{"10", "25.5"} {
		_, err := h.orders.AppendWithNewID(domain.OrderRecord{
			IntentID:      "intent",
			BuyerID:       77,
			BuyerHandle:   "alice",
			TransactionID: "tx-" + amount,
			Items:         []domain.InventoryItem{{Identifier: "item", Secret: "pw"}},
			Quantity:      1,
			AmountPaid:    decimal.RequireFromString(amount),
			CreatedAt:     startedAt.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append order: %v", err)
		}
	}

	rec := h.do(t, http.MethodGet, "/admin/buyers/77", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var buyer buyerResponse
	if err := json.NewDecoder(rec.Body).Decode(&buyer); err != nil {
		t.Fatalf("decode buyer: %v", err)
	}
	if buyer.Stats.OrderCount != 2 || buyer.Stats.TotalAmount != "35.50" {
		t.Fatalf("unexpected stats: %+v", buyer.Stats)
	}
	if len(buyer.RecentOrders) != 2 || buyer.RecentOrders[0].AmountPaid != "25.50" {
		t.Fatalf("expected newest order first, got %+v", buyer.RecentOrders)
	}

	rec = h.do(t, http.MethodGet, "/admin/orders/"+strings.ToLower(buyer.RecentOrders[1].OrderID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected case-insensitive order lookup, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/admin/buyers/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/admin/buyers/99", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/admin/orders/NOPE0000", "")
	if resp := decodeError(t, rec); resp.Code != codeOrderNotFound {
		t.Fatalf("expected code %s, got %s", codeOrderNotFound, resp.Code)
	}

	rec = h.do(t, http.MethodGet, "/admin/reports/top-buyers?n=1", "")
	var top []buyerStatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&top); err != nil {
		t.Fatalf("decode top buyers: %v", err)
	}
	if len(top) != 1 || top[0].BuyerID != 77 || top[0].TotalQuantity != 2 {
		t.Fatalf("unexpected top buyers: %+v", top)
	}
}

func TestUnknownRoutes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/missing"},
		{http.MethodPut, "/purchases"},
		{http.MethodGet, "/purchases/intent-1/cancel"},
	} {
		rec := h.do(t, tc.method, tc.path, "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected status 404, got %d", tc.method, tc.path, rec.Code)
		}
		resp := decodeError(t, rec)
		if resp.Code != codeNotFound {
			t.Fatalf("expected code %s, got %s", codeNotFound, resp.Code)
		}
		if !strings.Contains(resp.Error, tc.path) {
			t.Fatalf("expected the path in the message, got %q", resp.Error)
		}
	}
}
