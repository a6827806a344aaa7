package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lolgoatvowsly-cell/cookie/internal/app"
	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
)

const requesterHeader = "X-Requester-ID"

// PurchaseService is the minimal interface needed for purchase endpoints.
type PurchaseService interface {
	StartAsync(ctx context.Context, req app.PurchaseRequest, deliver app.DeliverFunc) (domain.PurchaseIntent, error)
	Get(id string) (domain.PurchaseIntent, error)
	Cancel(id string) (domain.PurchaseIntent, error)
	Active() []domain.PurchaseIntent
}

// Deliverer builds the delivery step for a buyer endpoint.
type Deliverer interface {
	Deliver(url string) func(ctx context.Context, items []domain.InventoryItem) domain.DeliveryResult
}

// HandleStartPurchase accepts a purchase and returns as soon as stock is
// reserved. The rest of the attempt runs in the background.
func HandleStartPurchase(svc PurchaseService, delivery Deliverer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startPurchaseRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if code, msg := req.validate(); code != "" {
			writeError(w, http.StatusBadRequest, code, msg)
			return
		}

		intent, err := svc.StartAsync(r.Context(), app.PurchaseRequest{
			BuyerHandle: strings.TrimSpace(req.BuyerHandle),
			Quantity:    req.Quantity,
			RequesterID: r.Header.Get(requesterHeader),
		}, delivery.Deliver(req.DeliveryURL))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, startPurchaseResponse{
			ID:     intent.ID,
			Status: string(intent.Status),
		})
	}
}

func HandleListPurchases(svc PurchaseService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := svc.Active()
		resp := make([]purchaseResponse, 0, len(active))
		for _, intent := range active {
			resp = append(resp, newPurchaseResponse(intent))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func HandleGetPurchase(svc PurchaseService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intent, err := svc.Get(r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newPurchaseResponse(intent))
	}
}

// HandleCancelPurchase force-stops an attempt. Cancelling a resolved attempt
// returns its final state unchanged.
func HandleCancelPurchase(svc PurchaseService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intent, err := svc.Cancel(r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newPurchaseResponse(intent))
	}
}

type startPurchaseRequest struct {
	BuyerHandle string `json:"buyer_handle"`
	Quantity    int    `json:"quantity"`
	DeliveryURL string `json:"delivery_url"`
}

func (r startPurchaseRequest) validate() (string, string) {
	if strings.TrimSpace(r.BuyerHandle) == "" {
		return codeMissingRequiredField, "buyer_handle is required"
	}
	if r.Quantity <= 0 {
		return codeInvalidQuantity, domain.ErrInvalidQuantity.Error()
	}
	if r.DeliveryURL == "" {
		return codeMissingRequiredField, "delivery_url is required"
	}
	u, err := url.ParseRequestURI(r.DeliveryURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return codeInvalidDeliveryURL, "delivery_url must be an absolute http(s) url"
	}
	return "", ""
}

type startPurchaseResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type purchaseResponse struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	BuyerID       int64      `json:"buyer_id,omitempty"`
	BuyerHandle   string     `json:"buyer_handle"`
	Quantity      int        `json:"quantity"`
	TransactionID string     `json:"transaction_id,omitempty"`
	OrderID       string     `json:"order_id,omitempty"`
	Detail        string     `json:"detail,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

func newPurchaseResponse(intent domain.PurchaseIntent) purchaseResponse {
	resp := purchaseResponse{
		ID:          intent.ID,
		Status:      string(intent.Status),
		BuyerID:     intent.BuyerID,
		BuyerHandle: intent.BuyerHandle,
		Quantity:    intent.Quantity,
		OrderID:     intent.OrderID,
		Detail:      intent.Detail,
		StartedAt:   intent.StartedAt,
	}
	if intent.Transaction != nil {
		resp.TransactionID = intent.Transaction.ID
	}
	if !intent.ResolvedAt.IsZero() {
		resolved := intent.ResolvedAt
		resp.ResolvedAt = &resolved
	}
	return resp
}
