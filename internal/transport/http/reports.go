package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lolgoatvowsly-cell/cookie/internal/app"
	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
	"github.com/lolgoatvowsly-cell/cookie/internal/ledger"
)

// ReportService is the minimal interface needed for order history endpoints.
type ReportService interface {
	TopBuyers(n int) []ledger.BuyerStats
	CustomerInfo(buyerID int64) (app.CustomerInfo, error)
	Order(orderID string) (domain.OrderRecord, error)
}

func HandleGetOrder(svc ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := svc.Order(r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newOrderResponse(order))
	}
}

func HandleGetBuyer(svc ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil || buyerID <= 0 {
			writeError(w, http.StatusBadRequest, codeInvalidID, "buyer id must be a positive integer")
			return
		}
		info, err := svc.CustomerInfo(buyerID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp := buyerResponse{
			Stats:        newBuyerStatsResponse(info.Stats),
			RecentOrders: make([]orderResponse, 0, len(info.RecentOrders)),
		}
		for _, order := range info.RecentOrders {
			resp.RecentOrders = append(resp.RecentOrders, newOrderResponse(order))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func HandleTopBuyers(svc ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := 0
		if raw := r.URL.Query().Get("n"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, codeInvalidQuantity, "invalid n")
				return
			}
			n = parsed
		}
		top := svc.TopBuyers(n)
		resp := make([]buyerStatsResponse, 0, len(top))
		for _, stats := range top {
			resp = append(resp, newBuyerStatsResponse(stats))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type orderResponse struct {
	OrderID       string    `json:"order_id"`
	IntentID      string    `json:"intent_id"`
	BuyerID       int64     `json:"buyer_id"`
	BuyerHandle   string    `json:"buyer_handle"`
	TransactionID string    `json:"transaction_id"`
	Quantity      int       `json:"quantity"`
	AmountPaid    string    `json:"amount_paid"`
	Items         []string  `json:"items"`
	CreatedAt     time.Time `json:"created_at"`
}

func newOrderResponse(order domain.OrderRecord) orderResponse {
	items := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, item.Identifier)
	}
	return orderResponse{
		OrderID:       order.OrderID,
		IntentID:      order.IntentID,
		BuyerID:       order.BuyerID,
		BuyerHandle:   order.BuyerHandle,
		TransactionID: order.TransactionID,
		Quantity:      order.Quantity,
		AmountPaid:    order.AmountPaid.StringFixed(2),
		Items:         items,
		CreatedAt:     order.CreatedAt,
	}
}

type buyerStatsResponse struct {
	BuyerID       int64  `json:"buyer_id"`
	OrderCount    int    `json:"order_count"`
	TotalQuantity int    `json:"total_quantity"`
	TotalAmount   string `json:"total_amount"`
}

func newBuyerStatsResponse(stats ledger.BuyerStats) buyerStatsResponse {
	return buyerStatsResponse{
		BuyerID:       stats.BuyerID,
		OrderCount:    stats.OrderCount,
		TotalQuantity: stats.TotalQuantity,
		TotalAmount:   stats.TotalAmount.StringFixed(2),
	}
}

type buyerResponse struct {
	Stats        buyerStatsResponse `json:"stats"`
	RecentOrders []orderResponse    `json:"recent_orders"`
}
