package domain

import "time"

type EventType string

const (
	EventOrderDelivered     EventType = "order.delivered"
	EventPurchaseRefunded   EventType = "purchase.refunded"
	EventPurchaseWaitlisted EventType = "purchase.waitlisted"
	EventStockLow           EventType = "stock.low"
	EventStockEmpty         EventType = "stock.empty"
)

// Event is a notification about a purchase or the stock level. Key is the
// partitioning key: the order id, the intent id, or "stock".
type Event struct {
	Type       EventType `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	IntentID   string    `json:"intent_id,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	// TransactionID is set once a payment was matched, including on refunds
	// after a failed delivery.
	TransactionID string `json:"transaction_id,omitempty"`
	BuyerID       int64  `json:"buyer_id,omitempty"`
	BuyerHandle   string `json:"buyer_handle,omitempty"`
	Quantity      int    `json:"quantity,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Status        string `json:"status,omitempty"`
	Detail        string `json:"detail,omitempty"`
	StockCount    int    `json:"stock_count"`
}
