package domain

import "time"

type IntentStatus string

const (
	IntentStatusWaitingPayment        IntentStatus = "waiting_payment"
	IntentStatusDelivered             IntentStatus = "delivered"
	IntentStatusBuyerNotFound         IntentStatus = "buyer_not_found"
	IntentStatusRefundedNoStock       IntentStatus = "refunded_no_stock"
	IntentStatusRefundedUndeliverable IntentStatus = "refunded_undeliverable"
	IntentStatusRefundedError         IntentStatus = "refunded_error"
	IntentStatusTimedOut              IntentStatus = "timed_out"
	IntentStatusCancelled             IntentStatus = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s IntentStatus) Terminal() bool {
	return s != IntentStatusWaitingPayment && s != ""
}

// PurchaseIntent tracks one fulfillment attempt from reservation to resolution.
// ReservedItems is non-empty only while the attempt holds stock.
type PurchaseIntent struct {
	ID            string
	BuyerID       int64
	BuyerHandle   string
	RequesterID   string
	Quantity      int
	ReservedItems []InventoryItem
	Status        IntentStatus
	Transaction   *TransactionRecord
	OrderID       string
	Detail        string
	StartedAt     time.Time
	ResolvedAt    time.Time
}

// Snapshot returns a copy that shares no slices with the receiver.
func (p PurchaseIntent) Snapshot() PurchaseIntent {
	out := p
	out.ReservedItems = append([]InventoryItem(nil), p.ReservedItems...)
	if p.Transaction != nil {
		tx := *p.Transaction
		out.Transaction = &tx
	}
	return out
}
