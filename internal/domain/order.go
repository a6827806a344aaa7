package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRecord is a completed delivery. Immutable once appended to the ledger.
type OrderRecord struct {
	OrderID       string
	IntentID      string
	BuyerID       int64
	BuyerHandle   string
	RequesterID   string
	TransactionID string
	Items         []InventoryItem
	Quantity      int
	AmountPaid    decimal.Decimal
	CreatedAt     time.Time
}
