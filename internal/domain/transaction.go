package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord is a sale reported by the external transaction feed.
type TransactionRecord struct {
	ID        string
	PayerID   int64
	Amount    decimal.Decimal
	Currency  string
	ItemName  string
	CreatedAt time.Time
}
