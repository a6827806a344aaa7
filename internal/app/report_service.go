package app

import (
	"github.com/shopspring/decimal"

	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
	"github.com/lolgoatvowsly-cell/cookie/internal/ledger"
)

const (
	DefaultTopBuyers    = 10
	recentOrdersPerUser = 5
)

type OrderHistory interface {
	ByBuyer(buyerID int64) []domain.OrderRecord
	ByOrderID(id string) (domain.OrderRecord, error)
	TopBuyers(n int) []ledger.BuyerStats
}

type ReportService struct {
	orders OrderHistory
}

func NewReportService(orders OrderHistory) *ReportService {
	return &ReportService{orders: orders}
}

// TopBuyers ranks buyers by total amount paid. n <= 0 uses DefaultTopBuyers.
func (s *ReportService) TopBuyers(n int) []ledger.BuyerStats {
	if n <= 0 {
		n = DefaultTopBuyers
	}
	return s.orders.TopBuyers(n)
}

type CustomerInfo struct {
	Stats        ledger.BuyerStats
	RecentOrders []domain.OrderRecord
}

// CustomerInfo summarises a buyer's history with their most recent orders,
// newest first.
func (s *ReportService) CustomerInfo(buyerID int64) (CustomerInfo, error) {
	history := s.orders.ByBuyer(buyerID)
	if len(history) == 0 {
		return CustomerInfo{}, domain.ErrOrderNotFound
	}

	info := CustomerInfo{Stats: ledger.BuyerStats{BuyerID: buyerID, TotalAmount: decimal.Zero}}
	for _, rec := range history {
		info.Stats.TotalQuantity += rec.Quantity
		info.Stats.TotalAmount = info.Stats.TotalAmount.Add(rec.AmountPaid)
		info.Stats.OrderCount++
	}

	n := min(recentOrdersPerUser, len(history))
	info.RecentOrders = make([]domain.OrderRecord, 0, n)
	for i := len(history) - 1; i >= len(history)-n; i-- {
		info.RecentOrders = append(info.RecentOrders, history[i])
	}
	return info, nil
}

func (s *ReportService) Order(orderID string) (domain.OrderRecord, error) {
	return s.orders.ByOrderID(orderID)
}
