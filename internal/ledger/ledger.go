// Package ledger keeps the in-memory record of completed deliveries.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
)

const maxIDAttempts = 16

// BuyerStats aggregates every order of one buyer.
type BuyerStats struct {
	BuyerID       int64
	TotalQuantity int
	TotalAmount   decimal.Decimal
	OrderCount    int
}

// Ledger is an append-only order log indexed by order id and buyer.
type Ledger struct {
	mu      sync.RWMutex
	byID    map[string]domain.OrderRecord
	byBuyer map[int64][]domain.OrderRecord
	newID   func() (string, error)
}

type Option func(*Ledger)

// WithIDGenerator replaces the order id generator (useful for tests).
func WithIDGenerator(fn func() (string, error)) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.newID = fn
		}
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		byID:    make(map[string]domain.OrderRecord),
		byBuyer: make(map[int64][]domain.OrderRecord),
		newID:   NewOrderID,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append stores rec under its own OrderID.
func (l *Ledger) Append(rec domain.OrderRecord) error {
	if normalizeOrderID(rec.OrderID) == "" {
		return domain.ErrInvalidOrder
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(rec)
}

// AppendWithNewID assigns a fresh unique order id to rec and stores it.
func (l *Ledger) AppendWithNewID(rec domain.OrderRecord) (domain.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := 0; i < maxIDAttempts; i++ {
		id, err := l.newID()
		if err != nil {
			return domain.OrderRecord{}, err
		}
		if _, taken := l.byID[normalizeOrderID(id)]; taken {
			continue
		}
		rec.OrderID = id
		if err := l.appendLocked(rec); err != nil {
			return domain.OrderRecord{}, err
		}
		return cloneOrder(rec), nil
	}
	return domain.OrderRecord{}, fmt.Errorf("assign order id after %d attempts: %w", maxIDAttempts, domain.ErrDuplicateOrderID)
}

func (l *Ledger) appendLocked(rec domain.OrderRecord) error {
	key := normalizeOrderID(rec.OrderID)
	if _, exists := l.byID[key]; exists {
		return domain.ErrDuplicateOrderID
	}
	rec = cloneOrder(rec)
	l.byID[key] = rec

	// Keep per-buyer history chronological even if records arrive out of order.
	history := l.byBuyer[rec.BuyerID]
	pos := len(history)
	for pos > 0 && history[pos-1].CreatedAt.After(rec.CreatedAt) {
		pos--
	}
	history = append(history, domain.OrderRecord{})
	copy(history[pos+1:], history[pos:])
	history[pos] = rec
	l.byBuyer[rec.BuyerID] = history
	return nil
}

// ByBuyer returns the buyer's orders, oldest first.
func (l *Ledger) ByBuyer(buyerID int64) []domain.OrderRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	history := l.byBuyer[buyerID]
	out := make([]domain.OrderRecord, 0, len(history))
	for _, rec := range history {
		out = append(out, cloneOrder(rec))
	}
	return out
}

// ByOrderID looks an order up ignoring case.
func (l *Ledger) ByOrderID(id string) (domain.OrderRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.byID[normalizeOrderID(id)]
	if !ok {
		return domain.OrderRecord{}, domain.ErrOrderNotFound
	}
	return cloneOrder(rec), nil
}

// Aggregate computes per-buyer totals from a single consistent snapshot.
func (l *Ledger) Aggregate() map[int64]BuyerStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[int64]BuyerStats, len(l.byBuyer))
	for buyerID, history := range l.byBuyer {
		stats := BuyerStats{BuyerID: buyerID, TotalAmount: decimal.Zero}
		for _, rec := range history {
			stats.TotalQuantity += rec.Quantity
			stats.TotalAmount = stats.TotalAmount.Add(rec.AmountPaid)
			stats.OrderCount++
		}
		out[buyerID] = stats
	}
	return out
}

// TopBuyers ranks buyers by total amount paid, highest first. n <= 0 returns all.
func (l *Ledger) TopBuyers(n int) []BuyerStats {
	agg := l.Aggregate()
	ranked := make([]BuyerStats, 0, len(agg))
	for _, stats := range agg {
		ranked = append(ranked, stats)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if c := ranked[i].TotalAmount.Cmp(ranked[j].TotalAmount); c != 0 {
			return c > 0
		}
		if ranked[i].TotalQuantity != ranked[j].TotalQuantity {
			return ranked[i].TotalQuantity > ranked[j].TotalQuantity
		}
		return ranked[i].BuyerID < ranked[j].BuyerID
	})
	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// Len returns the number of recorded orders.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}

func cloneOrder(rec domain.OrderRecord) domain.OrderRecord {
	rec.Items = append([]domain.InventoryItem(nil), rec.Items...)
	return rec
}
