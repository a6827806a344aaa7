// Package inventory holds the shared stock of credential bundles.
package inventory

import (
	"sync"

	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
)

// Pool is the FIFO stock shared by all purchase attempts. Every operation runs
// under a single mutex; observers are notified after the lock is released.
type Pool struct {
	mu       sync.Mutex
	items    []domain.InventoryItem
	seq      uint64
	onChange func(Level)
}

// Level is the item count after one mutation. Seq increases with every
// mutation, so observers can discard a Level that arrives after a newer one.
type Level struct {
	Count int
	Seq   uint64
}

type PoolOption func(*Pool)

// WithChangeObserver registers fn to receive the level after every mutation.
// Calls may run concurrently and out of order.
func WithChangeObserver(fn func(Level)) PoolOption {
	return func(p *Pool) {
		p.onChange = fn
	}
}

func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// TryReserve removes exactly n items from the front of the pool, or none.
func (p *Pool) TryReserve(n int) ([]domain.InventoryItem, error) {
	if n <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	p.mu.Lock()
	if len(p.items) < n {
		p.mu.Unlock()
		return nil, domain.ErrInsufficientStock
	}
	reserved := make([]domain.InventoryItem, n)
	copy(reserved, p.items[:n])
	p.items = append([]domain.InventoryItem(nil), p.items[n:]...)
	level := p.levelLocked()
	p.mu.Unlock()

	p.notify(level)
	return reserved, nil
}

// Return puts reserved items back at the front, in their original order, so
// they are the next ones handed out.
func (p *Pool) Return(items []domain.InventoryItem) {
	if len(items) == 0 {
		return
	}

	p.mu.Lock()
	merged := make([]domain.InventoryItem, 0, len(items)+len(p.items))
	merged = append(merged, items...)
	merged = append(merged, p.items...)
	p.items = merged
	level := p.levelLocked()
	p.mu.Unlock()

	p.notify(level)
}

func (p *Pool) Add(item domain.InventoryItem) error {
	if item.Identifier == "" {
		return domain.ErrInvalidItem
	}

	p.mu.Lock()
	for _, existing := range p.items {
		if domain.SameIdentifier(existing.Identifier, item.Identifier) {
			p.mu.Unlock()
			return domain.ErrDuplicateItem
		}
	}
	p.items = append(p.items, item)
	level := p.levelLocked()
	p.mu.Unlock()

	p.notify(level)
	return nil
}

// RemoveByIdentifier removes the first item whose identifier matches id,
// ignoring case.
func (p *Pool) RemoveByIdentifier(id string) (domain.InventoryItem, error) {
	p.mu.Lock()
	for i, item := range p.items {
		if !domain.SameIdentifier(item.Identifier, id) {
			continue
		}
		p.items = append(p.items[:i:i], p.items[i+1:]...)
		level := p.levelLocked()
		p.mu.Unlock()

		p.notify(level)
		return item, nil
	}
	p.mu.Unlock()
	return domain.InventoryItem{}, domain.ErrItemNotFound
}

// Preview returns copies of up to limit items from the front of the pool.
func (p *Pool) Preview(limit int) []domain.InventoryItem {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limit <= 0 || limit > len(p.items) {
		limit = len(p.items)
	}
	out := make([]domain.InventoryItem, limit)
	copy(out, p.items[:limit])
	return out
}

// Clear empties the pool and reports how many items were dropped.
func (p *Pool) Clear() int {
	p.mu.Lock()
	removed := len(p.items)
	p.items = nil
	var level Level
	if removed > 0 {
		level = p.levelLocked()
	}
	p.mu.Unlock()

	if removed > 0 {
		p.notify(level)
	}
	return removed
}

func (p *Pool) levelLocked() Level {
	p.seq++
	return Level{Count: len(p.items), Seq: p.seq}
}

func (p *Pool) notify(level Level) {
	if p.onChange != nil {
		p.onChange(level)
	}
}
