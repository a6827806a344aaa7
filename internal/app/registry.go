package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lolgoatvowsly-cell/cookie/internal/clock"
	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
)

const (
	DefaultIntentRetention = time.Hour
	DefaultMaxResolved     = 10000
)

// Registry tracks purchase intents by id so callers outside the purchase
// goroutine can read their status or stop them. Resolved intents are kept for
// a retention window and up to a size cap, oldest evicted first.
type Registry struct {
	clock       clock.Clock
	retention   time.Duration
	maxResolved int

	mu       sync.Mutex
	entries  map[string]*registryEntry
	resolved []string
}

type registryEntry struct {
	intent domain.PurchaseIntent
	cancel context.CancelFunc
}

type RegistryOption func(*Registry)

// WithRetention sets how long resolved intents stay readable.
func WithRetention(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d >= 0 {
			r.retention = d
		}
	}
}

// WithMaxResolved caps how many resolved intents are kept.
func WithMaxResolved(n int) RegistryOption {
	return func(r *Registry) {
		if n >= 0 {
			r.maxResolved = n
		}
	}
}

func WithRegistryClock(clk clock.Clock) RegistryOption {
	return func(r *Registry) {
		if clk != nil {
			r.clock = clk
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		clock:       clock.NewSystem(),
		retention:   DefaultIntentRetention,
		maxResolved: DefaultMaxResolved,
		entries:     make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) put(intent domain.PurchaseIntent, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[intent.ID] = &registryEntry{intent: intent.Snapshot(), cancel: cancel}
	r.evictLocked()
}

// update applies fn to the stored intent and returns a snapshot of the result.
// The cancel func is dropped once the intent is terminal.
func (r *Registry) update(id string, fn func(*domain.PurchaseIntent)) domain.PurchaseIntent {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return domain.PurchaseIntent{}
	}
	wasTerminal := entry.intent.Status.Terminal()
	fn(&entry.intent)
	snapshot := entry.intent.Snapshot()
	if entry.intent.Status.Terminal() {
		entry.cancel = nil
		if !wasTerminal {
			r.resolved = append(r.resolved, id)
			r.evictLocked()
		}
	}
	return snapshot
}

// commit applies fn and detaches the cancel func. Cancel and CancelAll no
// longer reach the intent afterwards.
func (r *Registry) commit(id string, fn func(*domain.PurchaseIntent)) domain.PurchaseIntent {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return domain.PurchaseIntent{}
	}
	fn(&entry.intent)
	entry.cancel = nil
	return entry.intent.Snapshot()
}

// evictLocked drops resolved intents past the retention window or over the cap.
func (r *Registry) evictLocked() {
	cutoff := r.clock.Now().Add(-r.retention)
	for len(r.resolved) > 0 {
		id := r.resolved[0]
		entry, ok := r.entries[id]
		if ok && len(r.resolved) <= r.maxResolved && entry.intent.ResolvedAt.After(cutoff) {
			return
		}
		delete(r.entries, id)
		r.resolved[0] = ""
		r.resolved = r.resolved[1:]
	}
}

// Get returns a snapshot of the intent.
func (r *Registry) Get(id string) (domain.PurchaseIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return domain.PurchaseIntent{}, domain.ErrPurchaseNotFound
	}
	return entry.intent.Snapshot(), nil
}

// Cancel stops an in-flight intent. Cancelling an intent that already
// resolved, or whose payment is confirmed, is a no-op; the returned snapshot
// shows its current status.
func (r *Registry) Cancel(id string) (domain.PurchaseIntent, error) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return domain.PurchaseIntent{}, domain.ErrPurchaseNotFound
	}
	cancel := entry.cancel
	snapshot := entry.intent.Snapshot()
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return snapshot, nil
}

// CancelAll stops every in-flight intent and reports how many were signalled.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.cancel != nil {
			cancels = append(cancels, entry.cancel)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Active lists intents that have not resolved yet, oldest first.
func (r *Registry) Active() []domain.PurchaseIntent {
	r.mu.Lock()
	out := make([]domain.PurchaseIntent, 0)
	for _, entry := range r.entries {
		if !entry.intent.Status.Terminal() {
			out = append(out, entry.intent.Snapshot())
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len reports how many intents are held, resolved ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
