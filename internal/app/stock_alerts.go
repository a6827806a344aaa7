package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lolgoatvowsly-cell/cookie/internal/clock"
	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
	"github.com/lolgoatvowsly-cell/cookie/internal/inventory"
)

const (
	DefaultLowStockThreshold = 3
	stockEventKey            = "stock"
	stockAlertTimeout        = 5 * time.Second
	stockAlertQueue          = 64
)

// StockAlerts turns pool level changes into stock.low and stock.empty events.
// Register Observe with inventory.WithChangeObserver and start Run. An alert
// fires whenever the count drops to or below the threshold, and once when it
// reaches zero. Levels older than the last one seen are ignored.
type StockAlerts struct {
	publisher EventPublisher
	clock     clock.Clock
	logger    *zap.Logger
	threshold int
	queue     chan domain.Event

	mu      sync.Mutex
	last    int
	lastSeq uint64
}

func NewStockAlerts(publisher EventPublisher, clk clock.Clock, logger *zap.Logger, threshold int) *StockAlerts {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold < 0 {
		threshold = DefaultLowStockThreshold
	}
	return &StockAlerts{
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		threshold: threshold,
		queue:     make(chan domain.Event, stockAlertQueue),
	}
}

// Observe queues an alert for Run and never blocks. A full queue drops the
// alert with a warning.
func (a *StockAlerts) Observe(level inventory.Level) {
	a.mu.Lock()
	if level.Seq <= a.lastSeq {
		a.mu.Unlock()
		return
	}
	prev := a.last
	a.last, a.lastSeq = level.Count, level.Seq
	a.mu.Unlock()

	if level.Count >= prev {
		return
	}

	var typ domain.EventType
	switch {
	case level.Count == 0:
		typ = domain.EventStockEmpty
	case level.Count <= a.threshold:
		typ = domain.EventStockLow
	default:
		return
	}

	evt := domain.Event{
		Type:       typ,
		Key:        stockEventKey,
		OccurredAt: a.clock.Now(),
		StockCount: level.Count,
	}
	select {
	case a.queue <- evt:
	default:
		a.logger.Warn("stock alert dropped, queue full", zap.String("event_type", string(typ)), zap.Int("count", level.Count))
	}
}

// Run publishes queued alerts until ctx is cancelled, then publishes whatever
// is still queued and returns.
func (a *StockAlerts) Run(ctx context.Context) {
	for {
		select {
		case evt := <-a.queue:
			a.publish(evt)
		case <-ctx.Done():
			for {
				select {
				case evt := <-a.queue:
					a.publish(evt)
				default:
					return
				}
			}
		}
	}
}

func (a *StockAlerts) publish(evt domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), stockAlertTimeout)
	defer cancel()

	if err := a.publisher.Publish(ctx, evt); err != nil {
		a.logger.Warn("stock alert publish failed", zap.String("event_type", string(evt.Type)), zap.Error(err))
		return
	}
	a.logger.Info("stock alert", zap.String("event_type", string(evt.Type)), zap.Int("count", evt.StockCount))
}
