package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lolgoatvowsly-cell/cookie/internal/clock"
	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
	"github.com/lolgoatvowsly-cell/cookie/internal/monitor"
)

const tracerName = "github.com/lolgoatvowsly-cell/cookie/internal/app"

type UserDirectory interface {
	Resolve(ctx context.Context, handle string) (int64, error)
}

type StockReserver interface {
	TryReserve(n int) ([]domain.InventoryItem, error)
	Return(items []domain.InventoryItem)
}

// Watcher waits for the buyer's payment. *monitor.Monitor satisfies it.
type Watcher interface {
	Run(ctx context.Context, buyerID int64) monitor.Result
}

type OrderAppender interface {
	AppendWithNewID(rec domain.OrderRecord) (domain.OrderRecord, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// AuditSink archives finished purchases. Writes are best-effort.
type AuditSink interface {
	RecordOrder(ctx context.Context, order domain.OrderRecord) error
	RecordOutcome(ctx context.Context, intent domain.PurchaseIntent) error
}

// DeliverFunc hands reserved items to the buyer.
type DeliverFunc func(ctx context.Context, items []domain.InventoryItem) domain.DeliveryResult

type PurchaseRequest struct {
	BuyerHandle string
	Quantity    int
	RequesterID string
}

// PurchaseOutcome is the result of one attempt. Err is nil only when the
// items were delivered and the order recorded.
type PurchaseOutcome struct {
	Intent domain.PurchaseIntent
	Order  *domain.OrderRecord
	Err    error
}

type Coordinator struct {
	users     UserDirectory
	stock     StockReserver
	watcher   Watcher
	orders    OrderAppender
	clock     clock.Clock
	registry  *Registry
	publisher EventPublisher
	audit     AuditSink
	logger    *zap.Logger
	tracer    trace.Tracer

	wg sync.WaitGroup
}

type CoordinatorOption func(*Coordinator)

func WithRegistry(r *Registry) CoordinatorOption {
	return func(c *Coordinator) {
		if r != nil {
			c.registry = r
		}
	}
}

func WithPublisher(p EventPublisher) CoordinatorOption {
	return func(c *Coordinator) {
		if p != nil {
			c.publisher = p
		}
	}
}

func WithAuditSink(a AuditSink) CoordinatorOption {
	return func(c *Coordinator) {
		if a != nil {
			c.audit = a
		}
	}
}

func WithLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) CoordinatorOption {
	return func(c *Coordinator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

func NewCoordinator(users UserDirectory, stock StockReserver, watcher Watcher, orders OrderAppender, clk clock.Clock, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		users:     users,
		stock:     stock,
		watcher:   watcher,
		orders:    orders,
		clock:     clk,
		publisher: nopPublisher{},
		audit:     nopAudit{},
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = NewRegistry(WithRegistryClock(clk))
	}
	return c
}

// Start runs one purchase attempt to completion and blocks until it resolves.
func (c *Coordinator) Start(ctx context.Context, req PurchaseRequest, deliver DeliverFunc) PurchaseOutcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	intent, err := c.reserve(ctx, req, deliver, cancel)
	if err != nil {
		return PurchaseOutcome{Intent: intent, Err: err}
	}
	return c.complete(ctx, intent, deliver)
}

// StartAsync resolves the buyer and reserves stock on the caller's goroutine,
// then waits for payment in the background. The returned intent is in
// waiting_payment on success; poll it with Get.
func (c *Coordinator) StartAsync(ctx context.Context, req PurchaseRequest, deliver DeliverFunc) (domain.PurchaseIntent, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	intent, err := c.reserve(ctx, req, deliver, cancel)
	if err != nil {
		cancel()
		return intent, err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.complete(runCtx, intent, deliver)
	}()
	return intent, nil
}

func (c *Coordinator) Get(id string) (domain.PurchaseIntent, error) {
	return c.registry.Get(id)
}

// Cancel force-stops an attempt that is still waiting for payment. Its items go
// back to the pool. Once the payment is confirmed the attempt runs to the end.
func (c *Coordinator) Cancel(id string) (domain.PurchaseIntent, error) {
	return c.registry.Cancel(id)
}

func (c *Coordinator) Active() []domain.PurchaseIntent {
	return c.registry.Active()
}

// Shutdown cancels every attempt still waiting for payment and waits for all
// background attempts, deliveries in progress included, to finish.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if n := c.registry.CancelAll(); n > 0 {
		c.logger.Info("cancelling in-flight purchases", zap.Int("count", n))
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserve validates the request, resolves the buyer and takes stock. On error
// the returned intent is already terminal.
func (c *Coordinator) reserve(ctx context.Context, req PurchaseRequest, deliver DeliverFunc, cancel context.CancelFunc) (domain.PurchaseIntent, error) {
	if req.Quantity <= 0 {
		return domain.PurchaseIntent{}, domain.ErrInvalidQuantity
	}
	if deliver == nil {
		return domain.PurchaseIntent{}, fmt.Errorf("%w: no delivery target", domain.ErrDelivery)
	}

	intent := domain.PurchaseIntent{
		ID:          newIntentID(),
		BuyerHandle: strings.TrimSpace(req.BuyerHandle),
		RequesterID: req.RequesterID,
		Quantity:    req.Quantity,
		Status:      domain.IntentStatusWaitingPayment,
		StartedAt:   c.clock.Now(),
	}
	c.registry.put(intent, cancel)

	log := c.logger.With(zap.String("intent_id", intent.ID), zap.String("buyer_handle", intent.BuyerHandle))
	ctx, span := c.tracer.Start(ctx, "fulfillment.reserve", trace.WithAttributes(
		attribute.String("intent.id", intent.ID),
		attribute.Int("purchase.quantity", intent.Quantity),
	))
	defer span.End()

	buyerID, err := c.users.Resolve(ctx, intent.BuyerHandle)
	if err != nil {
		status := domain.IntentStatusBuyerNotFound
		if !errors.Is(err, domain.ErrBuyerNotFound) {
			status = domain.IntentStatusRefundedError
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve buyer")
		log.Info("buyer lookup failed", zap.Error(err))
		final := c.resolve(intent.ID, status, err.Error(), nil)
		c.archive(context.WithoutCancel(ctx), log, final, nil)
		return final, err
	}
	span.SetAttributes(attribute.Int64("buyer.id", buyerID))

	items, err := c.stock.TryReserve(intent.Quantity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve stock")
		log.Info("stock reservation failed", zap.Int("quantity", intent.Quantity), zap.Error(err))
		final := c.resolve(intent.ID, domain.IntentStatusRefundedNoStock, err.Error(), func(p *domain.PurchaseIntent) {
			p.BuyerID = buyerID
		})
		if errors.Is(err, domain.ErrInsufficientStock) {
			c.publish(context.WithoutCancel(ctx), log, c.intentEvent(domain.EventPurchaseWaitlisted, final))
		}
		c.archive(context.WithoutCancel(ctx), log, final, nil)
		return final, err
	}

	intent = c.registry.update(intent.ID, func(p *domain.PurchaseIntent) {
		p.BuyerID = buyerID
		p.ReservedItems = items
	})
	log.Info("stock reserved, waiting for payment", zap.Int64("buyer_id", buyerID), zap.Int("quantity", len(items)))
	return intent, nil
}

func (c *Coordinator) complete(ctx context.Context, intent domain.PurchaseIntent, deliver DeliverFunc) PurchaseOutcome {
	log := c.logger.With(
		zap.String("intent_id", intent.ID),
		zap.Int64("buyer_id", intent.BuyerID),
	)
	ctx, span := c.tracer.Start(ctx, "fulfillment.complete", trace.WithAttributes(
		attribute.String("intent.id", intent.ID),
		attribute.Int64("buyer.id", intent.BuyerID),
	))
	defer span.End()

	res := c.watcher.Run(ctx, intent.BuyerID)
	span.SetAttributes(attribute.String("monitor.state", string(res.State)))

	switch res.State {
	case monitor.StateConfirmed:
		return c.deliver(ctx, span, log, intent, *res.Transaction, deliver)
	case monitor.StateCancelled:
		return c.compensate(ctx, span, log, intent, domain.IntentStatusCancelled, "cancelled before payment", domain.ErrCancelled)
	default:
		detail := fmt.Sprintf("no payment after %d polls", res.Attempts)
		return c.compensate(ctx, span, log, intent, domain.IntentStatusTimedOut, detail, domain.ErrTimedOut)
	}
}

func (c *Coordinator) deliver(ctx context.Context, span trace.Span, log *zap.Logger, intent domain.PurchaseIntent, tx domain.TransactionRecord, deliver DeliverFunc) PurchaseOutcome {
	log = log.With(zap.String("transaction_id", tx.ID))
	intent = c.registry.commit(intent.ID, func(p *domain.PurchaseIntent) {
		p.Transaction = &tx
	})

	// Payment is consumed; cancel and shutdown no longer reach this attempt.
	ctx = context.WithoutCancel(ctx)
	items := append([]domain.InventoryItem(nil), intent.ReservedItems...)
	result := deliver(ctx, items)

	switch result.Status {
	case domain.DeliveryStatusDelivered:
	case domain.DeliveryStatusBuyerUnreachable:
		return c.compensate(ctx, span, log, intent, domain.IntentStatusRefundedUndeliverable, result.Detail, domain.ErrBuyerUnreachable)
	default:
		return c.compensate(ctx, span, log, intent, domain.IntentStatusRefundedError, result.Detail,
			fmt.Errorf("%w: %s", domain.ErrDelivery, result.Detail))
	}

	order, err := c.orders.AppendWithNewID(domain.OrderRecord{
		IntentID:      intent.ID,
		BuyerID:       intent.BuyerID,
		BuyerHandle:   intent.BuyerHandle,
		RequesterID:   intent.RequesterID,
		TransactionID: tx.ID,
		Items:         items,
		Quantity:      len(items),
		AmountPaid:    tx.Amount,
		CreatedAt:     c.clock.Now(),
	})
	bg := context.WithoutCancel(ctx)
	if err != nil {
		// The buyer already has the items; they must not go back to the pool.
		span.RecordError(err)
		span.SetStatus(codes.Error, "record order")
		log.Error("items delivered but order not recorded", zap.Error(err))
		final := c.resolve(intent.ID, domain.IntentStatusDelivered, "order not recorded: "+err.Error(), nil)
		c.archive(bg, log, final, nil)
		return PurchaseOutcome{Intent: final, Err: fmt.Errorf("record order: %w", err)}
	}

	final := c.resolve(intent.ID, domain.IntentStatusDelivered, "", func(p *domain.PurchaseIntent) {
		p.OrderID = order.OrderID
	})
	span.SetAttributes(attribute.String("order.id", order.OrderID))
	log.Info("order delivered", zap.String("order_id", order.OrderID), zap.String("amount", order.AmountPaid.String()))

	evt := c.intentEvent(domain.EventOrderDelivered, final)
	evt.Key = order.OrderID
	evt.Amount = order.AmountPaid.String()
	c.publish(bg, log, evt)
	c.archive(bg, log, final, &order)
	return PurchaseOutcome{Intent: final, Order: &order}
}

// compensate returns the intent's items to the pool before anything is reported.
func (c *Coordinator) compensate(ctx context.Context, span trace.Span, log *zap.Logger, intent domain.PurchaseIntent, status domain.IntentStatus, detail string, cause error) PurchaseOutcome {
	c.stock.Return(intent.ReservedItems)

	final := c.resolve(intent.ID, status, detail, nil)
	if status != domain.IntentStatusTimedOut && status != domain.IntentStatusCancelled {
		span.RecordError(cause)
		span.SetStatus(codes.Error, string(status))
	}
	log.Info("purchase resolved, stock returned",
		zap.String("status", string(status)),
		zap.Int("returned", len(intent.ReservedItems)),
		zap.String("detail", detail),
	)

	bg := context.WithoutCancel(ctx)
	c.publish(bg, log, c.intentEvent(domain.EventPurchaseRefunded, final))
	c.archive(bg, log, final, nil)
	return PurchaseOutcome{Intent: final, Err: cause}
}

func (c *Coordinator) resolve(id string, status domain.IntentStatus, detail string, fn func(*domain.PurchaseIntent)) domain.PurchaseIntent {
	now := c.clock.Now()
	return c.registry.update(id, func(p *domain.PurchaseIntent) {
		if fn != nil {
			fn(p)
		}
		p.Status = status
		p.Detail = detail
		p.ReservedItems = nil
		p.ResolvedAt = now
	})
}

func (c *Coordinator) intentEvent(typ domain.EventType, intent domain.PurchaseIntent) domain.Event {
	evt := domain.Event{
		Type:        typ,
		Key:         intent.ID,
		OccurredAt:  c.clock.Now(),
		IntentID:    intent.ID,
		OrderID:     intent.OrderID,
		BuyerID:     intent.BuyerID,
		BuyerHandle: intent.BuyerHandle,
		Quantity:    intent.Quantity,
		Status:      string(intent.Status),
		Detail:      intent.Detail,
	}
	if intent.Transaction != nil {
		evt.TransactionID = intent.Transaction.ID
	}
	return evt
}

func (c *Coordinator) publish(ctx context.Context, log *zap.Logger, evt domain.Event) {
	if err := c.publisher.Publish(ctx, evt); err != nil {
		log.Warn("event publish failed", zap.String("event_type", string(evt.Type)), zap.Error(err))
	}
}

func (c *Coordinator) archive(ctx context.Context, log *zap.Logger, intent domain.PurchaseIntent, order *domain.OrderRecord) {
	if order != nil {
		if err := c.audit.RecordOrder(ctx, *order); err != nil {
			log.Warn("order archive failed", zap.Error(err))
		}
	}
	if err := c.audit.RecordOutcome(ctx, intent); err != nil {
		log.Warn("outcome archive failed", zap.Error(err))
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.Event) error { return nil }

type nopAudit struct{}

func (nopAudit) RecordOrder(context.Context, domain.OrderRecord) error { return nil }

func (nopAudit) RecordOutcome(context.Context, domain.PurchaseIntent) error { return nil }
