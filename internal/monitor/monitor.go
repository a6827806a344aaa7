// Package monitor polls the sales feed until a buyer's payment shows up.
//
// A Monitor starts in StateWaiting and ends in exactly one of StateConfirmed,
// StateTimedOut or StateCancelled. The first poll happens immediately, then
// once per interval until the horizon elapses. Feed errors never end the run;
// the next tick simply tries again.
package monitor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lolgoatvowsly-cell/cookie/internal/clock"
	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
)

const (
	DefaultHorizon      = 30 * time.Minute
	DefaultPollInterval = 30 * time.Second
	DefaultFetchLimit   = 10

	tracerName = "github.com/lolgoatvowsly-cell/cookie/internal/monitor"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateConfirmed State = "confirmed"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

// TransactionFeed returns the most recent sales, newest first.
type TransactionFeed interface {
	FetchRecent(ctx context.Context, limit int) ([]domain.TransactionRecord, error)
}

// Claimer is the dedup set seen from a monitor.
type Claimer interface {
	Contains(id string) bool
	TryClaim(id string) bool
}

// Result is the terminal state of one Run.
type Result struct {
	State       State
	Transaction *domain.TransactionRecord
	Attempts    int
	StartedAt   time.Time
	Deadline    time.Time
	FinishedAt  time.Time
}

type Monitor struct {
	feed     TransactionFeed
	claims   Claimer
	clock    clock.Clock
	logger   *zap.Logger
	tracer   trace.Tracer
	horizon  time.Duration
	interval time.Duration
	limit    int
}

type Option func(*Monitor)

// WithHorizon overrides how long a run waits for payment.
func WithHorizon(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.horizon = d
		}
	}
}

// WithPollInterval overrides the delay between feed polls.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithFetchLimit overrides how many recent sales are read per poll.
func WithFetchLimit(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.limit = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(m *Monitor) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

func New(feed TransactionFeed, claims Claimer, clk clock.Clock, opts ...Option) *Monitor {
	m := &Monitor{
		feed:     feed,
		claims:   claims,
		clock:    clk,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		horizon:  DefaultHorizon,
		interval: DefaultPollInterval,
		limit:    DefaultFetchLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run blocks until buyerID's payment is claimed, the horizon passes, or ctx is
// done. No lock is held while waiting.
func (m *Monitor) Run(ctx context.Context, buyerID int64) Result {
	started := m.clock.Now()
	res := Result{
		State:     StateWaiting,
		StartedAt: started,
		Deadline:  started.Add(m.horizon),
	}
	log := m.logger.With(zap.Int64("buyer_id", buyerID))

	ctx, span := m.tracer.Start(ctx, "monitor.run", trace.WithAttributes(
		attribute.Int64("buyer.id", buyerID),
		attribute.String("monitor.horizon", m.horizon.String()),
	))
	defer span.End()

	for {
		if ctx.Err() != nil {
			return m.finish(span, log, res, StateCancelled)
		}

		res.Attempts++
		if tx, ok := m.tick(ctx, log, buyerID, res.Attempts); ok {
			res.Transaction = &tx
			return m.finish(span, log, res, StateConfirmed)
		}

		now := m.clock.Now()
		if !now.Before(res.Deadline) {
			return m.finish(span, log, res, StateTimedOut)
		}

		wait := m.interval
		if remaining := res.Deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return m.finish(span, log, res, StateCancelled)
		case <-m.clock.After(wait):
		}
	}
}

func (m *Monitor) tick(ctx context.Context, log *zap.Logger, buyerID int64, attempt int) (domain.TransactionRecord, bool) {
	ctx, span := m.tracer.Start(ctx, "monitor.tick", trace.WithAttributes(
		attribute.Int("monitor.attempt", attempt),
	))
	defer span.End()

	records, err := m.feed.FetchRecent(ctx, m.limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		log.Warn("transaction fetch failed, retrying next tick",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return domain.TransactionRecord{}, false
	}

	for _, rec := range records {
		if m.claims.Contains(rec.ID) {
			continue
		}
		if rec.PayerID != buyerID {
			continue
		}
		if !m.claims.TryClaim(rec.ID) {
			// Another monitor claimed it between Contains and TryClaim.
			log.Info("transaction claimed concurrently", zap.String("transaction_id", rec.ID))
			continue
		}
		span.SetAttributes(attribute.String("transaction.id", rec.ID))
		return rec, true
	}
	return domain.TransactionRecord{}, false
}

func (m *Monitor) finish(span trace.Span, log *zap.Logger, res Result, state State) Result {
	res.State = state
	res.FinishedAt = m.clock.Now()
	span.SetAttributes(
		attribute.String("monitor.state", string(state)),
		attribute.Int("monitor.attempts", res.Attempts),
	)

	fields := []zap.Field{
		zap.String("state", string(state)),
		zap.Int("attempts", res.Attempts),
	}
	if res.Transaction != nil {
		fields = append(fields, zap.String("transaction_id", res.Transaction.ID))
	}
	log.Info("purchase monitor finished", fields...)
	return res
}
