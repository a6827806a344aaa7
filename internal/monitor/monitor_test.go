package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lolgoatvowsly-cell/cookie/internal/clock"
	"github.com/lolgoatvowsly-cell/cookie/internal/dedup"
	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
)

const buyer int64 = 4242

var start = time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)

type fakeFeed struct {
	mu        sync.Mutex
	responses []feedResponse
	calls     int
	limits    []int
}

type feedResponse struct {
	records []domain.TransactionRecord
	err     error
}

// FetchRecent replays responses in order and repeats the last one forever.
func (f *fakeFeed) FetchRecent(_ context.Context, limit int) ([]domain.TransactionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.limits = append(f.limits, limit)
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	if idx < 0 {
		return nil, nil
	}
	r := f.responses[idx]
	return r.records, r.err
}

func (f *fakeFeed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func sale(id string, payer int64) domain.TransactionRecord {
	return domain.TransactionRecord{
		ID:        id,
		PayerID:   payer,
		Amount:    decimal.NewFromInt(700),
		Currency:  "Robux",
		CreatedAt: start,
	}
}

func runAsync(ctx context.Context, m *Monitor) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		out <- m.Run(ctx, buyer)
	}()
	return out
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatalf("monitor did not finish")
		return Result{}
	}
}

func TestMonitor_ConfirmsFirstUnclaimedMatch(t *testing.T) {
	t.Parallel()

	claims := dedup.NewSet()
	claims.MarkKnownBaseline([]string{"tx-old"})
	feed := &fakeFeed{responses: []feedResponse{{records: []domain.TransactionRecord{
		sale("tx-other", 1),
		sale("tx-old", buyer),
		sale("tx-3", buyer),
		sale("tx-2", buyer),
	}}}}

	m := New(feed, claims, clock.NewManual(start), WithFetchLimit(25))
	res := m.Run(context.Background(), buyer)

	require.Equal(t, StateConfirmed, res.State)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, "tx-3", res.Transaction.ID)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, start.Add(DefaultHorizon), res.Deadline)
	assert.True(t, claims.Contains("tx-3"))
	assert.False(t, claims.Contains("tx-2"))
	assert.False(t, claims.Contains("tx-other"))
	assert.Equal(t, []int{25}, feed.limits)
}

func TestMonitor_FetchErrorsAreRetried(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	clk := clock.NewManual(start)
	feed := &fakeFeed{responses: []feedResponse{
		{err: errors.New("connection reset")},
		{records: []domain.TransactionRecord{sale("tx-1", buyer)}},
	}}
	m := New(feed, dedup.NewSet(), clk, WithLogger(zap.New(core)))

	done := runAsync(context.Background(), m)
	clk.BlockUntil(1)
	clk.Advance(DefaultPollInterval)

	res := waitResult(t, done)
	assert.Equal(t, StateConfirmed, res.State)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, logs.FilterMessage("transaction fetch failed, retrying next tick").Len())
}

func TestMonitor_TimesOutAtHorizon(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(start)
	feed := &fakeFeed{responses: []feedResponse{{records: []domain.TransactionRecord{sale("tx-x", 7)}}}}
	m := New(feed, dedup.NewSet(), clk,
		WithHorizon(90*time.Second),
		WithPollInterval(30*time.Second),
	)

	done := runAsync(context.Background(), m)
	for i := 0; i < 3; i++ {
		clk.BlockUntil(1)
		clk.Advance(30 * time.Second)
	}

	res := waitResult(t, done)
	assert.Equal(t, StateTimedOut, res.State)
	assert.Nil(t, res.Transaction)
	assert.Equal(t, 4, res.Attempts, "polls at 0s, 30s, 60s and at the deadline")
	assert.Equal(t, start.Add(90*time.Second), res.FinishedAt)
}

func TestMonitor_LastWaitIsClampedToDeadline(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(start)
	feed := &fakeFeed{}
	m := New(feed, dedup.NewSet(), clk,
		WithHorizon(45*time.Second),
		WithPollInterval(30*time.Second),
	)

	done := runAsync(context.Background(), m)
	clk.BlockUntil(1)
	clk.Advance(30 * time.Second)
	clk.BlockUntil(1)
	clk.Advance(15 * time.Second)

	res := waitResult(t, done)
	assert.Equal(t, StateTimedOut, res.State)
	assert.Equal(t, 3, res.Attempts)
}

func TestMonitor_ZeroHorizonPollsOnce(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{}
	m := New(feed, dedup.NewSet(), clock.NewManual(start), WithHorizon(0))

	res := m.Run(context.Background(), buyer)
	assert.Equal(t, StateTimedOut, res.State)
	assert.Equal(t, 1, feed.Calls())
}

func TestMonitor_Cancellation(t *testing.T) {
	t.Parallel()

	t.Run("cancel while waiting", func(t *testing.T) {
		clk := clock.NewManual(start)
		feed := &fakeFeed{}
		m := New(feed, dedup.NewSet(), clk)

		ctx, cancel := context.WithCancel(context.Background())
		done := runAsync(ctx, m)
		clk.BlockUntil(1)
		cancel()

		res := waitResult(t, done)
		assert.Equal(t, StateCancelled, res.State)
		assert.Equal(t, 1, res.Attempts)
	})

	t.Run("cancelled before start never polls", func(t *testing.T) {
		feed := &fakeFeed{}
		m := New(feed, dedup.NewSet(), clock.NewManual(start))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res := m.Run(ctx, buyer)
		assert.Equal(t, StateCancelled, res.State)
		assert.Equal(t, 0, feed.Calls())
	})
}

func TestMonitor_TwoWatchersOnePayment(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(start)
	claims := dedup.NewSet()
	feed := &fakeFeed{responses: []feedResponse{{records: []domain.TransactionRecord{sale("T1", buyer)}}}}
	opts := []Option{WithHorizon(60 * time.Second), WithPollInterval(30 * time.Second)}

	first := runAsync(context.Background(), New(feed, claims, clk, opts...))
	second := runAsync(context.Background(), New(feed, claims, clk, opts...))

	// Exactly one monitor confirms; the other keeps waiting until its horizon.
	clk.BlockUntil(1)
	var pending <-chan Result
	select {
	case res := <-first:
		require.Equal(t, StateConfirmed, res.State)
		assert.Equal(t, "T1", res.Transaction.ID)
		pending = second
	case res := <-second:
		require.Equal(t, StateConfirmed, res.State)
		assert.Equal(t, "T1", res.Transaction.ID)
		pending = first
	case <-time.After(5 * time.Second):
		t.Fatalf("no monitor confirmed")
	}

	select {
	case res := <-pending:
		t.Fatalf("second monitor finished early in state %s", res.State)
	default:
	}

	clk.Advance(30 * time.Second)
	clk.BlockUntil(1)
	clk.Advance(30 * time.Second)

	res := waitResult(t, pending)
	assert.Equal(t, StateTimedOut, res.State)
	assert.Nil(t, res.Transaction)
}

func TestMonitor_RecordsSpans(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	feed := &fakeFeed{responses: []feedResponse{{records: []domain.TransactionRecord{sale("tx-9", buyer)}}}}

	m := New(feed, dedup.NewSet(), clock.NewManual(start), WithTracer(tp.Tracer("test")))
	res := m.Run(context.Background(), buyer)
	require.Equal(t, StateConfirmed, res.State)

	names := make([]string, 0)
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"monitor.tick", "monitor.run"}, names)
}
