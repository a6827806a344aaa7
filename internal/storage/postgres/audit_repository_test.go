package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
	"github.com/lolgoatvowsly-cell/cookie/internal/testutil"
)

func TestAuditRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewAuditRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)

	newOrder := func(orderID, txID string) domain.OrderRecord {
		return domain.OrderRecord{
			OrderID:       orderID,
			IntentID:      uuid.NewString(),
			BuyerID:       77,
			BuyerHandle:   "alice",
			RequesterID:   "op-1",
			TransactionID: txID,
			Items: []domain.InventoryItem{
				{Identifier: "a", Secret: "never-stored", SessionToken: "never-stored"},
				{Identifier: "b"},
			},
			Quantity:   2,
			AmountPaid: decimal.RequireFromString("1400.50"),
			CreatedAt:  now,
		}
	}

	t.Run("RecordOrder stores order and item identifiers", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		order := newOrder("K3Q9ZT1M", "tx-1")
		if err := repo.RecordOrder(ctx, order); err != nil {
			t.Fatalf("record order: %v", err)
		}

		var amount string
		var buyerID int64
		if err := pool.QueryRow(ctx, `SELECT buyer_id, amount_paid::text FROM orders WHERE order_id = $1`, order.OrderID).
			Scan(&buyerID, &amount); err != nil {
			t.Fatalf("select order: %v", err)
		}
		if buyerID != 77 || amount != "1400.50" {
			t.Fatalf("unexpected order row: buyer=%d amount=%s", buyerID, amount)
		}

		rows, err := pool.Query(ctx, `SELECT identifier FROM order_items WHERE order_id = $1 ORDER BY position`, order.OrderID)
		if err != nil {
			t.Fatalf("select items: %v", err)
		}
		defer rows.Close()
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				t.Fatalf("scan item: %v", err)
			}
			ids = append(ids, id)
		}
		if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
			t.Fatalf("unexpected identifiers: %v", ids)
		}
	})

	t.Run("RecordOrder is idempotent per order id", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		order := newOrder("AAAA1111", "tx-2")
		for i := 0; i < 2; i++ {
			if err := repo.RecordOrder(ctx, order); err != nil {
				t.Fatalf("record order attempt %d: %v", i, err)
			}
		}
		if n := testutil.CountRows(t, ctx, pool, "order_items"); n != 2 {
			t.Fatalf("expected 2 item rows, got %d", n)
		}
	})

	t.Run("RecordOrder rejects a reused transaction", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		if err := repo.RecordOrder(ctx, newOrder("BBBB2222", "tx-3")); err != nil {
			t.Fatalf("record first order: %v", err)
		}
		err := repo.RecordOrder(ctx, newOrder("CCCC3333", "tx-3"))
		if !errors.Is(err, domain.ErrDuplicateOrderID) {
			t.Fatalf("expected ErrDuplicateOrderID, got %v", err)
		}
		if n := testutil.CountRows(t, ctx, pool, "orders"); n != 1 {
			t.Fatalf("expected the failed order to roll back, got %d orders", n)
		}
	})

	t.Run("RecordOutcome upserts the latest status", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		intent := domain.PurchaseIntent{
			ID:          uuid.NewString(),
			BuyerHandle: "ghost",
			Quantity:    1,
			Status:      domain.IntentStatusWaitingPayment,
			StartedAt:   now,
		}
		if err := repo.RecordOutcome(ctx, intent); err != nil {
			t.Fatalf("record waiting: %v", err)
		}

		intent.BuyerID = 77
		intent.Status = domain.IntentStatusTimedOut
		intent.Detail = "no payment after 61 polls"
		intent.ResolvedAt = now.Add(30 * time.Minute)
		if err := repo.RecordOutcome(ctx, intent); err != nil {
			t.Fatalf("record timed out: %v", err)
		}

		var status, detail string
		var buyerID *int64
		if err := pool.QueryRow(ctx, `SELECT status, detail, buyer_id FROM purchase_attempts WHERE intent_id = $1`, intent.ID).
			Scan(&status, &detail, &buyerID); err != nil {
			t.Fatalf("select attempt: %v", err)
		}
		if status != "timed_out" || detail != intent.Detail || buyerID == nil || *buyerID != 77 {
			t.Fatalf("unexpected attempt row: %s %q %v", status, detail, buyerID)
		}
		if n := testutil.CountRows(t, ctx, pool, "purchase_attempts"); n != 1 {
			t.Fatalf("expected 1 attempt row, got %d", n)
		}
	})

	t.Run("RecordOutcome rejects malformed intent ids", func(t *testing.T) {
		err := repo.RecordOutcome(context.Background(), domain.PurchaseIntent{ID: "not-a-uuid", StartedAt: now})
		if !errors.Is(err, domain.ErrInvalidOrder) {
			t.Fatalf("expected ErrInvalidOrder, got %v", err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(context.Background()); err != nil {
			t.Fatalf("ping: %v", err)
		}
	})
}
