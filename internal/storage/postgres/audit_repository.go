package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
)

// AuditRepository is a write-only archive of finished purchases. The engine
// never reads it back; operators query it directly.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

// RecordOrder stores the order and its item identifiers atomically. Recording
// the same order twice is a no-op.
func (r *AuditRepository) RecordOrder(ctx context.Context, order domain.OrderRecord) error {
	const insertOrder = `
INSERT INTO orders (order_id, intent_id, buyer_id, buyer_handle, requester_id, transaction_id, quantity, amount_paid, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (order_id) DO NOTHING`
	const insertItem = `
INSERT INTO order_items (order_id, position, identifier)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING`

	return r.WithTx(ctx, func(txCtx context.Context) error {
		tag, err := r.exec(txCtx, insertOrder,
			order.OrderID, order.IntentID, order.BuyerID, order.BuyerHandle, order.RequesterID,
			order.TransactionID, order.Quantity, order.AmountPaid, order.CreatedAt,
		)
		if err != nil {
			if isInvalidUUID(err) {
				return domain.ErrInvalidOrder
			}
			if isUniqueViolation(err) {
				_, constraint := pgErrorCode(err)
				return fmt.Errorf("%w: transaction %s already recorded (%s)", domain.ErrDuplicateOrderID, order.TransactionID, constraint)
			}
			return fmt.Errorf("record order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		for i, item := range order.Items {
			if _, err := r.exec(txCtx, insertItem, order.OrderID, i, item.Identifier); err != nil {
				return fmt.Errorf("record order item: %w", err)
			}
		}
		return nil
	})
}

// RecordOutcome upserts the latest state of a purchase attempt.
func (r *AuditRepository) RecordOutcome(ctx context.Context, intent domain.PurchaseIntent) error {
	const stmt = `
INSERT INTO purchase_attempts (intent_id, buyer_id, buyer_handle, requester_id, quantity, status, transaction_id, order_id, detail, started_at, resolved_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (intent_id) DO UPDATE SET
	buyer_id = EXCLUDED.buyer_id,
	status = EXCLUDED.status,
	transaction_id = EXCLUDED.transaction_id,
	order_id = EXCLUDED.order_id,
	detail = EXCLUDED.detail,
	resolved_at = EXCLUDED.resolved_at`

	var buyerID *int64
	if intent.BuyerID != 0 {
		buyerID = &intent.BuyerID
	}
	var txID, orderID *string
	if intent.Transaction != nil {
		txID = &intent.Transaction.ID
	}
	if intent.OrderID != "" {
		orderID = &intent.OrderID
	}
	resolvedAt := intent.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = intent.StartedAt
	}

	_, err := r.exec(ctx, stmt,
		intent.ID, buyerID, intent.BuyerHandle, intent.RequesterID, intent.Quantity,
		string(intent.Status), txID, orderID, intent.Detail, intent.StartedAt, resolvedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidOrder
		}
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

func (r *AuditRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return querierFor(ctx, r.pool).Exec(ctx, sql, args...)
}

func (r *AuditRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return querierFor(ctx, r.pool).QueryRow(ctx, sql, args...)
}

// Ping checks the archive is reachable. Used by the health endpoint.
func (r *AuditRepository) Ping(ctx context.Context) error {
	var one int
	if err := r.queryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("ping audit db: %w", err)
	}
	return nil
}
