package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/socialboost/panel/internal/models"
)

const orderCols = `id, user_id, service_id, quantity, link, price::text, status,
	provider_order_id, start_count, current_count, remains, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	var price string
	err := row.Scan(&o.ID, &o.UserID, &o.ServiceID, &o.Quantity, &o.Link, &price, &o.Status,
		&o.ProviderOrderID, &o.StartCount, &o.CurrentCount, &o.Remains, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}
	return o, nil
}

// InsertOrder persists a new order in the pending state. The caller supplies
// the order ID so the ledger debit recorded beforehand can reference it.
func (db *DB) InsertOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	out, err := scanOrder(db.Pool.QueryRow(ctx,
		`INSERT INTO orders (id, user_id, service_id, quantity, link, price, status)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, 'pending')
		 RETURNING `+orderCols,
		order.ID, order.UserID, order.ServiceID, order.Quantity, order.Link, order.Price.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return out, nil
}

// GetOrder retrieves an order by ID
func (db *DB) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	o, err := scanOrder(db.Pool.QueryRow(ctx,
		"SELECT "+orderCols+" FROM orders WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// ListUserOrders retrieves a user's orders, newest first, optionally
// filtered by status.
func (db *DB) ListUserOrders(ctx context.Context, userID uuid.UUID, status string) ([]models.Order, error) {
	query := "SELECT " + orderCols + " FROM orders WHERE user_id = $1"
	args := []any{userID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"
	return db.listOrders(ctx, query, args...)
}

// ListOrdersByStatus retrieves all orders in the given status, oldest first.
func (db *DB) ListOrdersByStatus(ctx context.Context, status string) ([]models.Order, error) {
	return db.listOrders(ctx,
		"SELECT "+orderCols+" FROM orders WHERE status = $1 ORDER BY created_at ASC", status)
}

func (db *DB) listOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// MarkOrderDispatched records the upstream order reference and moves a
// pending order to in_progress. The status guard makes the transition a
// compare-and-swap: a concurrently canceled order is left untouched.
func (db *DB) MarkOrderDispatched(ctx context.Context, id uuid.UUID, providerOrderID string) (*models.Order, error) {
	return db.updatePending(ctx, id,
		`UPDATE orders SET status = 'in_progress', provider_order_id = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+orderCols, providerOrderID)
}

// MarkOrderFailed moves a pending order to failed after a dispatch error.
func (db *DB) MarkOrderFailed(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return db.updatePending(ctx, id,
		`UPDATE orders SET status = 'failed', updated_at = now()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+orderCols)
}

func (db *DB) updatePending(ctx context.Context, id uuid.UUID, query string, extra ...any) (*models.Order, error) {
	args := append([]any{id}, extra...)
	o, err := scanOrder(db.Pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, gerr := db.GetOrder(ctx, id); errors.Is(gerr, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, ErrStateConflict
		}
		return nil, fmt.Errorf("failed to update order: %w", err)
	}
	return o, nil
}

// CancelOrder cancels an order if it is still pending. The row is locked for
// the duration of the check so a racing dispatch or reconcile cannot slip a
// transition in between.
func (db *DB) CancelOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, "SELECT status FROM orders WHERE id = $1 FOR UPDATE", id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if status != models.OrderPending {
		return nil, ErrStateConflict
	}

	o, err := scanOrder(tx.QueryRow(ctx,
		`UPDATE orders SET status = 'canceled', updated_at = now()
		 WHERE id = $1
		 RETURNING `+orderCols, id))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return o, nil
}

// ApplyOrderProgress refreshes delivery telemetry and, only while the order
// is still in a non-terminal state, applies the mapped upstream status. The
// CASE guard keeps terminal statuses from ever regressing, regardless of
// what the upstream reports.
func (db *DB) ApplyOrderProgress(ctx context.Context, id uuid.UUID, status string, startCount, currentCount, remains *int) (*models.Order, error) {
	o, err := scanOrder(db.Pool.QueryRow(ctx,
		`UPDATE orders SET
			status = CASE WHEN status IN ('pending', 'in_progress') THEN $2 ELSE status END,
			start_count = COALESCE($3, start_count),
			current_count = COALESCE($4, current_count),
			remains = COALESCE($5, remains),
			updated_at = now()
		 WHERE id = $1
		 RETURNING `+orderCols,
		id, status, startCount, currentCount, remains))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update order progress: %w", err)
	}
	return o, nil
}

// CountOrdersByStatus returns order counts per status for the admin
// dashboard.
func (db *DB) CountOrdersByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := db.Pool.Query(ctx, "SELECT status, COUNT(*) FROM orders GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// TotalRevenue sums the captured price of completed and in-progress orders.
func (db *DB) TotalRevenue(ctx context.Context) (decimal.Decimal, error) {
	var total string
	err := db.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(price), 0)::text FROM orders
		 WHERE status IN ('completed', 'in_progress')`).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum revenue: %w", err)
	}
	return decimal.NewFromString(total)
}
