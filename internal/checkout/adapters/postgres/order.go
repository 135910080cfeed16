package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/jackc/pgx/v5"
)

const selectOrder = `
	SELECT id, owner_id, subtotal, total, status, created_at, updated_at
	FROM orders
`

type OrderRepository struct {
	q querier
}

// Create inserts the order and its items in one round trip.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO orders (id, owner_id, subtotal, total, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, order.ID, order.OwnerID, order.Subtotal, order.Total, order.Status, order.CreatedAt, order.UpdatedAt)
	for i, item := range order.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, position, product_id, product_name, unit_price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, order.ID, i, item.ProductID, item.ProductName, item.UnitPrice, item.Quantity)
	}

	results := r.q.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert order: %w", mapError(err))
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("insert order: %w", mapError(err))
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.get(ctx, selectOrder+` WHERE id = $1`, id)
}

func (r *OrderRepository) LockByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.get(ctx, selectOrder+` WHERE id = $1 FOR UPDATE`, id)
}

func (r *OrderRepository) get(ctx context.Context, query, id string) (*domain.Order, error) {
	order, err := scanOrder(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("select order: %w", mapError(err))
	}

	items, err := r.items(ctx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Order, error) {
	rows, err := r.q.Query(ctx, selectOrder+` WHERE owner_id = $1 ORDER BY created_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	orders := []domain.Order{}
	var ids []string
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
		ids = append(ids, order.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	if len(ids) == 0 {
		return orders, nil
	}

	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, updatedAt time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3
	`, status, updatedAt, id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) items(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := r.q.Query(ctx, `
		SELECT order_id, product_id, product_name, unit_price, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			item    domain.OrderItem
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.UnitPrice, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[orderID] = append(items[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var order domain.Order
	if err := row.Scan(
		&order.ID,
		&order.OwnerID,
		&order.Subtotal,
		&order.Total,
		&order.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &order, nil
}
