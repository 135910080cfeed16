package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/jackc/pgx/v5"
)

const selectPayment = `
	SELECT id, order_id, attempt, purchase_order_id, pidx, payment_url, expires_at,
	       amount_minor, status, created_at, updated_at
	FROM payments
`

type PaymentRepository struct {
	q querier
}

func (r *PaymentRepository) Create(ctx context.Context, p domain.Payment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO payments (id, order_id, attempt, purchase_order_id, pidx, payment_url, expires_at,
		                      amount_minor, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.OrderID, p.Attempt, p.PurchaseOrderID, nullable(p.Pidx), nullable(p.PaymentURL), p.ExpiresAt,
		p.AmountMinor, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", mapError(err))
	}
	return nil
}

func (r *PaymentRepository) LatestForOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	p, err := scanPayment(r.q.QueryRow(ctx, selectPayment+`
		WHERE order_id = $1
		ORDER BY attempt DESC
		LIMIT 1
	`, orderID))
	if err != nil {
		return nil, fmt.Errorf("select latest payment: %w", mapError(err))
	}
	return p, nil
}

func (r *PaymentRepository) FindByHandle(ctx context.Context, pidx, purchaseOrderID string) (*domain.Payment, error) {
	p, err := scanPayment(r.q.QueryRow(ctx, selectPayment+`
		WHERE pidx = $1 AND purchase_order_id = $2
	`, pidx, purchaseOrderID))
	if err != nil {
		return nil, fmt.Errorf("select payment by handle: %w", mapError(err))
	}
	return p, nil
}

func (r *PaymentRepository) LockByHandle(ctx context.Context, pidx, purchaseOrderID string) (*domain.Payment, error) {
	p, err := scanPayment(r.q.QueryRow(ctx, selectPayment+`
		WHERE pidx = $1 AND purchase_order_id = $2
		FOR UPDATE
	`, pidx, purchaseOrderID))
	if err != nil {
		return nil, fmt.Errorf("lock payment by handle: %w", mapError(err))
	}
	return p, nil
}

func (r *PaymentRepository) AttachHandle(ctx context.Context, id string, handle ports.IntentHandle, updatedAt time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE payments
		SET pidx = $1, payment_url = $2, expires_at = $3, updated_at = $4
		WHERE id = $5 AND status = 'INITIATED'
	`, handle.Pidx, handle.PaymentURL, handle.ExpiresAt, updatedAt, id)
	if err != nil {
		return fmt.Errorf("attach payment handle: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrConflict
	}
	return nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, updatedAt time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE payments
		SET status = $1, updated_at = $2
		WHERE id = $3
	`, status, updatedAt, id)
	if err != nil {
		return fmt.Errorf("update payment status: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p         domain.Payment
		pidx, url *string
	)
	if err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.Attempt,
		&p.PurchaseOrderID,
		&pidx,
		&url,
		&p.ExpiresAt,
		&p.AmountMinor,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if pidx != nil {
		p.Pidx = *pidx
	}
	if url != nil {
		p.PaymentURL = *url
	}
	return &p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
