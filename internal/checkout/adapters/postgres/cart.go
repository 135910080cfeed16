package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/google/uuid"
)

type CartRepository struct {
	q querier
}

func (r *CartRepository) GetOrCreate(ctx context.Context, ownerID string) (*domain.Cart, error) {
	now := time.Now().UTC()
	_, err := r.q.Exec(ctx, `
		INSERT INTO carts (id, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (owner_id) DO NOTHING
	`, uuid.NewString(), ownerID, now)
	if err != nil {
		return nil, fmt.Errorf("insert cart: %w", err)
	}

	var cart domain.Cart
	err = r.q.QueryRow(ctx, `
		SELECT id, owner_id, created_at, updated_at
		FROM carts
		WHERE owner_id = $1
		FOR UPDATE
	`, ownerID).Scan(&cart.ID, &cart.OwnerID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("select cart: %w", mapError(err))
	}

	rows, err := r.q.Query(ctx, `
		SELECT id, product_id, quantity, price_at_add, added_at
		FROM cart_lines
		WHERE cart_id = $1
		ORDER BY added_at, id
	`, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.Quantity, &line.PriceAtAdd, &line.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		cart.Lines = append(cart.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}

	return &cart, nil
}

func (r *CartRepository) UpsertLine(ctx context.Context, cartID string, line domain.CartLine) (*domain.CartLine, error) {
	if line.ID == "" {
		line.ID = uuid.NewString()
	}

	var stored domain.CartLine
	err := r.q.QueryRow(ctx, `
		INSERT INTO cart_lines (id, cart_id, product_id, quantity, price_at_add, added_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity
		RETURNING id, product_id, quantity, price_at_add, added_at
	`, line.ID, cartID, line.ProductID, line.Quantity, line.PriceAtAdd, line.AddedAt).Scan(
		&stored.ID, &stored.ProductID, &stored.Quantity, &stored.PriceAtAdd, &stored.AddedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert cart line: %w", mapError(err))
	}

	return &stored, r.touch(ctx, cartID)
}

func (r *CartRepository) SetLineQuantity(ctx context.Context, cartID, lineID string, qty int) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE cart_lines SET quantity = $1
		WHERE id = $2 AND cart_id = $3
	`, qty, lineID, cartID)
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return r.touch(ctx, cartID)
}

func (r *CartRepository) RemoveLine(ctx context.Context, cartID, lineID string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM cart_lines WHERE id = $1 AND cart_id = $2`, lineID, cartID)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return r.touch(ctx, cartID)
}

func (r *CartRepository) ClearLines(ctx context.Context, cartID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart lines: %w", err)
	}
	return r.touch(ctx, cartID)
}

func (r *CartRepository) touch(ctx context.Context, cartID string) error {
	if _, err := r.q.Exec(ctx, `UPDATE carts SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), cartID); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}
