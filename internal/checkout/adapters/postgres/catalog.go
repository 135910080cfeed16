package postgres

import (
	"context"
	"fmt"

	"github.com/dejobratic/checkout/internal/checkout/domain"
)

type Catalog struct {
	q querier
}

func (c *Catalog) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := c.q.QueryRow(ctx, `SELECT id, name, price FROM products WHERE id = $1`, id).Scan(&p.ID, &p.Name, &p.Price)
	if err != nil {
		return nil, fmt.Errorf("select product: %w", mapError(err))
	}
	return &p, nil
}
