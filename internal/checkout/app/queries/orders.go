package queries

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
)

// GetOrderQuery represents a request to retrieve one of the caller's orders.
type GetOrderQuery struct {
	OwnerID string
	OrderID string
}

// Validate ensures the query has valid parameters.
func (q GetOrderQuery) Validate() error {
	if err := domain.ValidateOwner(q.OwnerID); err != nil {
		return err
	}
	if strings.TrimSpace(q.OrderID) == "" {
		return fmt.Errorf("%w: order_id is required", domain.ErrValidation)
	}
	return nil
}

// OrderView is an order together with its most recent payment attempt, if any.
type OrderView struct {
	domain.Order
	Payment *domain.Payment `json:"payment,omitempty"`
}

// GetOrderQueryHandler executes GetOrderQuery. Orders owned by someone else are reported as not found.
type GetOrderQueryHandler struct {
	uow ports.UnitOfWork
}

func NewGetOrderQueryHandler(uow ports.UnitOfWork) *GetOrderQueryHandler {
	return &GetOrderQueryHandler{uow: uow}
}

func (h *GetOrderQueryHandler) Handle(ctx context.Context, query GetOrderQuery) (*OrderView, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	var view *OrderView
	err := h.uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
		order, err := tx.Orders().GetByID(ctx, query.OrderID)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return fmt.Errorf("%w: order %s", domain.ErrNotFound, query.OrderID)
			}
			return fmt.Errorf("load order: %w", err)
		}
		if !order.OwnedBy(query.OwnerID) {
			return fmt.Errorf("%w: order %s", domain.ErrNotFound, query.OrderID)
		}

		payment, err := tx.Payments().LatestForOrder(ctx, order.ID)
		if err != nil && !errors.Is(err, ports.ErrNotFound) {
			return fmt.Errorf("load payment: %w", err)
		}

		view = &OrderView{Order: *order, Payment: payment}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ListOrdersQuery lists the caller's orders, newest first.
type ListOrdersQuery struct {
	OwnerID string
}

type ListOrdersQueryHandler struct {
	uow ports.UnitOfWork
}

func NewListOrdersQueryHandler(uow ports.UnitOfWork) *ListOrdersQueryHandler {
	return &ListOrdersQueryHandler{uow: uow}
}

func (h *ListOrdersQueryHandler) Handle(ctx context.Context, query ListOrdersQuery) ([]domain.Order, error) {
	if err := domain.ValidateOwner(query.OwnerID); err != nil {
		return nil, err
	}

	var orders []domain.Order
	err := h.uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		orders, err = tx.Orders().ListByOwner(ctx, query.OwnerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}
