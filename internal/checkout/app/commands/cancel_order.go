package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"go.opentelemetry.io/otel/attribute"
)

type CancelOrderCommand struct {
	OwnerID string
	OrderID string
}

func (c CancelOrderCommand) Name() string { return "CancelOrder" }

func (c CancelOrderCommand) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("owner.id", c.OwnerID),
		attribute.String("order.id", c.OrderID),
	}
}

func (c CancelOrderCommand) Validate() error {
	if err := domain.ValidateOwner(c.OwnerID); err != nil {
		return err
	}
	if c.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", domain.ErrValidation)
	}
	return nil
}

type CancelOrderCommandHandler struct {
	uow ports.UnitOfWork
	now func() time.Time
}

func NewCancelOrderCommandHandler(uow ports.UnitOfWork) *CancelOrderCommandHandler {
	return &CancelOrderCommandHandler{uow: uow, now: func() time.Time { return time.Now().UTC() }}
}

// Handle moves a PENDING order owned by the caller to CANCELLED. Items are kept.
func (h *CancelOrderCommandHandler) Handle(ctx context.Context, cmd CancelOrderCommand) (*domain.Order, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var order *domain.Order
	err := h.uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		order, err = lockOwnedOrder(ctx, tx, cmd.OwnerID, cmd.OrderID)
		if err != nil {
			return err
		}

		now := h.now()
		if err := order.TransitionTo(domain.OrderCancelled, now); err != nil {
			return err
		}
		if err := tx.Orders().UpdateStatus(ctx, order.ID, order.Status, now); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		return tx.Outbox().Enqueue(ctx, ports.Event{
			Topic:      ports.TopicOrderCancelled,
			Key:        order.ID,
			Payload:    ports.OrderCancelled{OrderID: order.ID, OwnerID: order.OwnerID},
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}
