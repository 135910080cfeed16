package commands

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/dejobratic/checkout/internal/money"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultOrderIDAttempts bounds how many identifiers are tried before a collision is surfaced.
const DefaultOrderIDAttempts = 3

// errOrderIDTaken surfaces as a state conflict once every identifier attempt collided.
var errOrderIDTaken = fmt.Errorf("%w: order id already taken", domain.ErrStateConflict)

type PlaceOrderCommand struct {
	OwnerID string
}

func (c PlaceOrderCommand) Name() string { return "PlaceOrder" }

func (c PlaceOrderCommand) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("owner.id", c.OwnerID)}
}

func (c PlaceOrderCommand) Validate() error {
	return domain.ValidateOwner(c.OwnerID)
}

type PlaceOrderCommandHandler struct {
	uow        ports.UnitOfWork
	idAttempts int
	newID      func() (string, error)
	now        func() time.Time
}

func NewPlaceOrderCommandHandler(uow ports.UnitOfWork) *PlaceOrderCommandHandler {
	return &PlaceOrderCommandHandler{
		uow:        uow,
		idAttempts: DefaultOrderIDAttempts,
		newID:      generateOrderID,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle converts the owner's cart into a PENDING order in one unit of work. Prices are re-read
// from the catalog. On any failure nothing is written and the cart is left as it was.
func (h *PlaceOrderCommandHandler) Handle(ctx context.Context, cmd PlaceOrderCommand) (*domain.Order, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		orderID, err := h.newID()
		if err != nil {
			return nil, err
		}

		order, err := h.place(ctx, cmd.OwnerID, orderID)
		if errors.Is(err, errOrderIDTaken) && attempt < h.idAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}
		return order, nil
	}
}

func (h *PlaceOrderCommandHandler) place(ctx context.Context, ownerID, orderID string) (*domain.Order, error) {
	var order domain.Order
	err := h.uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
		cart, err := tx.Carts().GetOrCreate(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}
		if cart.IsEmpty() {
			return domain.ErrEmptyCart
		}

		items := make([]domain.OrderItem, 0, len(cart.Lines))
		subtotal := money.Zero
		for _, line := range cart.Lines {
			product, err := tx.Catalog().GetProduct(ctx, line.ProductID)
			if err != nil {
				if errors.Is(err, ports.ErrNotFound) {
					return fmt.Errorf("%w: product %s is no longer available", domain.ErrNotFound, line.ProductID)
				}
				return fmt.Errorf("load product %s: %w", line.ProductID, err)
			}
			item := domain.OrderItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				UnitPrice:   product.Price,
				Quantity:    line.Quantity,
			}
			items = append(items, item)
			subtotal = subtotal.Add(item.LineTotal())
		}

		now := h.now()
		order = domain.Order{
			ID:        orderID,
			OwnerID:   ownerID,
			Items:     items,
			Subtotal:  subtotal,
			Total:     subtotal,
			Status:    domain.OrderPending,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := tx.Orders().Create(ctx, order); err != nil {
			if errors.Is(err, ports.ErrConflict) {
				return errOrderIDTaken
			}
			return fmt.Errorf("create order: %w", err)
		}
		if err := tx.Carts().ClearLines(ctx, cart.ID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		return tx.Outbox().Enqueue(ctx, ports.Event{
			Topic: ports.TopicOrderPlaced,
			Key:   order.ID,
			Payload: ports.OrderPlaced{
				OrderID: order.ID,
				OwnerID: order.OwnerID,
				Total:   order.Total.String(),
				Items:   len(order.Items),
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func generateOrderID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate order id: %w", err)
	}
	return "ORD-" + hex.EncodeToString(buf), nil
}
