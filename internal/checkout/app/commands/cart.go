package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"go.opentelemetry.io/otel/attribute"
)

type AddCartLineCommand struct {
	OwnerID   string
	ProductID string
	Quantity  int
}

func (c AddCartLineCommand) Name() string { return "AddCartLine" }

func (c AddCartLineCommand) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("owner.id", c.OwnerID),
		attribute.String("product.id", c.ProductID),
		attribute.Int("cart.quantity", c.Quantity),
	}
}

func (c AddCartLineCommand) Validate() error {
	if err := domain.ValidateOwner(c.OwnerID); err != nil {
		return err
	}
	if strings.TrimSpace(c.ProductID) == "" {
		return fmt.Errorf("%w: product_id is required", domain.ErrValidation)
	}
	return domain.ValidateQuantity(c.Quantity)
}

type SetCartLineQuantityCommand struct {
	OwnerID  string
	LineID   string
	Quantity int
}

func (c SetCartLineQuantityCommand) Name() string { return "SetCartLineQuantity" }

func (c SetCartLineQuantityCommand) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("owner.id", c.OwnerID),
		attribute.String("cart.line_id", c.LineID),
		attribute.Int("cart.quantity", c.Quantity),
	}
}

func (c SetCartLineQuantityCommand) Validate() error {
	if err := domain.ValidateOwner(c.OwnerID); err != nil {
		return err
	}
	if strings.TrimSpace(c.LineID) == "" {
		return fmt.Errorf("%w: line_id is required", domain.ErrValidation)
	}
	return domain.ValidateQuantity(c.Quantity)
}

type RemoveCartLineCommand struct {
	OwnerID string
	LineID  string
}

func (c RemoveCartLineCommand) Name() string { return "RemoveCartLine" }

func (c RemoveCartLineCommand) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("owner.id", c.OwnerID),
		attribute.String("cart.line_id", c.LineID),
	}
}

func (c RemoveCartLineCommand) Validate() error {
	if err := domain.ValidateOwner(c.OwnerID); err != nil {
		return err
	}
	if strings.TrimSpace(c.LineID) == "" {
		return fmt.Errorf("%w: line_id is required", domain.ErrValidation)
	}
	return nil
}

// CartCommandHandler handles every cart mutation. Each mutation runs in its own unit of work
// against the caller's cart and returns the resulting cart.
type CartCommandHandler struct {
	uow ports.UnitOfWork
	now func() time.Time
}

func NewCartCommandHandler(uow ports.UnitOfWork) *CartCommandHandler {
	return &CartCommandHandler{uow: uow, now: func() time.Time { return time.Now().UTC() }}
}

// AddLine adds qty of a product, incrementing the existing line for that product if there is one.
func (h *CartCommandHandler) AddLine(ctx context.Context, cmd AddCartLineCommand) (*domain.Cart, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	return h.mutate(ctx, cmd.OwnerID, func(ctx context.Context, tx ports.Tx, cart *domain.Cart) error {
		product, err := tx.Catalog().GetProduct(ctx, cmd.ProductID)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return fmt.Errorf("%w: product %s", domain.ErrNotFound, cmd.ProductID)
			}
			return fmt.Errorf("load product: %w", err)
		}

		line := domain.CartLine{
			ProductID:  product.ID,
			Quantity:   cmd.Quantity,
			PriceAtAdd: product.Price,
			AddedAt:    h.now(),
		}
		if _, err := tx.Carts().UpsertLine(ctx, cart.ID, line); err != nil {
			return fmt.Errorf("upsert cart line: %w", err)
		}
		return nil
	})
}

// SetQuantity replaces the quantity of a line in the caller's cart.
func (h *CartCommandHandler) SetQuantity(ctx context.Context, cmd SetCartLineQuantityCommand) (*domain.Cart, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	return h.mutate(ctx, cmd.OwnerID, func(ctx context.Context, tx ports.Tx, cart *domain.Cart) error {
		return lineNotFound(tx.Carts().SetLineQuantity(ctx, cart.ID, cmd.LineID, cmd.Quantity), cmd.LineID)
	})
}

// RemoveLine deletes a line from the caller's cart.
func (h *CartCommandHandler) RemoveLine(ctx context.Context, cmd RemoveCartLineCommand) (*domain.Cart, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	return h.mutate(ctx, cmd.OwnerID, func(ctx context.Context, tx ports.Tx, cart *domain.Cart) error {
		return lineNotFound(tx.Carts().RemoveLine(ctx, cart.ID, cmd.LineID), cmd.LineID)
	})
}

func (h *CartCommandHandler) mutate(ctx context.Context, ownerID string, fn func(context.Context, ports.Tx, *domain.Cart) error) (*domain.Cart, error) {
	var result *domain.Cart
	err := h.uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
		cart, err := tx.Carts().GetOrCreate(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}
		if err := fn(ctx, tx, cart); err != nil {
			return err
		}
		result, err = tx.Carts().GetOrCreate(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("reload cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// lineNotFound maps a missing line to NotFound; the repository only sees lines of the given cart,
// so another owner's line id is indistinguishable from a nonexistent one.
func lineNotFound(err error, lineID string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("%w: cart line %s", domain.ErrNotFound, lineID)
	}
	return fmt.Errorf("update cart line: %w", err)
}

// Handler adapters so cart mutations can be wrapped by ObservableHandler.

type addCartLine struct{ h *CartCommandHandler }

func (a addCartLine) Handle(ctx context.Context, cmd AddCartLineCommand) (*domain.Cart, error) {
	return a.h.AddLine(ctx, cmd)
}

type setCartLineQuantity struct{ h *CartCommandHandler }

func (a setCartLineQuantity) Handle(ctx context.Context, cmd SetCartLineQuantityCommand) (*domain.Cart, error) {
	return a.h.SetQuantity(ctx, cmd)
}

type removeCartLine struct{ h *CartCommandHandler }

func (a removeCartLine) Handle(ctx context.Context, cmd RemoveCartLineCommand) (*domain.Cart, error) {
	return a.h.RemoveLine(ctx, cmd)
}

func (h *CartCommandHandler) AddLineHandler() Handler[AddCartLineCommand, *domain.Cart] {
	return addCartLine{h}
}

func (h *CartCommandHandler) SetQuantityHandler() Handler[SetCartLineQuantityCommand, *domain.Cart] {
	return setCartLineQuantity{h}
}

func (h *CartCommandHandler) RemoveLineHandler() Handler[RemoveCartLineCommand, *domain.Cart] {
	return removeCartLine{h}
}
