package domain

import (
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/money"
)

// Order is the immutable purchase record derived from a cart at a point in time.
// Only Status and UpdatedAt ever change after creation.
type Order struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"owner_id"`
	Items     []OrderItem  `json:"items"`
	Subtotal  money.Amount `json:"subtotal"`
	Total     money.Amount `json:"total"`
	Status    OrderStatus  `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// OrderItem is a frozen snapshot of one purchased product.
type OrderItem struct {
	ProductID   string       `json:"product_id"`
	ProductName string       `json:"product_name"`
	UnitPrice   money.Amount `json:"unit_price"`
	Quantity    int          `json:"quantity"`
}

// LineTotal returns unit price times quantity.
func (i OrderItem) LineTotal() money.Amount {
	return i.UnitPrice.MulQty(i.Quantity)
}

// OwnedBy reports whether the order belongs to ownerID.
func (o Order) OwnedBy(ownerID string) bool {
	return o.OwnerID == ownerID
}

// TransitionTo moves the order to next, enforcing the order state machine.
func (o *Order) TransitionTo(next OrderStatus, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: order %s cannot move from %s to %s", ErrStateConflict, o.ID, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}
