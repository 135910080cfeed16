package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/dejobratic/checkout/internal/money"
)

// Cart is a buyer's mutable pre-purchase selection. There is one cart per owner.
type Cart struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Lines     []CartLine `json:"lines"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartLine holds one product in a cart. PriceAtAdd is informational only; checkout
// re-reads the catalog price.
type CartLine struct {
	ID         string       `json:"id"`
	ProductID  string       `json:"product_id"`
	Quantity   int          `json:"quantity"`
	PriceAtAdd money.Amount `json:"price_at_add"`
	AddedAt    time.Time    `json:"added_at"`
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Line returns the line with the given id, if it belongs to this cart.
func (c Cart) Line(lineID string) (CartLine, bool) {
	for _, l := range c.Lines {
		if l.ID == lineID {
			return l, true
		}
	}
	return CartLine{}, false
}

// ValidateQuantity rejects non-positive quantities.
func ValidateQuantity(qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be a positive integer", ErrValidation)
	}
	return nil
}

// ValidateOwner rejects an empty owner identity.
func ValidateOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("%w: owner is required", ErrValidation)
	}
	return nil
}

// Product is the catalog view the checkout core needs.
type Product struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Price money.Amount `json:"price"`
}
