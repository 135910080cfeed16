package ports

import (
	"context"
	"errors"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/domain"
)

var (
	// ErrNotFound is returned when the requested record does not exist in the scope queried.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("record already exists")
)

// CartRepository persists carts and their lines. Every line operation is scoped to a cart.
type CartRepository interface {
	// GetOrCreate returns the owner's cart, creating it lazily, and locks it for the rest of the transaction.
	GetOrCreate(ctx context.Context, ownerID string) (*domain.Cart, error)
	// UpsertLine inserts the line or increments the quantity of the existing line for the same product.
	UpsertLine(ctx context.Context, cartID string, line domain.CartLine) (*domain.CartLine, error)
	SetLineQuantity(ctx context.Context, cartID, lineID string, qty int) error
	RemoveLine(ctx context.Context, cartID, lineID string) error
	ClearLines(ctx context.Context, cartID string) error
}

// OrderRepository persists orders together with their items.
type OrderRepository interface {
	Create(ctx context.Context, order domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	// LockByID loads the order and holds a row lock until the transaction ends.
	LockByID(ctx context.Context, id string) (*domain.Order, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, updatedAt time.Time) error
}

// PaymentRepository persists payment attempts.
type PaymentRepository interface {
	Create(ctx context.Context, payment domain.Payment) error
	// LatestForOrder returns the attempt with the highest attempt number.
	LatestForOrder(ctx context.Context, orderID string) (*domain.Payment, error)
	// FindByHandle matches on both the gateway handle and the idempotency key without locking.
	FindByHandle(ctx context.Context, pidx, purchaseOrderID string) (*domain.Payment, error)
	// LockByHandle is FindByHandle holding a row lock. Lock the owning order first.
	LockByHandle(ctx context.Context, pidx, purchaseOrderID string) (*domain.Payment, error)
	// AttachHandle stores the gateway handle on a payment that is still INITIATED.
	AttachHandle(ctx context.Context, id string, handle IntentHandle, updatedAt time.Time) error
	UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, updatedAt time.Time) error
}

// Catalog exposes current product data.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}
