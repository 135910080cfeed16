package ports

import "context"

// Tx gives access to repositories bound to one atomic unit of work.
type Tx interface {
	Carts() CartRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Catalog() Catalog
	Outbox() Outbox
}

// UnitOfWork runs fn atomically: every write made through tx commits together, or none does
// when fn returns an error.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
