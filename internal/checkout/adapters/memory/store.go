// Package memory provides an in-process implementation of the checkout storage ports,
// useful for local development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
)

// Store holds all checkout state behind a single lock. Each unit of work runs with the
// lock held and is rolled back to a snapshot when it fails.
type Store struct {
	mu    sync.Mutex
	state state
}

type state struct {
	carts    map[string]domain.Cart
	orders   map[string]domain.Order
	payments map[string]domain.Payment
	products map[string]domain.Product
	events   []ports.Event
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{state: state{
		carts:    make(map[string]domain.Cart),
		orders:   make(map[string]domain.Order),
		payments: make(map[string]domain.Payment),
		products: make(map[string]domain.Product),
	}}
}

// Do implements ports.UnitOfWork.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, &tx{st: &s.state}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// PutProduct adds or replaces a catalog product.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = p
}

// Events returns the events recorded by committed units of work.
func (s *Store) Events() []ports.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.Event, len(s.state.events))
	copy(out, s.state.events)
	return out
}

// Payments returns every stored payment for an order, in no particular order.
func (s *Store) Payments(orderID string) []domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Payment
	for _, p := range s.state.payments {
		if p.OrderID == orderID {
			out = append(out, clonePayment(p))
		}
	}
	return out
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

func (st state) clone() state {
	out := state{
		carts:    make(map[string]domain.Cart, len(st.carts)),
		orders:   make(map[string]domain.Order, len(st.orders)),
		payments: make(map[string]domain.Payment, len(st.payments)),
		products: make(map[string]domain.Product, len(st.products)),
		events:   make([]ports.Event, len(st.events)),
	}
	for k, v := range st.carts {
		out.carts[k] = cloneCart(v)
	}
	for k, v := range st.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, v := range st.payments {
		out.payments[k] = clonePayment(v)
	}
	for k, v := range st.products {
		out.products[k] = v
	}
	copy(out.events, st.events)
	return out
}

func cloneCart(c domain.Cart) domain.Cart {
	c.Lines = append([]domain.CartLine(nil), c.Lines...)
	return c
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

func clonePayment(p domain.Payment) domain.Payment {
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		p.ExpiresAt = &t
	}
	return p
}

type tx struct {
	st *state
}

func (t *tx) Carts() ports.CartRepository       { return cartRepo{t.st} }
func (t *tx) Orders() ports.OrderRepository     { return orderRepo{t.st} }
func (t *tx) Payments() ports.PaymentRepository { return paymentRepo{t.st} }
func (t *tx) Catalog() ports.Catalog            { return catalog{t.st} }
func (t *tx) Outbox() ports.Outbox              { return outbox{t.st} }

// DeleteProduct removes a product from the catalog.
func (s *Store) DeleteProduct(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.products, id)
}
