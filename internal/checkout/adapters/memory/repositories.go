package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/google/uuid"
)

type cartRepo struct{ st *state }

func (r cartRepo) GetOrCreate(_ context.Context, ownerID string) (*domain.Cart, error) {
	cart, ok := r.st.carts[ownerID]
	if !ok {
		now := time.Now().UTC()
		cart = domain.Cart{ID: uuid.NewString(), OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
		r.st.carts[ownerID] = cart
	}
	c := cloneCart(cart)
	return &c, nil
}

func (r cartRepo) byID(cartID string) (domain.Cart, bool) {
	for _, c := range r.st.carts {
		if c.ID == cartID {
			return c, true
		}
	}
	return domain.Cart{}, false
}

func (r cartRepo) save(cart domain.Cart) {
	cart.UpdatedAt = time.Now().UTC()
	r.st.carts[cart.OwnerID] = cart
}

func (r cartRepo) UpsertLine(_ context.Context, cartID string, line domain.CartLine) (*domain.CartLine, error) {
	cart, ok := r.byID(cartID)
	if !ok {
		return nil, ports.ErrNotFound
	}
	cart = cloneCart(cart)
	for i, existing := range cart.Lines {
		if existing.ProductID == line.ProductID {
			cart.Lines[i].Quantity += line.Quantity
			r.save(cart)
			updated := cart.Lines[i]
			return &updated, nil
		}
	}
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	cart.Lines = append(cart.Lines, line)
	r.save(cart)
	return &line, nil
}

func (r cartRepo) SetLineQuantity(_ context.Context, cartID, lineID string, qty int) error {
	cart, ok := r.byID(cartID)
	if !ok {
		return ports.ErrNotFound
	}
	cart = cloneCart(cart)
	for i := range cart.Lines {
		if cart.Lines[i].ID == lineID {
			cart.Lines[i].Quantity = qty
			r.save(cart)
			return nil
		}
	}
	return ports.ErrNotFound
}

func (r cartRepo) RemoveLine(_ context.Context, cartID, lineID string) error {
	cart, ok := r.byID(cartID)
	if !ok {
		return ports.ErrNotFound
	}
	cart = cloneCart(cart)
	for i := range cart.Lines {
		if cart.Lines[i].ID == lineID {
			cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
			r.save(cart)
			return nil
		}
	}
	return ports.ErrNotFound
}

func (r cartRepo) ClearLines(_ context.Context, cartID string) error {
	cart, ok := r.byID(cartID)
	if !ok {
		return ports.ErrNotFound
	}
	cart.Lines = nil
	r.save(cart)
	return nil
}

type orderRepo struct{ st *state }

func (r orderRepo) Create(_ context.Context, order domain.Order) error {
	if _, exists := r.st.orders[order.ID]; exists {
		return ports.ErrConflict
	}
	r.st.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepo) GetByID(_ context.Context, id string) (*domain.Order, error) {
	order, ok := r.st.orders[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	o := cloneOrder(order)
	return &o, nil
}

// LockByID is GetByID: the store lock already serializes units of work.
func (r orderRepo) LockByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.GetByID(ctx, id)
}

func (r orderRepo) ListByOwner(_ context.Context, ownerID string) ([]domain.Order, error) {
	result := []domain.Order{}
	for _, o := range r.st.orders {
		if o.OwnerID == ownerID {
			result = append(result, cloneOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r orderRepo) UpdateStatus(_ context.Context, id string, status domain.OrderStatus, updatedAt time.Time) error {
	order, ok := r.st.orders[id]
	if !ok {
		return ports.ErrNotFound
	}
	order.Status = status
	order.UpdatedAt = updatedAt
	r.st.orders[id] = order
	return nil
}

type paymentRepo struct{ st *state }

func (r paymentRepo) Create(_ context.Context, payment domain.Payment) error {
	for _, p := range r.st.payments {
		if p.PurchaseOrderID == payment.PurchaseOrderID {
			return ports.ErrConflict
		}
	}
	r.st.payments[payment.ID] = clonePayment(payment)
	return nil
}

func (r paymentRepo) LatestForOrder(_ context.Context, orderID string) (*domain.Payment, error) {
	var latest *domain.Payment
	for _, p := range r.st.payments {
		if p.OrderID != orderID {
			continue
		}
		if latest == nil || p.Attempt > latest.Attempt {
			c := clonePayment(p)
			latest = &c
		}
	}
	if latest == nil {
		return nil, ports.ErrNotFound
	}
	return latest, nil
}

func (r paymentRepo) LockByHandle(ctx context.Context, pidx, purchaseOrderID string) (*domain.Payment, error) {
	return r.FindByHandle(ctx, pidx, purchaseOrderID)
}

func (r paymentRepo) FindByHandle(_ context.Context, pidx, purchaseOrderID string) (*domain.Payment, error) {
	for _, p := range r.st.payments {
		if p.Pidx != "" && p.Pidx == pidx && p.PurchaseOrderID == purchaseOrderID {
			c := clonePayment(p)
			return &c, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (r paymentRepo) AttachHandle(_ context.Context, id string, handle ports.IntentHandle, updatedAt time.Time) error {
	p, ok := r.st.payments[id]
	if !ok {
		return ports.ErrNotFound
	}
	if p.Status != domain.PaymentInitiated {
		return ports.ErrConflict
	}
	for otherID, other := range r.st.payments {
		if otherID != id && other.Pidx == handle.Pidx {
			return ports.ErrConflict
		}
	}
	p.Pidx = handle.Pidx
	p.PaymentURL = handle.PaymentURL
	p.ExpiresAt = handle.ExpiresAt
	p.UpdatedAt = updatedAt
	r.st.payments[id] = clonePayment(p)
	return nil
}

func (r paymentRepo) UpdateStatus(_ context.Context, id string, status domain.PaymentStatus, updatedAt time.Time) error {
	p, ok := r.st.payments[id]
	if !ok {
		return ports.ErrNotFound
	}
	if status == domain.PaymentSuccess {
		for otherID, other := range r.st.payments {
			if otherID != id && other.OrderID == p.OrderID && other.Status == domain.PaymentSuccess {
				return ports.ErrConflict
			}
		}
	}
	p.Status = status
	p.UpdatedAt = updatedAt
	r.st.payments[id] = p
	return nil
}

type catalog struct{ st *state }

func (c catalog) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	p, ok := c.st.products[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return &p, nil
}

type outbox struct{ st *state }

func (o outbox) Enqueue(_ context.Context, event ports.Event) error {
	o.st.events = append(o.st.events, event)
	return nil
}
