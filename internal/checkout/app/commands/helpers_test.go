package commands_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/adapters/memory"
	"github.com/dejobratic/checkout/internal/checkout/app/commands"
	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/dejobratic/checkout/internal/money"
	"github.com/stretchr/testify/require"
)

const (
	buyer    = "buyer-1"
	stranger = "buyer-2"
	prefix   = "TEST-"
)

type fakeGateway struct {
	mu         sync.Mutex
	calls      int32
	intents    []ports.PaymentIntent
	initiateFn func(ctx context.Context, intent ports.PaymentIntent) (*ports.IntentHandle, error)
}

func (g *fakeGateway) Initiate(ctx context.Context, intent ports.PaymentIntent) (*ports.IntentHandle, error) {
	n := atomic.AddInt32(&g.calls, 1)
	g.mu.Lock()
	g.intents = append(g.intents, intent)
	g.mu.Unlock()

	if g.initiateFn != nil {
		return g.initiateFn(ctx, intent)
	}
	expires := time.Now().UTC().Add(30 * time.Minute)
	return &ports.IntentHandle{
		Pidx:       fmt.Sprintf("pidx-%s-%d", intent.PurchaseOrderID, n),
		PaymentURL: "https://pay.example.test/?pidx=" + intent.PurchaseOrderID,
		ExpiresAt:  &expires,
	}, nil
}

func (g *fakeGateway) Calls() int {
	return int(atomic.LoadInt32(&g.calls))
}

func (g *fakeGateway) LastIntent() ports.PaymentIntent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.intents[len(g.intents)-1]
}

type fakeVerifier struct {
	lookupFn func(ctx context.Context, pidx string) (*ports.GatewayTransaction, error)
}

func (v *fakeVerifier) Lookup(ctx context.Context, pidx string) (*ports.GatewayTransaction, error) {
	return v.lookupFn(ctx, pidx)
}

func classify(status string) (ports.GatewayResult, error) {
	switch strings.ToLower(status) {
	case "completed":
		return ports.GatewayCompleted, nil
	case "pending", "initiated":
		return ports.GatewayPending, nil
	case "user canceled", "expired", "failed":
		return ports.GatewayFailed, nil
	}
	return "", fmt.Errorf("%w: unsupported status %q", domain.ErrValidation, status)
}

type testEnv struct {
	store     *memory.Store
	gateway   *fakeGateway
	cart      *commands.CartCommandHandler
	place     *commands.PlaceOrderCommandHandler
	initiate  *commands.InitiatePaymentCommandHandler
	reconcile *commands.ReconcilePaymentCommandHandler
	cancel    *commands.CancelOrderCommandHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "A", Name: "Widget", Price: money.MustNew("100")})
	store.PutProduct(domain.Product{ID: "B", Name: "Gadget", Price: money.MustNew("250")})

	gateway := &fakeGateway{}
	return &testEnv{
		store:     store,
		gateway:   gateway,
		cart:      commands.NewCartCommandHandler(store),
		place:     commands.NewPlaceOrderCommandHandler(store),
		initiate:  commands.NewInitiatePaymentCommandHandler(store, gateway, commands.InitiatePaymentConfig{PurchaseOrderPrefix: prefix, MaxAttempts: 2}),
		reconcile: commands.NewReconcilePaymentCommandHandler(store, classify, nil, nil),
		cancel:    commands.NewCancelOrderCommandHandler(store),
	}
}

func (e *testEnv) addLine(t *testing.T, owner, product string, qty int) *domain.Cart {
	t.Helper()
	cart, err := e.cart.AddLine(context.Background(), commands.AddCartLineCommand{OwnerID: owner, ProductID: product, Quantity: qty})
	require.NoError(t, err)
	return cart
}

// placeScenarioOrder places 2×A@100 + 1×B@250.
func (e *testEnv) placeScenarioOrder(t *testing.T) *domain.Order {
	t.Helper()
	e.addLine(t, buyer, "A", 2)
	e.addLine(t, buyer, "B", 1)
	order, err := e.place.Handle(context.Background(), commands.PlaceOrderCommand{OwnerID: buyer})
	require.NoError(t, err)
	return order
}

func (e *testEnv) initiatePayment(t *testing.T, orderID string) *commands.InitiatePaymentResult {
	t.Helper()
	result, err := e.initiate.Handle(context.Background(), commands.InitiatePaymentCommand{OwnerID: buyer, OrderID: orderID})
	require.NoError(t, err)
	return result
}

func (e *testEnv) order(t *testing.T, id string) domain.Order {
	t.Helper()
	var order domain.Order
	err := e.store.Do(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		o, err := tx.Orders().GetByID(ctx, id)
		if err != nil {
			return err
		}
		order = *o
		return nil
	})
	require.NoError(t, err)
	return order
}

func (e *testEnv) cartOf(t *testing.T, owner string) domain.Cart {
	t.Helper()
	var cart domain.Cart
	err := e.store.Do(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		c, err := tx.Carts().GetOrCreate(ctx, owner)
		if err != nil {
			return err
		}
		cart = *c
		return nil
	})
	require.NoError(t, err)
	return cart
}

func callback(p *domain.Payment, status, amount string) commands.ReconcilePaymentCommand {
	return commands.ReconcilePaymentCommand{
		Pidx:            p.Pidx,
		PurchaseOrderID: p.PurchaseOrderID,
		Status:          status,
		Amount:          amount,
	}
}

var errInjected = errors.New("injected storage failure")

// faultyUoW runs units of work against the wrapped store but lets a test break one repository call.
type faultyUoW struct {
	inner           ports.UnitOfWork
	failClearCart   bool
	failOrderStatus bool
}

func (u *faultyUoW) Do(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	return u.inner.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
		return fn(ctx, faultyTx{Tx: tx, u: u})
	})
}

type faultyTx struct {
	ports.Tx
	u *faultyUoW
}

func (t faultyTx) Carts() ports.CartRepository {
	return faultyCarts{CartRepository: t.Tx.Carts(), fail: t.u.failClearCart}
}

func (t faultyTx) Orders() ports.OrderRepository {
	return faultyOrders{OrderRepository: t.Tx.Orders(), fail: t.u.failOrderStatus}
}

type faultyCarts struct {
	ports.CartRepository
	fail bool
}

func (c faultyCarts) ClearLines(ctx context.Context, cartID string) error {
	if c.fail {
		return errInjected
	}
	return c.CartRepository.ClearLines(ctx, cartID)
}

type faultyOrders struct {
	ports.OrderRepository
	fail bool
}

func (o faultyOrders) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, updatedAt time.Time) error {
	if o.fail {
		return errInjected
	}
	return o.OrderRepository.UpdateStatus(ctx, id, status, updatedAt)
}
