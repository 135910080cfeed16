package commands_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dejobratic/checkout/internal/checkout/app/commands"
	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	order := env.placeScenarioOrder(t)
	assert.Equal(t, "450.00", order.Total.String())
	assert.Equal(t, domain.OrderPending, order.Status)

	initiated := env.initiatePayment(t, order.ID)
	assert.Equal(t, int64(45000), initiated.Payment.AmountMinor)
	assert.Equal(t, domain.PaymentInitiated, initiated.Payment.Status)

	result, err := env.reconcile.Handle(ctx, callback(initiated.Payment, "Completed", "45000"))
	require.NoError(t, err)
	assert.Equal(t, commands.ReconcilePaid, result.Outcome)
	assert.False(t, result.Replayed)
	assert.Equal(t, domain.OrderPaid, result.OrderStatus)
	assert.Equal(t, domain.PaymentSuccess, result.PaymentStatus)
	assert.Equal(t, domain.OrderPaid, env.order(t, order.ID).Status)

	replay, err := env.reconcile.Handle(ctx, callback(initiated.Payment, "Completed", "45000"))
	require.NoError(t, err)
	assert.Equal(t, commands.ReconcilePaid, replay.Outcome)
	assert.True(t, replay.Replayed)
	assert.Equal(t, domain.OrderPaid, replay.OrderStatus)

	_, err = env.reconcile.Handle(ctx, callback(initiated.Payment, "Completed", "44999"))
	require.ErrorIs(t, err, domain.ErrAmountMismatch)
	assert.Equal(t, domain.OrderPaid, env.order(t, order.ID).Status)

	var succeeded int
	for _, e := range env.store.Events() {
		if e.Topic == ports.TopicPaymentSucceeded {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestReconcilePayment(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*testEnv, *domain.Order, *domain.Payment) {
		t.Helper()
		env := newTestEnv(t)
		order := env.placeScenarioOrder(t)
		return env, order, env.initiatePayment(t, order.ID).Payment
	}

	t.Run("amount mismatch leaves state untouched", func(t *testing.T) {
		env, order, payment := setup(t)

		_, err := env.reconcile.Handle(ctx, callback(payment, "Completed", "44999"))

		require.ErrorIs(t, err, domain.ErrAmountMismatch)
		assert.Equal(t, domain.OrderPending, env.order(t, order.ID).Status)
		assert.Equal(t, domain.PaymentInitiated, env.store.Payments(order.ID)[0].Status)
	})

	t.Run("unknown handle is unverified", func(t *testing.T) {
		env, order, payment := setup(t)
		cb := callback(payment, "Completed", "45000")
		cb.Pidx = "forged"

		_, err := env.reconcile.Handle(ctx, cb)

		require.ErrorIs(t, err, domain.ErrUnverifiedPayment)
		assert.Equal(t, domain.OrderPending, env.order(t, order.ID).Status)
	})

	t.Run("handle with wrong key is unverified", func(t *testing.T) {
		env, order, payment := setup(t)
		cb := callback(payment, "Completed", "45000")
		cb.PurchaseOrderID = domain.PurchaseOrderID(prefix, "ORD-other", 1)

		_, err := env.reconcile.Handle(ctx, cb)

		require.ErrorIs(t, err, domain.ErrUnverifiedPayment)
		assert.Equal(t, domain.PaymentInitiated, env.store.Payments(order.ID)[0].Status)
	})

	t.Run("failure callback marks payment failed and keeps order pending", func(t *testing.T) {
		env, order, payment := setup(t)

		result, err := env.reconcile.Handle(ctx, callback(payment, "User canceled", "45000"))

		require.NoError(t, err)
		assert.Equal(t, commands.ReconcileFailed, result.Outcome)
		assert.Equal(t, domain.PaymentFailed, result.PaymentStatus)
		assert.Equal(t, domain.OrderPending, env.order(t, order.ID).Status)

		replay, err := env.reconcile.Handle(ctx, callback(payment, "User canceled", "45000"))
		require.NoError(t, err)
		assert.True(t, replay.Replayed)
	})

	t.Run("success after failure is a state conflict", func(t *testing.T) {
		env, order, payment := setup(t)
		_, err := env.reconcile.Handle(ctx, callback(payment, "Expired", "45000"))
		require.NoError(t, err)

		_, err = env.reconcile.Handle(ctx, callback(payment, "Completed", "45000"))

		require.ErrorIs(t, err, domain.ErrStateConflict)
		assert.Equal(t, domain.OrderPending, env.order(t, order.ID).Status)
	})

	t.Run("pending status does not mutate", func(t *testing.T) {
		env, order, payment := setup(t)

		result, err := env.reconcile.Handle(ctx, callback(payment, "Pending", "45000"))

		require.NoError(t, err)
		assert.Equal(t, commands.ReconcilePending, result.Outcome)
		assert.Equal(t, domain.PaymentInitiated, env.store.Payments(order.ID)[0].Status)
	})

	t.Run("unknown gateway status is rejected", func(t *testing.T) {
		env, _, payment := setup(t)

		_, err := env.reconcile.Handle(ctx, callback(payment, "Refunded", "45000"))

		require.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("missing fields are rejected", func(t *testing.T) {
		env, _, payment := setup(t)

		_, err := env.reconcile.Handle(ctx, commands.ReconcilePaymentCommand{Pidx: payment.Pidx, Status: "Completed"})
		require.ErrorIs(t, err, domain.ErrValidation)

		_, err = env.reconcile.Handle(ctx, callback(payment, "Completed", "450.00"))
		require.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("success for cancelled order is recorded and flagged for review", func(t *testing.T) {
		env, order, payment := setup(t)
		_, err := env.cancel.Handle(ctx, commands.CancelOrderCommand{OwnerID: buyer, OrderID: order.ID})
		require.NoError(t, err)

		result, err := env.reconcile.Handle(ctx, callback(payment, "Completed", "45000"))

		require.NoError(t, err)
		assert.True(t, result.RequiresReview)
		assert.Equal(t, domain.OrderCancelled, result.OrderStatus)
		assert.Equal(t, domain.PaymentSuccess, result.PaymentStatus)
		assert.Equal(t, domain.OrderCancelled, env.order(t, order.ID).Status)
	})

	t.Run("storage failure rolls back payment transition", func(t *testing.T) {
		env, order, payment := setup(t)
		reconcile := commands.NewReconcilePaymentCommandHandler(&faultyUoW{inner: env.store, failOrderStatus: true}, classify, nil, nil)

		_, err := reconcile.Handle(ctx, callback(payment, "Completed", "45000"))

		require.ErrorIs(t, err, errInjected)
		assert.Equal(t, domain.PaymentInitiated, env.store.Payments(order.ID)[0].Status)
		assert.Equal(t, domain.OrderPending, env.order(t, order.ID).Status)
	})
}

func TestReconcilePaymentWithVerifier(t *testing.T) {
	ctx := context.Background()

	t.Run("applies success confirmed by gateway", func(t *testing.T) {
		env := newTestEnv(t)
		order := env.placeScenarioOrder(t)
		payment := env.initiatePayment(t, order.ID).Payment
		verifier := &fakeVerifier{lookupFn: func(ctx context.Context, pidx string) (*ports.GatewayTransaction, error) {
			return &ports.GatewayTransaction{Pidx: pidx, Status: "Completed", TotalAmount: 45000}, nil
		}}
		reconcile := commands.NewReconcilePaymentCommandHandler(env.store, classify, verifier, nil)

		result, err := reconcile.Handle(ctx, callback(payment, "Completed", "45000"))

		require.NoError(t, err)
		assert.Equal(t, domain.OrderPaid, result.OrderStatus)
	})

	t.Run("gateway disagreement is unverified", func(t *testing.T) {
		env := newTestEnv(t)
		order := env.placeScenarioOrder(t)
		payment := env.initiatePayment(t, order.ID).Payment
		verifier := &fakeVerifier{lookupFn: func(ctx context.Context, pidx string) (*ports.GatewayTransaction, error) {
			return &ports.GatewayTransaction{Pidx: pidx, Status: "Pending", TotalAmount: 45000}, nil
		}}
		reconcile := commands.NewReconcilePaymentCommandHandler(env.store, classify, verifier, nil)

		_, err := reconcile.Handle(ctx, callback(payment, "Completed", "45000"))

		require.ErrorIs(t, err, domain.ErrUnverifiedPayment)
		assert.Equal(t, domain.OrderPending, env.order(t, order.ID).Status)
	})

	t.Run("lookup failure is gateway unavailable", func(t *testing.T) {
		env := newTestEnv(t)
		order := env.placeScenarioOrder(t)
		payment := env.initiatePayment(t, order.ID).Payment
		verifier := &fakeVerifier{lookupFn: func(ctx context.Context, pidx string) (*ports.GatewayTransaction, error) {
			return nil, context.DeadlineExceeded
		}}
		reconcile := commands.NewReconcilePaymentCommandHandler(env.store, classify, verifier, nil)

		_, err := reconcile.Handle(ctx, callback(payment, "Completed", "45000"))

		require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
		assert.Equal(t, domain.PaymentInitiated, env.store.Payments(order.ID)[0].Status)
	})

	t.Run("callbacks matching no payment skip the gateway", func(t *testing.T) {
		env := newTestEnv(t)
		order := env.placeScenarioOrder(t)
		payment := env.initiatePayment(t, order.ID).Payment
		var lookups atomic.Int32
		verifier := &fakeVerifier{lookupFn: func(ctx context.Context, pidx string) (*ports.GatewayTransaction, error) {
			lookups.Add(1)
			return nil, domain.ErrGatewayUnavailable
		}}
		reconcile := commands.NewReconcilePaymentCommandHandler(env.store, classify, verifier, nil)

		_, err := reconcile.Handle(ctx, commands.ReconcilePaymentCommand{Pidx: "forged", PurchaseOrderID: "nope", Status: "Completed", Amount: "1"})
		require.ErrorIs(t, err, domain.ErrUnverifiedPayment)

		_, err = reconcile.Handle(ctx, callback(payment, "Completed", "44999"))
		require.ErrorIs(t, err, domain.ErrAmountMismatch)

		assert.Zero(t, lookups.Load())
		assert.Equal(t, domain.OrderPending, env.order(t, order.ID).Status)
	})
}

func TestReconcilePaymentConcurrentCallbacks(t *testing.T) {
	env := newTestEnv(t)
	order := env.placeScenarioOrder(t)
	payment := env.initiatePayment(t, order.ID).Payment

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := env.reconcile.Handle(context.Background(), callback(payment, "Completed", "45000"))
			if err != nil {
				t.Errorf("reconcile: %v", err)
				return
			}
			if !result.Replayed {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, domain.OrderPaid, env.order(t, order.ID).Status)
}
