//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/adapters/postgres"
	"github.com/dejobratic/checkout/internal/checkout/app/commands"
	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/dejobratic/checkout/internal/database/dbtest"
	"github.com/dejobratic/checkout/internal/money"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedProducts(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO products (id, name, price) VALUES ('A', 'Widget', 100), ('B', 'Gadget', 250)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price
	`)
	require.NoError(t, err)
}

func setup(t *testing.T) (*pgxpool.Pool, *postgres.UnitOfWork) {
	t.Helper()
	pool := dbtest.NewPool(t)
	seedProducts(t, pool)
	return pool, postgres.NewUnitOfWork(pool)
}

func TestCartRepository(t *testing.T) {
	_, uow := setup(t)
	ctx := context.Background()

	var cartID, lineID string
	err := uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
		cart, err := tx.Carts().GetOrCreate(ctx, "buyer-1")
		if err != nil {
			return err
		}
		cartID = cart.ID

		line := domain.CartLine{ProductID: "A", Quantity: 1, PriceAtAdd: money.MustNew("100"), AddedAt: time.Now().UTC()}
		first, err := tx.Carts().UpsertLine(ctx, cart.ID, line)
		if err != nil {
			return err
		}
		lineID = first.ID

		line.Quantity = 2
		second, err := tx.Carts().UpsertLine(ctx, cart.ID, line)
		if err != nil {
			return err
		}
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 3, second.Quantity)
		return nil
	})
	require.NoError(t, err)

	t.Run("get or create returns the same cart", func(t *testing.T) {
		err := uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
			cart, err := tx.Carts().GetOrCreate(ctx, "buyer-1")
			require.NoError(t, err)
			assert.Equal(t, cartID, cart.ID)
			require.Len(t, cart.Lines, 1)
			assert.Equal(t, "100.00", cart.Lines[0].PriceAtAdd.String())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("line operations are scoped to the cart", func(t *testing.T) {
		err := uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
			other, err := tx.Carts().GetOrCreate(ctx, "buyer-2")
			require.NoError(t, err)

			assert.ErrorIs(t, tx.Carts().SetLineQuantity(ctx, other.ID, lineID, 9), ports.ErrNotFound)
			assert.ErrorIs(t, tx.Carts().RemoveLine(ctx, other.ID, lineID), ports.ErrNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		errBoom := errors.New("boom")
		err := uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
			require.NoError(t, tx.Carts().ClearLines(ctx, cartID))
			return errBoom
		})
		require.ErrorIs(t, err, errBoom)

		err = uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
			cart, err := tx.Carts().GetOrCreate(ctx, "buyer-1")
			require.NoError(t, err)
			assert.Len(t, cart.Lines, 1)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestOrderAndPaymentRepositories(t *testing.T) {
	_, uow := setup(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	order := domain.Order{
		ID:      "ORD-1",
		OwnerID: "buyer-1",
		Items: []domain.OrderItem{
			{ProductID: "A", ProductName: "Widget", UnitPrice: money.MustNew("100"), Quantity: 2},
			{ProductID: "B", ProductName: "Gadget", UnitPrice: money.MustNew("250"), Quantity: 1},
		},
		Subtotal:  money.MustNew("450"),
		Total:     money.MustNew("450"),
		Status:    domain.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	require.NoError(t, uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
		return tx.Orders().Create(ctx, order)
	}))

	t.Run("duplicate order id is a conflict", func(t *testing.T) {
		err := uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
			return tx.Orders().Create(ctx, order)
		})
		assert.ErrorIs(t, err, ports.ErrConflict)
	})

	t.Run("reads order with items", func(t *testing.T) {
		require.NoError(t, uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
			stored, err := tx.Orders().LockByID(ctx, order.ID)
			require.NoError(t, err)
			assert.Equal(t, "450.00", stored.Total.String())
			require.Len(t, stored.Items, 2)
			assert.Equal(t, "Widget", stored.Items[0].ProductName)

			list, err := tx.Orders().ListByOwner(ctx, "buyer-1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Len(t, list[0].Items, 2)

			_, err = tx.Orders().GetByID(ctx, "ORD-404")
			assert.ErrorIs(t, err, ports.ErrNotFound)
			return nil
		}))
	})

	payment := func(attempt int) domain.Payment {
		return domain.Payment{
			ID:              fmt.Sprintf("%s-pay-%d", order.ID, attempt),
			OrderID:         order.ID,
			Attempt:         attempt,
			PurchaseOrderID: domain.PurchaseOrderID("T-", order.ID, attempt),
			AmountMinor:     45000,
			Status:          domain.PaymentInitiated,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}

	t.Run("payment lifecycle", func(t *testing.T) {
		first := payment(1)
		expires := now.Add(time.Hour)

		require.NoError(t, uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
			require.NoError(t, tx.Payments().Create(ctx, first))
			assert.ErrorIs(t, tx.Payments().Create(ctx, first), ports.ErrConflict)
			return nil
		}))

		require.NoError(t, uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
			return tx.Payments().AttachHandle(ctx, first.ID, ports.IntentHandle{Pidx: "pidx-1", PaymentURL: "https://pay/1", ExpiresAt: &expires}, now)
		}))

		require.NoError(t, uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
			_, err := tx.Payments().FindByHandle(ctx, "pidx-1", "wrong-key")
			assert.ErrorIs(t, err, ports.ErrNotFound)

			locked, err := tx.Payments().LockByHandle(ctx, "pidx-1", first.PurchaseOrderID)
			require.NoError(t, err)
			assert.Equal(t, "https://pay/1", locked.PaymentURL)
			require.NotNil(t, locked.ExpiresAt)

			return tx.Payments().UpdateStatus(ctx, first.ID, domain.PaymentSuccess, now)
		}))

		err := uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
			return tx.Payments().AttachHandle(ctx, first.ID, ports.IntentHandle{Pidx: "pidx-x", PaymentURL: "u"}, now)
		})
		assert.ErrorIs(t, err, ports.ErrConflict)

		second := payment(2)
		err = uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
			if err := tx.Payments().Create(ctx, second); err != nil {
				return err
			}
			return tx.Payments().UpdateStatus(ctx, second.ID, domain.PaymentSuccess, now)
		})
		assert.ErrorIs(t, err, ports.ErrConflict, "only one payment per order may succeed")

		require.NoError(t, uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
			latest, err := tx.Payments().LatestForOrder(ctx, order.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, latest.Attempt)
			assert.Equal(t, domain.PaymentSuccess, latest.Status)
			return nil
		}))
	})
}

type stubGateway struct{}

func (stubGateway) Initiate(ctx context.Context, intent ports.PaymentIntent) (*ports.IntentHandle, error) {
	return &ports.IntentHandle{Pidx: "pidx-" + intent.PurchaseOrderID, PaymentURL: "https://pay.example.test/" + intent.PurchaseOrderID}, nil
}

func classify(status string) (ports.GatewayResult, error) {
	switch status {
	case "Completed":
		return ports.GatewayCompleted, nil
	case "User canceled":
		return ports.GatewayFailed, nil
	}
	return ports.GatewayPending, nil
}

func TestCheckoutFlowOnPostgres(t *testing.T) {
	pool, uow := setup(t)
	ctx := context.Background()

	carts := commands.NewCartCommandHandler(uow)
	place := commands.NewPlaceOrderCommandHandler(uow)
	initiate := commands.NewInitiatePaymentCommandHandler(uow, stubGateway{}, commands.InitiatePaymentConfig{PurchaseOrderPrefix: "T-", MaxAttempts: 3})
	reconcile := commands.NewReconcilePaymentCommandHandler(uow, classify, nil, nil)

	t.Run("empty cart leaves no rows", func(t *testing.T) {
		_, err := place.Handle(ctx, commands.PlaceOrderCommand{OwnerID: "nobody"})
		require.ErrorIs(t, err, domain.ErrEmptyCart)

		var carts int
		require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM carts WHERE owner_id = 'nobody'`).Scan(&carts))
		assert.Zero(t, carts)
	})

	_, err := carts.AddLine(ctx, commands.AddCartLineCommand{OwnerID: "buyer-1", ProductID: "A", Quantity: 2})
	require.NoError(t, err)
	_, err = carts.AddLine(ctx, commands.AddCartLineCommand{OwnerID: "buyer-1", ProductID: "B", Quantity: 1})
	require.NoError(t, err)

	order, err := place.Handle(ctx, commands.PlaceOrderCommand{OwnerID: "buyer-1"})
	require.NoError(t, err)
	assert.Equal(t, "450.00", order.Total.String())

	initiated, err := initiate.Handle(ctx, commands.InitiatePaymentCommand{OwnerID: "buyer-1", OrderID: order.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(45000), initiated.Payment.AmountMinor)

	cb := commands.ReconcilePaymentCommand{
		Pidx:            initiated.Payment.Pidx,
		PurchaseOrderID: initiated.Payment.PurchaseOrderID,
		Status:          "Completed",
		Amount:          "45000",
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := reconcile.Handle(ctx, cb)
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

	cb.Amount = "44999"
	_, err = reconcile.Handle(ctx, cb)
	require.ErrorIs(t, err, domain.ErrAmountMismatch)

	var status string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, order.ID).Scan(&status))
	assert.Equal(t, string(domain.OrderPaid), status)

	var events int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE key = $1`, order.ID).Scan(&events))
	assert.Equal(t, 2, events)
}
