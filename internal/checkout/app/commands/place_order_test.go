package commands_test

import (
	"context"
	"strings"
	"testing"

	"github.com/dejobratic/checkout/internal/checkout/app/commands"
	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/dejobratic/checkout/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceOrder(t *testing.T) {
	t.Run("converts cart into pending order and empties cart", func(t *testing.T) {
		env := newTestEnv(t)

		order := env.placeScenarioOrder(t)

		assert.True(t, strings.HasPrefix(order.ID, "ORD-"))
		assert.Equal(t, buyer, order.OwnerID)
		assert.Equal(t, domain.OrderPending, order.Status)
		assert.Equal(t, "450.00", order.Total.String())
		assert.True(t, order.Subtotal.Equal(order.Total))
		require.Len(t, order.Items, 2)
		assert.Equal(t, "Widget", order.Items[0].ProductName)
		assert.Equal(t, 2, order.Items[0].Quantity)

		assert.True(t, env.cartOf(t, buyer).IsEmpty())

		events := env.store.Events()
		require.Len(t, events, 1)
		assert.Equal(t, ports.TopicOrderPlaced, events[0].Topic)
		assert.Equal(t, order.ID, events[0].Key)
	})

	t.Run("uses current catalog price rather than price at add", func(t *testing.T) {
		env := newTestEnv(t)
		env.addLine(t, buyer, "A", 2)
		env.store.PutProduct(domain.Product{ID: "A", Name: "Widget v2", Price: money.MustNew("120.50")})

		order, err := env.place.Handle(context.Background(), commands.PlaceOrderCommand{OwnerID: buyer})

		require.NoError(t, err)
		assert.Equal(t, "241.00", order.Total.String())
		assert.Equal(t, "Widget v2", order.Items[0].ProductName)
	})

	t.Run("later price changes do not affect placed order", func(t *testing.T) {
		env := newTestEnv(t)
		order := env.placeScenarioOrder(t)

		env.store.PutProduct(domain.Product{ID: "A", Name: "Widget", Price: money.MustNew("999")})

		stored := env.order(t, order.ID)
		assert.Equal(t, "450.00", stored.Total.String())
		assert.Equal(t, "100.00", stored.Items[0].UnitPrice.String())
	})

	t.Run("empty cart creates nothing", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.place.Handle(context.Background(), commands.PlaceOrderCommand{OwnerID: buyer})

		require.ErrorIs(t, err, domain.ErrEmptyCart)
		assert.Zero(t, env.store.OrderCount())
		assert.Empty(t, env.store.Events())
	})

	t.Run("storage failure rolls back and keeps cart", func(t *testing.T) {
		env := newTestEnv(t)
		env.addLine(t, buyer, "A", 2)
		place := commands.NewPlaceOrderCommandHandler(&faultyUoW{inner: env.store, failClearCart: true})

		_, err := place.Handle(context.Background(), commands.PlaceOrderCommand{OwnerID: buyer})

		require.ErrorIs(t, err, errInjected)
		assert.Zero(t, env.store.OrderCount())
		assert.Empty(t, env.store.Events())
		cart := env.cartOf(t, buyer)
		require.Len(t, cart.Lines, 1)
		assert.Equal(t, 2, cart.Lines[0].Quantity)
	})

	t.Run("product removed from catalog fails without side effects", func(t *testing.T) {
		env := newTestEnv(t)
		env.addLine(t, buyer, "A", 1)
		env.addLine(t, buyer, "B", 1)
		env.store.DeleteProduct("B")

		_, err := env.place.Handle(context.Background(), commands.PlaceOrderCommand{OwnerID: buyer})

		require.ErrorIs(t, err, domain.ErrNotFound)
		assert.Zero(t, env.store.OrderCount())
		assert.Len(t, env.cartOf(t, buyer).Lines, 2)
	})

	t.Run("generates distinct identifiers", func(t *testing.T) {
		env := newTestEnv(t)
		first := env.placeScenarioOrder(t)
		second := env.placeScenarioOrder(t)

		assert.NotEqual(t, first.ID, second.ID)
	})
}
