//go:build integration

package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dejobratic/checkout/internal/database/dbtest"
	"github.com/dejobratic/checkout/internal/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreRelay(t *testing.T) {
	pool := dbtest.NewPool(t)
	store := outbox.NewPostgresStore(pool)
	ctx := context.Background()

	t0 := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"e1", "e2", "e3"} {
		_, err := pool.Exec(ctx, `
			INSERT INTO outbox (id, topic, key, payload, occurred_at) VALUES ($1, 'order.placed', 'ORD-1', '{"n":1}', $2)
		`, id, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pending)

	var seen []string
	stats, err := store.Relay(ctx, 10, func(_ context.Context, rec outbox.Record) error {
		if rec.ID == "e2" {
			return errors.New("broker down")
		}
		seen = append(seen, rec.ID)
		assert.JSONEq(t, `{"n":1}`, string(rec.Payload))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.Stats{Published: 1, Failed: 1}, stats)
	assert.Equal(t, []string{"e1"}, seen)

	var attempts int
	var lastError string
	require.NoError(t, pool.QueryRow(ctx, `SELECT attempts, last_error FROM outbox WHERE id = 'e2'`).Scan(&attempts, &lastError))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, "broker down", lastError)

	stats, err = store.Relay(ctx, 10, func(context.Context, outbox.Record) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, outbox.Stats{Published: 2}, stats)

	pending, err = store.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}
