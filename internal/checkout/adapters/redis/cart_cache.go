package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/redis/go-redis/v9"
)

const DefaultCartTTL = 10 * time.Minute

// versionTTL outlives any cart entry so a version never resets while a write could depend on it.
const versionTTL = 24 * time.Hour

// setIfCurrent writes the cart only while the owner's version still equals ARGV[1].
var setIfCurrent = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// CartCache keeps cart snapshots in Redis as JSON.
type CartCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewCartCache(client redis.Cmdable, ttl time.Duration) *CartCache {
	if ttl <= 0 {
		ttl = DefaultCartTTL
	}
	return &CartCache{client: client, ttl: ttl}
}

func (c *CartCache) Get(ctx context.Context, ownerID string) (*domain.Cart, error) {
	data, err := c.client.Get(ctx, cartKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ports.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}

	return &cart, nil
}

func (c *CartCache) Version(ctx context.Context, ownerID string) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(ownerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get cart version: %w", err)
	}
	return v, nil
}

func (c *CartCache) Set(ctx context.Context, ownerID string, version int64, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	err = setIfCurrent.Run(ctx, c.client,
		[]string{versionKey(ownerID), cartKey(ownerID)},
		strconv.FormatInt(version, 10), data, c.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}
	return nil
}

func (c *CartCache) Delete(ctx context.Context, ownerID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(ownerID))
		pipe.Expire(ctx, versionKey(ownerID), versionTTL)
		pipe.Del(ctx, cartKey(ownerID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}
	return nil
}

func cartKey(ownerID string) string {
	return "checkout:cart:" + ownerID
}

func versionKey(ownerID string) string {
	return "checkout:cart-version:" + ownerID
}
