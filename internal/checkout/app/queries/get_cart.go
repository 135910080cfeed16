package queries

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"golang.org/x/sync/singleflight"
)

// GetCartQuery asks for the caller's cart.
type GetCartQuery struct {
	OwnerID string
}

func (q GetCartQuery) Validate() error {
	return domain.ValidateOwner(q.OwnerID)
}

// GetCartQueryHandler serves carts from the cache when possible. Concurrent misses for the same
// owner share a single storage read.
type GetCartQueryHandler struct {
	uow    ports.UnitOfWork
	cache  ports.CartCache
	logger *slog.Logger
	group  singleflight.Group
}

// NewGetCartQueryHandler constructs the handler. cache may be nil.
func NewGetCartQueryHandler(uow ports.UnitOfWork, cache ports.CartCache, logger *slog.Logger) *GetCartQueryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetCartQueryHandler{uow: uow, cache: cache, logger: logger}
}

func (h *GetCartQueryHandler) Handle(ctx context.Context, query GetCartQuery) (*domain.Cart, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil {
		cart, err := h.cache.Get(ctx, query.OwnerID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, ports.ErrCacheMiss) {
			h.logger.WarnContext(ctx, "cart cache read failed", "owner.id", query.OwnerID, "error", err)
		}
	}

	v, err, _ := h.group.Do(query.OwnerID, func() (any, error) {
		return h.load(ctx, query.OwnerID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

func (h *GetCartQueryHandler) load(ctx context.Context, ownerID string) (*domain.Cart, error) {
	// The version is taken before the read so an invalidation racing with it wins.
	version, cacheable := int64(0), h.cache != nil
	if cacheable {
		var err error
		if version, err = h.cache.Version(ctx, ownerID); err != nil {
			h.logger.WarnContext(ctx, "cart cache version read failed", "owner.id", ownerID, "error", err)
			cacheable = false
		}
	}

	var cart *domain.Cart
	err := h.uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		cart, err = tx.Carts().GetOrCreate(ctx, ownerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	if cacheable {
		if err := h.cache.Set(ctx, ownerID, version, cart); err != nil {
			h.logger.WarnContext(ctx, "cart cache write failed", "owner.id", ownerID, "error", err)
		}
	}
	return cart, nil
}
