package ports

import (
	"context"
	"errors"

	"github.com/dejobratic/checkout/internal/checkout/domain"
)

// ErrCacheMiss is returned when the cache holds no entry for the key.
var ErrCacheMiss = errors.New("cache miss")

// CartCache stores read-only cart snapshots keyed by owner. Every Delete bumps the owner's
// version, so a reader that loaded the cart before an invalidation cannot write it back.
type CartCache interface {
	Get(ctx context.Context, ownerID string) (*domain.Cart, error)
	// Version is read before loading the cart from storage and handed back to Set.
	Version(ctx context.Context, ownerID string) (int64, error)
	// Set stores cart unless the owner's version moved past version. A skipped write is not an error.
	Set(ctx context.Context, ownerID string, version int64, cart *domain.Cart) error
	Delete(ctx context.Context, ownerID string) error
}
