package ports

import "context"

// StoredResponse is the order placement response replayed for a reused Idempotency-Key.
type StoredResponse struct {
	OwnerID    string
	StatusCode int
	Body       []byte
	OrderID    string
}

// IdempotencyStore remembers responses per (owner, key) so retried requests replay instead of re-executing.
type IdempotencyStore interface {
	Get(ctx context.Context, ownerID, key string) (*StoredResponse, error)
	Save(ctx context.Context, key string, response StoredResponse) error
}
