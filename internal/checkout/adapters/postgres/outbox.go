package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/google/uuid"
)

// Outbox writes events into the outbox table of the current transaction.
type Outbox struct {
	q querier
}

func (o *Outbox) Enqueue(ctx context.Context, event ports.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event.Topic, err)
	}

	_, err = o.q.Exec(ctx, `
		INSERT INTO outbox (id, topic, key, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), event.Topic, event.Key, payload, event.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
