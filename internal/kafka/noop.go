package kafka

import (
	"context"
	"log/slog"
)

// NoopPublisher logs events without sending them to Kafka. Useful for local dev without a broker.
type NoopPublisher struct {
	logger *slog.Logger
}

// NewNoopPublisher returns a new no-op event publisher.
func NewNoopPublisher(logger *slog.Logger) *NoopPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopPublisher{logger: logger}
}

func (n *NoopPublisher) Publish(ctx context.Context, msg Message) error {
	n.logger.DebugContext(ctx, "event::"+msg.Topic, "key", msg.Key, "payload", string(msg.Value))
	return nil
}

func (n *NoopPublisher) Close() error { return nil }
