// Package outbox relays events recorded by checkout transactions to the message broker.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dejobratic/checkout/internal/kafka"
)

type Config struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxRetryElapsed time.Duration
	InitialBackoff  time.Duration
}

// Relay polls the store and publishes what it finds. Delivery is at least once.
type Relay struct {
	store     Store
	publisher kafka.Publisher
	metrics   *Metrics
	logger    *slog.Logger
	cfg       Config
}

// NewRelay builds a relay. metrics may be nil.
func NewRelay(store Store, publisher kafka.Publisher, metrics *Metrics, logger *slog.Logger, cfg Config) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetryElapsed <= 0 {
		cfg.MaxRetryElapsed = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = backoff.DefaultInitialInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{store: store, publisher: publisher, metrics: metrics, logger: logger, cfg: cfg}
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "outbox relay pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Start runs the relay in its own goroutine. The returned channel closes once the relay has
// stopped, including any pass in flight when ctx was cancelled.
func (r *Relay) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	return done
}

// RunOnce relays a single batch.
func (r *Relay) RunOnce(ctx context.Context) (Stats, error) {
	stats, err := r.store.Relay(ctx, r.cfg.BatchSize, r.publish)
	if err != nil {
		return Stats{}, err
	}

	if r.metrics != nil {
		if pending, err := r.store.Pending(ctx); err == nil {
			r.metrics.setBacklog(pending)
		} else {
			r.logger.WarnContext(ctx, "outbox backlog unavailable", "error", err)
		}
	}

	if stats.Published > 0 || stats.Failed > 0 {
		r.logger.DebugContext(ctx, "outbox relay pass", "published", stats.Published, "failed", stats.Failed)
	}
	return stats, nil
}

func (r *Relay) publish(ctx context.Context, rec Record) error {
	msg := kafka.Message{
		Topic: rec.Topic,
		Key:   rec.Key,
		Value: rec.Payload,
		Time:  rec.OccurredAt,
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialBackoff
	policy.MaxElapsedTime = r.cfg.MaxRetryElapsed

	err := backoff.Retry(func() error {
		return r.publisher.Publish(ctx, msg)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		if r.metrics != nil {
			r.metrics.recordFailed(rec.Topic)
		}
		r.logger.WarnContext(ctx, "outbox publish failed",
			"event_id", rec.ID,
			"topic", rec.Topic,
			"attempts", rec.Attempts+1,
			"error", err,
		)
		return fmt.Errorf("publish %s: %w", rec.ID, err)
	}

	if r.metrics != nil {
		r.metrics.recordPublished(rec.Topic)
	}
	return nil
}
