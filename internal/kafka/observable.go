package kafka

import (
	"context"
	"time"

	"github.com/dejobratic/checkout/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ObservablePublisher traces and times every publish.
type ObservablePublisher struct {
	publisher Publisher
	metrics   *Metrics
}

func NewObservablePublisher(publisher Publisher, metrics *Metrics) *ObservablePublisher {
	return &ObservablePublisher{publisher: publisher, metrics: metrics}
}

func (p *ObservablePublisher) Publish(ctx context.Context, msg Message) error {
	ctx, span := telemetry.StartSpan(ctx, "Publisher.Publish")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("event.type", msg.Topic),
		attribute.String("topic", msg.Topic),
		attribute.String("message.key", msg.Key),
	)

	start := time.Now()
	err := p.publisher.Publish(ctx, msg)
	duration := time.Since(start).Seconds()

	if p.metrics != nil {
		p.metrics.RecordPublish(ctx, msg.Topic, duration, err == nil)
	}

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}

	telemetry.SetSpanSuccess(span)
	return nil
}

func (p *ObservablePublisher) Close() error {
	return p.publisher.Close()
}
