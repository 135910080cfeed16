package adapters

import (
	"context"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/metrics"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/dejobratic/checkout/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Gateway is the full surface of a payment provider client.
type Gateway interface {
	ports.PaymentGateway
	ports.PaymentVerifier
}

type ObservableGateway struct {
	gateway Gateway
	metrics *metrics.Metrics
}

func NewObservableGateway(gateway Gateway, metrics *metrics.Metrics) *ObservableGateway {
	return &ObservableGateway{
		gateway: gateway,
		metrics: metrics,
	}
}

func (g *ObservableGateway) Initiate(ctx context.Context, intent ports.PaymentIntent) (*ports.IntentHandle, error) {
	ctx, span := telemetry.StartSpan(ctx, "PaymentGateway.Initiate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", intent.OrderID),
		attribute.String("payment.purchase_order_id", intent.PurchaseOrderID),
		attribute.Int64("payment.amount_minor", intent.AmountMinor),
	)

	start := time.Now()
	handle, err := g.gateway.Initiate(ctx, intent)
	g.metrics.RecordGatewayCall(ctx, "initiate", time.Since(start).Seconds(), err)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	if handle != nil {
		telemetry.AddSpanAttributes(span, attribute.String("payment.pidx", handle.Pidx))
	}
	telemetry.SetSpanSuccess(span)
	return handle, nil
}

func (g *ObservableGateway) Lookup(ctx context.Context, pidx string) (*ports.GatewayTransaction, error) {
	ctx, span := telemetry.StartSpan(ctx, "PaymentGateway.Lookup", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	telemetry.AddSpanAttributes(span, attribute.String("payment.pidx", pidx))

	start := time.Now()
	txn, err := g.gateway.Lookup(ctx, pidx)
	g.metrics.RecordGatewayCall(ctx, "lookup", time.Since(start).Seconds(), err)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	if txn != nil {
		telemetry.AddSpanAttributes(span, attribute.String("payment.gateway_status", txn.Status))
	}
	telemetry.SetSpanSuccess(span)
	return txn, nil
}
