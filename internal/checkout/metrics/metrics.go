package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	OutcomeSuccess            = "success"
	OutcomeValidation         = "validation"
	OutcomeNotFound           = "not_found"
	OutcomeStateConflict      = "state_conflict"
	OutcomeEmptyCart          = "empty_cart"
	OutcomeGatewayUnavailable = "gateway_unavailable"
	OutcomeGatewayProtocol    = "gateway_protocol"
	OutcomeUnverified         = "unverified"
	OutcomeAmountMismatch     = "amount_mismatch"
	OutcomeInternal           = "internal"
)

var outcomes = []struct {
	err     error
	outcome string
}{
	{domain.ErrValidation, OutcomeValidation},
	{domain.ErrNotFound, OutcomeNotFound},
	{domain.ErrStateConflict, OutcomeStateConflict},
	{domain.ErrEmptyCart, OutcomeEmptyCart},
	{domain.ErrGatewayUnavailable, OutcomeGatewayUnavailable},
	{domain.ErrGatewayProtocol, OutcomeGatewayProtocol},
	{domain.ErrUnverifiedPayment, OutcomeUnverified},
	{domain.ErrAmountMismatch, OutcomeAmountMismatch},
}

// Outcome classifies err into a low-cardinality label.
func Outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.outcome
		}
	}
	return OutcomeInternal
}

type Metrics struct {
	commandsTotal          metric.Int64Counter
	commandDuration        metric.Float64Histogram
	paymentReconciliations metric.Int64Counter
	gatewayDuration        metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.commandsTotal, err = meter.Int64Counter(
		"checkout_commands_total",
		metric.WithDescription("Total number of checkout commands handled"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create checkout_commands_total counter: %w", err)
	}

	m.commandDuration, err = meter.Float64Histogram(
		"checkout_command_duration_seconds",
		metric.WithDescription("Duration of checkout commands"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create checkout_command_duration histogram: %w", err)
	}

	m.paymentReconciliations, err = meter.Int64Counter(
		"payment_reconciliations_total",
		metric.WithDescription("Gateway callbacks reconciled, by result"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_reconciliations_total counter: %w", err)
	}

	m.gatewayDuration, err = meter.Float64Histogram(
		"payment_gateway_request_duration_seconds",
		metric.WithDescription("Duration of payment gateway requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_gateway_request_duration histogram: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordCommand(ctx context.Context, command string, durationSeconds float64, err error) {
	m.commandsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("outcome", Outcome(err)),
	))
	m.commandDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("command", command),
	))
}

func (m *Metrics) RecordReconciliation(ctx context.Context, result string, replayed bool) {
	m.paymentReconciliations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.Bool("replayed", replayed),
	))
}

func (m *Metrics) RecordGatewayCall(ctx context.Context, operation string, durationSeconds float64, err error) {
	m.gatewayDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", Outcome(err)),
	))
}
