package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/metrics"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"go.opentelemetry.io/otel/attribute"
)

// ReconcileOutcome is the effect a callback had, or would have had for a replay.
type ReconcileOutcome string

const (
	ReconcilePaid    ReconcileOutcome = "paid"
	ReconcileFailed  ReconcileOutcome = "failed"
	ReconcilePending ReconcileOutcome = "pending"
)

// ReconcilePaymentCommand carries the gateway callback fields as received.
type ReconcilePaymentCommand struct {
	Pidx            string
	PurchaseOrderID string
	Status          string
	Amount          string
}

func (c ReconcilePaymentCommand) Name() string { return "ReconcilePayment" }

func (c ReconcilePaymentCommand) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("payment.pidx", c.Pidx),
		attribute.String("payment.purchase_order_id", c.PurchaseOrderID),
		attribute.String("payment.gateway_status", c.Status),
		attribute.String("payment.amount", c.Amount),
	}
}

// Validate checks required fields and returns the amount in minor units.
func (c ReconcilePaymentCommand) Validate() (int64, error) {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"pidx", c.Pidx},
		{"purchase_order_id", c.PurchaseOrderID},
		{"status", c.Status},
		{"amount", c.Amount},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return 0, fmt.Errorf("%w: missing %s", domain.ErrValidation, strings.Join(missing, ", "))
	}

	amount, err := strconv.ParseInt(strings.TrimSpace(c.Amount), 10, 64)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be a positive integer in minor units", domain.ErrValidation)
	}
	return amount, nil
}

type ReconciliationResult struct {
	Outcome  ReconcileOutcome
	Replayed bool
	// RequiresReview is set when money was collected for an order that can no longer be paid.
	RequiresReview bool
	OrderID        string
	OrderStatus    domain.OrderStatus
	PaymentStatus  domain.PaymentStatus
}

type ReconcilePaymentCommandHandler struct {
	uow      ports.UnitOfWork
	classify ports.StatusClassifier
	verifier ports.PaymentVerifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewReconcilePaymentCommandHandler builds the handler. verifier may be nil, in which case success
// callbacks are trusted once they match a stored payment by handle, key and amount.
func NewReconcilePaymentCommandHandler(
	uow ports.UnitOfWork,
	classify ports.StatusClassifier,
	verifier ports.PaymentVerifier,
	m *metrics.Metrics,
) *ReconcilePaymentCommandHandler {
	return &ReconcilePaymentCommandHandler{
		uow:      uow,
		classify: classify,
		verifier: verifier,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *ReconcilePaymentCommandHandler) Handle(ctx context.Context, cmd ReconcilePaymentCommand) (*ReconciliationResult, error) {
	amount, err := cmd.Validate()
	if err != nil {
		return nil, err
	}

	gatewayResult, err := h.classify(cmd.Status)
	if err != nil {
		return nil, err
	}

	if gatewayResult == ports.GatewayCompleted && h.verifier != nil {
		// Only callbacks that match a stored payment reach the gateway.
		if err := h.match(ctx, cmd, amount); err != nil {
			return nil, err
		}
		if err := h.verify(ctx, cmd.Pidx, amount); err != nil {
			return nil, err
		}
	}

	result, err := h.apply(ctx, cmd, gatewayResult, amount)
	if err != nil {
		return nil, err
	}

	if h.metrics != nil {
		h.metrics.RecordReconciliation(ctx, string(result.Outcome), result.Replayed)
	}
	return result, nil
}

// match checks the callback against storage without taking locks. apply repeats the checks
// under lock.
func (h *ReconcilePaymentCommandHandler) match(ctx context.Context, cmd ReconcilePaymentCommand, amount int64) error {
	return h.uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
		found, err := findPayment(ctx, tx, cmd)
		if err != nil {
			return err
		}
		return checkAmount(found, amount)
	})
}

func findPayment(ctx context.Context, tx ports.Tx, cmd ReconcilePaymentCommand) (*domain.Payment, error) {
	found, err := tx.Payments().FindByHandle(ctx, cmd.Pidx, cmd.PurchaseOrderID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("%w: no payment matches pidx %s and purchase_order_id %s", domain.ErrUnverifiedPayment, cmd.Pidx, cmd.PurchaseOrderID)
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return found, nil
}

func checkAmount(p *domain.Payment, amount int64) error {
	if amount != p.AmountMinor {
		return fmt.Errorf("%w: callback amount %d, expected %d for %s", domain.ErrAmountMismatch, amount, p.AmountMinor, p.PurchaseOrderID)
	}
	return nil
}

// verify asks the gateway for its own view of the transaction before a success is applied.
func (h *ReconcilePaymentCommandHandler) verify(ctx context.Context, pidx string, amount int64) error {
	txn, err := h.verifier.Lookup(ctx, pidx)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) || errors.Is(err, domain.ErrGatewayProtocol) {
			return err
		}
		return fmt.Errorf("%w: lookup %s: %w", domain.ErrGatewayUnavailable, pidx, err)
	}

	confirmed, err := h.classify(txn.Status)
	if err != nil || confirmed != ports.GatewayCompleted {
		return fmt.Errorf("%w: gateway reports %q for %s", domain.ErrUnverifiedPayment, txn.Status, pidx)
	}
	if txn.TotalAmount != amount {
		return fmt.Errorf("%w: gateway reports amount %d for %s, callback says %d", domain.ErrUnverifiedPayment, txn.TotalAmount, pidx, amount)
	}
	return nil
}

func (h *ReconcilePaymentCommandHandler) apply(ctx context.Context, cmd ReconcilePaymentCommand, gatewayResult ports.GatewayResult, amount int64) (*ReconciliationResult, error) {
	var result *ReconciliationResult

	err := h.uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
		found, err := findPayment(ctx, tx, cmd)
		if err != nil {
			return err
		}

		// Order first, then payment: the same order initiation uses.
		order, err := tx.Orders().LockByID(ctx, found.OrderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		payment, err := tx.Payments().LockByHandle(ctx, cmd.Pidx, cmd.PurchaseOrderID)
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}

		if err := checkAmount(payment, amount); err != nil {
			return err
		}

		result = &ReconciliationResult{
			OrderID:       order.ID,
			OrderStatus:   order.Status,
			PaymentStatus: payment.Status,
		}

		switch gatewayResult {
		case ports.GatewayPending:
			result.Outcome = ReconcilePending
			return nil
		case ports.GatewayCompleted:
			return h.applySuccess(ctx, tx, order, payment, cmd.Status, result)
		case ports.GatewayFailed:
			return h.applyFailure(ctx, tx, order, payment, cmd.Status, result)
		default:
			return fmt.Errorf("%w: unsupported gateway result %q", domain.ErrValidation, gatewayResult)
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *ReconcilePaymentCommandHandler) applySuccess(ctx context.Context, tx ports.Tx, order *domain.Order, payment *domain.Payment, gatewayStatus string, result *ReconciliationResult) error {
	result.Outcome = ReconcilePaid

	switch payment.Status {
	case domain.PaymentSuccess:
		result.Replayed = true
		result.RequiresReview = order.Status == domain.OrderCancelled
		return nil
	case domain.PaymentFailed:
		return fmt.Errorf("%w: success reported for failed payment %s, needs review", domain.ErrStateConflict, payment.PurchaseOrderID)
	}

	now := h.now()
	if err := payment.TransitionTo(domain.PaymentSuccess, now); err != nil {
		return err
	}
	if err := tx.Payments().UpdateStatus(ctx, payment.ID, payment.Status, now); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return fmt.Errorf("%w: order %s already has a successful payment", domain.ErrStateConflict, order.ID)
		}
		return fmt.Errorf("update payment status: %w", err)
	}

	switch order.Status {
	case domain.OrderPending:
		if err := order.TransitionTo(domain.OrderPaid, now); err != nil {
			return err
		}
		if err := tx.Orders().UpdateStatus(ctx, order.ID, order.Status, now); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
	case domain.OrderCancelled:
		result.RequiresReview = true
	}

	result.OrderStatus = order.Status
	result.PaymentStatus = payment.Status

	return tx.Outbox().Enqueue(ctx, ports.Event{
		Topic:      ports.TopicPaymentSucceeded,
		Key:        order.ID,
		Payload:    settled(payment, gatewayStatus, result.RequiresReview),
		OccurredAt: now,
	})
}

func (h *ReconcilePaymentCommandHandler) applyFailure(ctx context.Context, tx ports.Tx, order *domain.Order, payment *domain.Payment, gatewayStatus string, result *ReconciliationResult) error {
	result.Outcome = ReconcileFailed

	switch payment.Status {
	case domain.PaymentFailed:
		result.Replayed = true
		return nil
	case domain.PaymentSuccess:
		return fmt.Errorf("%w: failure reported for successful payment %s", domain.ErrStateConflict, payment.PurchaseOrderID)
	}

	now := h.now()
	if err := payment.TransitionTo(domain.PaymentFailed, now); err != nil {
		return err
	}
	if err := tx.Payments().UpdateStatus(ctx, payment.ID, payment.Status, now); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	result.PaymentStatus = payment.Status

	return tx.Outbox().Enqueue(ctx, ports.Event{
		Topic:      ports.TopicPaymentFailed,
		Key:        order.ID,
		Payload:    settled(payment, gatewayStatus, false),
		OccurredAt: now,
	})
}

func settled(p *domain.Payment, gatewayStatus string, review bool) ports.PaymentSettled {
	return ports.PaymentSettled{
		OrderID:         p.OrderID,
		PurchaseOrderID: p.PurchaseOrderID,
		Pidx:            p.Pidx,
		AmountMinor:     p.AmountMinor,
		GatewayStatus:   gatewayStatus,
		RequiresReview:  review,
	}
}
