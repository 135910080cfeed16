package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// InitiateOutcome says how an initiate request was resolved.
type InitiateOutcome string

const (
	// InitiateRedirect means the buyer should be sent to RedirectURL.
	InitiateRedirect InitiateOutcome = "redirect"
	// InitiateAlreadyPaid means the order is PAID; the gateway was not contacted.
	InitiateAlreadyPaid InitiateOutcome = "already_paid"
	// InitiateAlreadyProcessed means a payment for the order already succeeded.
	InitiateAlreadyProcessed InitiateOutcome = "already_processed"
)

type InitiatePaymentCommand struct {
	OwnerID string
	OrderID string
}

func (c InitiatePaymentCommand) Name() string { return "InitiatePayment" }

func (c InitiatePaymentCommand) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("owner.id", c.OwnerID),
		attribute.String("order.id", c.OrderID),
	}
}

func (c InitiatePaymentCommand) Validate() error {
	if err := domain.ValidateOwner(c.OwnerID); err != nil {
		return err
	}
	if c.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", domain.ErrValidation)
	}
	return nil
}

type InitiatePaymentResult struct {
	Outcome     InitiateOutcome
	RedirectURL string
	OrderID     string
	OrderStatus domain.OrderStatus
	Payment     *domain.Payment
}

type InitiatePaymentConfig struct {
	// PurchaseOrderPrefix namespaces the idempotency keys sent to the gateway.
	PurchaseOrderPrefix string
	// MaxAttempts bounds how many payment attempts one order may have.
	MaxAttempts int
}

type InitiatePaymentCommandHandler struct {
	uow     ports.UnitOfWork
	gateway ports.PaymentGateway
	cfg     InitiatePaymentConfig
	now     func() time.Time
}

func NewInitiatePaymentCommandHandler(uow ports.UnitOfWork, gateway ports.PaymentGateway, cfg InitiatePaymentConfig) *InitiatePaymentCommandHandler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &InitiatePaymentCommandHandler{
		uow:     uow,
		gateway: gateway,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handle resolves the payment attempt for the order and returns where to send the buyer.
//
// The attempt is persisted as INITIATED before the gateway is called, and no transaction is open
// while the call is in flight. A gateway failure leaves the attempt INITIATED so the request can
// be retried with the same purchase_order_id.
func (h *InitiatePaymentCommandHandler) Handle(ctx context.Context, cmd InitiatePaymentCommand) (*InitiatePaymentResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	result, payment, err := h.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	handle, err := h.gateway.Initiate(ctx, ports.PaymentIntent{
		PurchaseOrderID:   payment.PurchaseOrderID,
		PurchaseOrderName: "Order " + payment.OrderID,
		OrderID:           payment.OrderID,
		AmountMinor:       payment.AmountMinor,
	})
	if err != nil {
		if errors.Is(err, domain.ErrGatewayProtocol) || errors.Is(err, domain.ErrGatewayUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}
	if handle == nil || handle.Pidx == "" || handle.PaymentURL == "" {
		return nil, fmt.Errorf("%w: response is missing pidx or payment_url", domain.ErrGatewayProtocol)
	}

	return h.attach(ctx, payment, *handle)
}

// prepare locks the order and picks the attempt to use. A non-nil result means the request was
// resolved without needing the gateway.
func (h *InitiatePaymentCommandHandler) prepare(ctx context.Context, cmd InitiatePaymentCommand) (*InitiatePaymentResult, *domain.Payment, error) {
	var (
		result  *InitiatePaymentResult
		payment *domain.Payment
	)

	err := h.uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
		order, err := lockOwnedOrder(ctx, tx, cmd.OwnerID, cmd.OrderID)
		if err != nil {
			return err
		}

		switch order.Status {
		case domain.OrderPaid:
			result = &InitiatePaymentResult{Outcome: InitiateAlreadyPaid, OrderID: order.ID, OrderStatus: order.Status}
			return nil
		case domain.OrderCancelled:
			return fmt.Errorf("%w: order %s is %s", domain.ErrStateConflict, order.ID, order.Status)
		}

		latest, err := tx.Payments().LatestForOrder(ctx, order.ID)
		if err != nil && !errors.Is(err, ports.ErrNotFound) {
			return fmt.Errorf("load payment: %w", err)
		}

		nextAttempt := 1
		if latest != nil {
			switch latest.Status {
			case domain.PaymentSuccess:
				result = &InitiatePaymentResult{Outcome: InitiateAlreadyProcessed, OrderID: order.ID, OrderStatus: order.Status, Payment: latest}
				return nil
			case domain.PaymentInitiated:
				if latest.HasLiveRedirect(h.now()) {
					result = redirectResult(order, latest)
					return nil
				}
				payment = latest
				return nil
			case domain.PaymentFailed:
				if latest.Attempt >= h.cfg.MaxAttempts {
					return fmt.Errorf("%w: order %s has no payment attempts left", domain.ErrStateConflict, order.ID)
				}
				nextAttempt = latest.Attempt + 1
			}
		}

		now := h.now()
		p := domain.Payment{
			ID:              uuid.NewString(),
			OrderID:         order.ID,
			Attempt:         nextAttempt,
			PurchaseOrderID: domain.PurchaseOrderID(h.cfg.PurchaseOrderPrefix, order.ID, nextAttempt),
			AmountMinor:     order.Total.Minor(),
			Status:          domain.PaymentInitiated,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Payments().Create(ctx, p); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		payment = &p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, payment, nil
}

// attach stores the gateway handle. The order lock serializes concurrent initiations; when another
// request attached a usable handle first, that one wins and ours is discarded.
func (h *InitiatePaymentCommandHandler) attach(ctx context.Context, payment *domain.Payment, handle ports.IntentHandle) (*InitiatePaymentResult, error) {
	var result *InitiatePaymentResult

	err := h.uow.Do(ctx, func(ctx context.Context, tx ports.Tx) error {
		order, err := tx.Orders().LockByID(ctx, payment.OrderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}

		current, err := tx.Payments().LatestForOrder(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		if current.ID != payment.ID || current.Status != domain.PaymentInitiated {
			return fmt.Errorf("%w: payment %s changed while contacting the gateway", domain.ErrStateConflict, payment.PurchaseOrderID)
		}
		if current.Pidx != "" && current.Pidx != payment.Pidx && current.HasLiveRedirect(h.now()) {
			result = redirectResult(order, current)
			return nil
		}

		now := h.now()
		if err := tx.Payments().AttachHandle(ctx, current.ID, handle, now); err != nil {
			return fmt.Errorf("attach gateway handle: %w", err)
		}
		current.Pidx = handle.Pidx
		current.PaymentURL = handle.PaymentURL
		current.ExpiresAt = handle.ExpiresAt
		current.UpdatedAt = now
		result = redirectResult(order, current)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func redirectResult(order *domain.Order, payment *domain.Payment) *InitiatePaymentResult {
	return &InitiatePaymentResult{
		Outcome:     InitiateRedirect,
		RedirectURL: payment.PaymentURL,
		OrderID:     order.ID,
		OrderStatus: order.Status,
		Payment:     payment,
	}
}

// lockOwnedOrder locks the order for the rest of the unit of work. Orders owned by someone else
// are reported as missing.
func lockOwnedOrder(ctx context.Context, tx ports.Tx, ownerID, orderID string) (*domain.Order, error) {
	order, err := tx.Orders().LockByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	if !order.OwnedBy(ownerID) {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	return order, nil
}
