package domain

import (
	"fmt"
	"time"
)

// Payment is one attempt to collect money for one order via the external gateway.
type Payment struct {
	ID              string        `json:"id"`
	OrderID         string        `json:"order_id"`
	Attempt         int           `json:"attempt"`
	PurchaseOrderID string        `json:"purchase_order_id"`
	Pidx            string        `json:"pidx,omitempty"`
	PaymentURL      string        `json:"payment_url,omitempty"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
	AmountMinor     int64         `json:"amount_minor"`
	Status          PaymentStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// PurchaseOrderID derives the gateway idempotency key for the given attempt of an order.
// The same (order, attempt) always yields the same key.
func PurchaseOrderID(prefix, orderID string, attempt int) string {
	return fmt.Sprintf("%s%s-%d", prefix, orderID, attempt)
}

// HasLiveRedirect reports whether the gateway handle and redirect are still usable at now.
func (p Payment) HasLiveRedirect(now time.Time) bool {
	if p.Pidx == "" || p.PaymentURL == "" {
		return false
	}
	return p.ExpiresAt == nil || now.Before(*p.ExpiresAt)
}

// TransitionTo moves the payment to next, enforcing the payment state machine.
func (p *Payment) TransitionTo(next PaymentStatus, now time.Time) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: payment %s cannot move from %s to %s", ErrStateConflict, p.PurchaseOrderID, p.Status, next)
	}
	p.Status = next
	p.UpdatedAt = now
	return nil
}
