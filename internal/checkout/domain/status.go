package domain

import "fmt"

// OrderStatus captures the lifecycle of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderCancelled OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderPaid, OrderCancelled},
}

// CanTransitionTo reports whether moving from s to next is a legal order transition.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return allowed(orderTransitions[s], next)
}

// IsTerminal indicates whether the order can no longer change.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// ParseOrderStatus validates a stored or user-supplied status.
func ParseOrderStatus(value string) (OrderStatus, error) {
	switch s := OrderStatus(value); s {
	case OrderPending, OrderPaid, OrderCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown order status %q", ErrValidation, value)
	}
}

// PaymentStatus captures the lifecycle of a single payment attempt.
type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "INITIATED"
	PaymentSuccess   PaymentStatus = "SUCCESS"
	PaymentFailed    PaymentStatus = "FAILED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentInitiated: {PaymentSuccess, PaymentFailed},
}

// CanTransitionTo reports whether moving from s to next is a legal payment transition.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return allowed(paymentTransitions[s], next)
}

// IsTerminal indicates whether the payment can no longer change.
func (s PaymentStatus) IsTerminal() bool {
	return len(paymentTransitions[s]) == 0
}

// ParsePaymentStatus validates a stored status.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	switch s := PaymentStatus(value); s {
	case PaymentInitiated, PaymentSuccess, PaymentFailed:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown payment status %q", ErrValidation, value)
	}
}

func allowed[S comparable](targets []S, next S) bool {
	for _, t := range targets {
		if t == next {
			return true
		}
	}
	return false
}
