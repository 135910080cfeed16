package ports

import (
	"context"
	"time"
)

const (
	TopicOrderPlaced      = "order.placed"
	TopicOrderCancelled   = "order.cancelled"
	TopicPaymentSucceeded = "payment.succeeded"
	TopicPaymentFailed    = "payment.failed"
)

// Event is a domain event recorded in the same transaction as the state change it describes.
type Event struct {
	Topic      string
	Key        string
	Payload    any
	OccurredAt time.Time
}

// Outbox records events for asynchronous relay.
type Outbox interface {
	Enqueue(ctx context.Context, event Event) error
}

// OrderPlaced is the payload of TopicOrderPlaced.
type OrderPlaced struct {
	OrderID string `json:"order_id"`
	OwnerID string `json:"owner_id"`
	Total   string `json:"total"`
	Items   int    `json:"items"`
}

// OrderCancelled is the payload of TopicOrderCancelled.
type OrderCancelled struct {
	OrderID string `json:"order_id"`
	OwnerID string `json:"owner_id"`
}

// PaymentSettled is the payload of TopicPaymentSucceeded and TopicPaymentFailed.
type PaymentSettled struct {
	OrderID         string `json:"order_id"`
	PurchaseOrderID string `json:"purchase_order_id"`
	Pidx            string `json:"pidx"`
	AmountMinor     int64  `json:"amount_minor"`
	GatewayStatus   string `json:"gateway_status"`
	RequiresReview  bool   `json:"requires_review,omitempty"`
}
