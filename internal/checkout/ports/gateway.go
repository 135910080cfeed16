package ports

import (
	"context"
	"time"
)

// PaymentIntent is the gateway-agnostic request to start collecting money for an order.
type PaymentIntent struct {
	PurchaseOrderID   string
	PurchaseOrderName string
	OrderID           string
	AmountMinor       int64
}

// IntentHandle is what the gateway returns for an accepted intent.
type IntentHandle struct {
	Pidx       string
	PaymentURL string
	ExpiresAt  *time.Time
}

// PaymentGateway starts payments with the external provider.
type PaymentGateway interface {
	Initiate(ctx context.Context, intent PaymentIntent) (*IntentHandle, error)
}

// GatewayTransaction is the provider's authoritative view of a transaction.
type GatewayTransaction struct {
	Pidx        string
	Status      string
	TotalAmount int64
}

// PaymentVerifier looks up a transaction directly with the provider.
type PaymentVerifier interface {
	Lookup(ctx context.Context, pidx string) (*GatewayTransaction, error)
}

// GatewayResult is the provider status reduced to what reconciliation acts on.
type GatewayResult string

const (
	GatewayCompleted GatewayResult = "completed"
	GatewayPending   GatewayResult = "pending"
	GatewayFailed    GatewayResult = "failed"
)

// StatusClassifier maps a provider status string to a GatewayResult. Statuses it cannot
// act on are reported as errors.
type StatusClassifier func(status string) (GatewayResult, error)
