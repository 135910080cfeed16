package domain

import "errors"

// Error taxonomy shared by every checkout operation. Callers match with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrStateConflict      = errors.New("state conflict")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayProtocol    = errors.New("payment gateway protocol error")
	ErrUnverifiedPayment  = errors.New("payment could not be verified")
	ErrAmountMismatch     = errors.New("payment amount mismatch")
)
