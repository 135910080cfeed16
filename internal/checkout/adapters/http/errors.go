package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// problem maps an error to its HTTP status and a stable machine-readable code.
// Unknown errors are internal and their message is not exposed.
func problem(err error) (status int, code string, expose bool) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_error", true
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound, "not_found", true
	case errors.Is(err, domain.ErrStateConflict):
		return http.StatusConflict, "state_conflict", true
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusUnprocessableEntity, "empty_cart", true
	case errors.Is(err, domain.ErrAmountMismatch):
		return http.StatusUnprocessableEntity, "amount_mismatch", true
	case errors.Is(err, domain.ErrUnverifiedPayment):
		return http.StatusBadRequest, "unverified_payment", true
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "gateway_unavailable", true
	case errors.Is(err, domain.ErrGatewayProtocol):
		return http.StatusBadGateway, "gateway_protocol_error", true
	default:
		return http.StatusInternalServerError, "internal_error", false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
