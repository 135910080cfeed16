package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dejobratic/checkout/internal/checkout/app"
	"github.com/dejobratic/checkout/internal/checkout/app/commands"
	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes      = 1 << 20
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

// Handler exposes HTTP endpoints for checkout operations.
type Handler struct {
	service *app.Service
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *app.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, expose := problem(err)
	if !expose {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, status, code, "internal error")
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeError(w, status, code, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", domain.ErrValidation)
		}
		return fmt.Errorf("%w: invalid JSON payload", domain.ErrValidation)
	}
	return nil
}

func owner(r *http.Request) string {
	id, _ := OwnerFromContext(r.Context())
	return id
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.GetCart(r.Context(), owner(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (h *Handler) addCartLine(w http.ResponseWriter, r *http.Request) {
	var input app.AddCartLineInput
	if err := decode(w, r, &input); err != nil {
		h.fail(w, r, err)
		return
	}

	cart, err := h.service.AddCartLine(r.Context(), owner(r), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

type setQuantityInput struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) setCartLineQuantity(w http.ResponseWriter, r *http.Request) {
	var input setQuantityInput
	if err := decode(w, r, &input); err != nil {
		h.fail(w, r, err)
		return
	}

	cart, err := h.service.SetCartLineQuantity(r.Context(), owner(r), chi.URLParam(r, "lineID"), input.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (h *Handler) removeCartLine(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.RemoveCartLine(r.Context(), owner(r), chi.URLParam(r, "lineID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := owner(r)
	idemKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))

	if idemKey != "" {
		stored, err := h.service.GetIdempotentResponse(ctx, ownerID, idemKey)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if stored != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(replayedHeader, "true")
			w.WriteHeader(stored.StatusCode)
			_, _ = w.Write(stored.Body)
			return
		}
	}

	order, err := h.service.PlaceOrder(ctx, ownerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	body, err := json.Marshal(map[string]any{"order": order})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if idemKey != "" {
		stored := ports.StoredResponse{
			OwnerID:    ownerID,
			StatusCode: http.StatusCreated,
			Body:       body,
			OrderID:    order.ID,
		}
		if err := h.service.SaveIdempotentResponse(ctx, idemKey, stored); err != nil {
			// The order exists; a lost key only means a retry will not be replayed.
			h.logger.WarnContext(ctx, "saving idempotent response failed", "order.id", order.ID, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/v1/orders/"+order.ID)
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context(), owner(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetOrder(r.Context(), owner(r), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": view})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.CancelOrder(r.Context(), owner(r), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

type paymentResponse struct {
	Outcome     commands.InitiateOutcome `json:"outcome"`
	RedirectURL string                   `json:"redirect_url,omitempty"`
	OrderID     string                   `json:"order_id"`
	OrderStatus domain.OrderStatus       `json:"order_status"`
	Payment     *domain.Payment          `json:"payment,omitempty"`
}

func (h *Handler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.InitiatePayment(r.Context(), owner(r), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, paymentResponse{
		Outcome:     result.Outcome,
		RedirectURL: result.RedirectURL,
		OrderID:     result.OrderID,
		OrderStatus: result.OrderStatus,
		Payment:     result.Payment,
	})
}

type reconciliationResponse struct {
	Outcome        commands.ReconcileOutcome `json:"outcome"`
	Replayed       bool                      `json:"replayed"`
	RequiresReview bool                      `json:"requires_review"`
	OrderID        string                    `json:"order_id"`
	OrderStatus    domain.OrderStatus        `json:"order_status"`
	PaymentStatus  domain.PaymentStatus      `json:"payment_status"`
}

// reconcilePayment handles the gateway redirect back to the shop. Fields arrive as query
// parameters on GET and as form fields on POST.
func (h *Handler) reconcilePayment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, fmt.Errorf("%w: malformed callback parameters", domain.ErrValidation))
		return
	}

	amount := r.Form.Get("amount")
	if amount == "" {
		amount = r.Form.Get("total_amount")
	}

	result, err := h.service.ReconcilePayment(r.Context(), commands.ReconcilePaymentCommand{
		Pidx:            r.Form.Get("pidx"),
		PurchaseOrderID: r.Form.Get("purchase_order_id"),
		Status:          r.Form.Get("status"),
		Amount:          amount,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, reconciliationResponse{
		Outcome:        result.Outcome,
		Replayed:       result.Replayed,
		RequiresReview: result.RequiresReview,
		OrderID:        result.OrderID,
		OrderStatus:    result.OrderStatus,
		PaymentStatus:  result.PaymentStatus,
	})
}
