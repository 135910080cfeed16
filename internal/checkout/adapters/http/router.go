package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig carries what the router needs besides the handler. Metrics, Ready and
// MetricsHandler are optional. MetricsPath defaults to /metrics.
type RouterConfig struct {
	Auth           *Authenticator
	Metrics        *Metrics
	Ready          func(ctx context.Context) error
	MetricsPath    string
	MetricsHandler http.Handler
}

// NewRouter builds the public API. The payment callback is unauthenticated because the
// gateway redirects the buyer's browser to it.
func NewRouter(h *Handler, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(WithMetrics(cfg.Metrics))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/payments/callback", h.reconcilePayment)
		r.Post("/payments/callback", h.reconcilePayment)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.Middleware)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.getCart)
				r.Post("/lines", h.addCartLine)
				r.Patch("/lines/{lineID}", h.setCartLineQuantity)
				r.Delete("/lines/{lineID}", h.removeCartLine)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.placeOrder)
				r.Get("/", h.listOrders)
				r.Get("/{orderID}", h.getOrder)
				r.Post("/{orderID}/cancel", h.cancelOrder)
				r.Post("/{orderID}/payment", h.initiatePayment)
			})
		})
	})

	return r
}
