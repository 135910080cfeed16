// Package khalti is a client for the Khalti ePayment API.
package khalti

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/sony/gobreaker/v2"
)

const (
	initiatePath = "/epayment/initiate/"
	lookupPath   = "/epayment/lookup/"

	maxErrorBody    = 512
	maxResponseBody = 1 << 20
)

type Config struct {
	BaseURL    string
	SecretKey  string
	ReturnURL  string
	WebsiteURL string
	// Timeout bounds a single request. The client never retries.
	Timeout time.Duration
	// BreakerFailures consecutive unavailable responses open the breaker for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client talks to Khalti through a circuit breaker. Only unavailability trips the breaker;
// malformed responses do not.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "khalti",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isNotFound(err) || !errors.Is(err, domain.ErrGatewayUnavailable)
		},
	})

	return &Client{cfg: cfg, http: httpClient, breaker: breaker}
}

type initiateRequest struct {
	ReturnURL         string `json:"return_url"`
	WebsiteURL        string `json:"website_url"`
	Amount            int64  `json:"amount"`
	PurchaseOrderID   string `json:"purchase_order_id"`
	PurchaseOrderName string `json:"purchase_order_name"`
}

type initiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
	ExpiresAt  string `json:"expires_at"`
	ExpiresIn  int    `json:"expires_in"`
}

// Initiate registers the payment with Khalti and returns where to redirect the buyer.
func (c *Client) Initiate(ctx context.Context, intent ports.PaymentIntent) (*ports.IntentHandle, error) {
	body, err := c.post(ctx, initiatePath, initiateRequest{
		ReturnURL:         c.cfg.ReturnURL,
		WebsiteURL:        c.cfg.WebsiteURL,
		Amount:            intent.AmountMinor,
		PurchaseOrderID:   intent.PurchaseOrderID,
		PurchaseOrderName: intent.PurchaseOrderName,
	})
	if err != nil {
		return nil, err
	}

	var resp initiateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode initiate response: %w", domain.ErrGatewayProtocol, err)
	}
	if resp.Pidx == "" || resp.PaymentURL == "" {
		return nil, fmt.Errorf("%w: initiate response is missing pidx or payment_url", domain.ErrGatewayProtocol)
	}

	return &ports.IntentHandle{
		Pidx:       resp.Pidx,
		PaymentURL: resp.PaymentURL,
		ExpiresAt:  resp.expiry(time.Now().UTC()),
	}, nil
}

func (r initiateResponse) expiry(now time.Time) *time.Time {
	if r.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, r.ExpiresAt); err == nil {
			t = t.UTC()
			return &t
		}
	}
	if r.ExpiresIn > 0 {
		t := now.Add(time.Duration(r.ExpiresIn) * time.Second)
		return &t
	}
	return nil
}

type lookupRequest struct {
	Pidx string `json:"pidx"`
}

type lookupResponse struct {
	Pidx          string `json:"pidx"`
	TotalAmount   int64  `json:"total_amount"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// Lookup fetches Khalti's own record of a transaction.
func (c *Client) Lookup(ctx context.Context, pidx string) (*ports.GatewayTransaction, error) {
	body, err := c.post(ctx, lookupPath, lookupRequest{Pidx: pidx})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: gateway has no transaction %s", domain.ErrUnverifiedPayment, pidx)
		}
		return nil, err
	}

	var resp lookupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode lookup response: %w", domain.ErrGatewayProtocol, err)
	}
	if resp.Status == "" {
		return nil, fmt.Errorf("%w: lookup response is missing status", domain.ErrGatewayProtocol)
	}

	return &ports.GatewayTransaction{
		Pidx:        resp.Pidx,
		Status:      resp.Status,
		TotalAmount: resp.TotalAmount,
	}, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.code, e.body)
}

// isNotFound reports a 404 from the gateway. It means the gateway is reachable, so it never
// counts against the breaker.
func isNotFound(err error) bool {
	var status *statusError
	return errors.As(err, &status) && status.code == http.StatusNotFound
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, path, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}
	return body, err
}

func (c *Client) do(ctx context.Context, path string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, &statusError{code: resp.StatusCode, body: strings.TrimSpace(snippet)})
	}

	return body, nil
}

// ClassifyStatus maps a Khalti transaction status to the result reconciliation acts on.
// Matching is case-insensitive. Refunds and unknown statuses are rejected.
func ClassifyStatus(status string) (ports.GatewayResult, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed":
		return ports.GatewayCompleted, nil
	case "pending", "initiated":
		return ports.GatewayPending, nil
	case "user canceled", "expired", "failed":
		return ports.GatewayFailed, nil
	default:
		return "", fmt.Errorf("%w: unsupported gateway status %q", domain.ErrValidation, status)
	}
}
