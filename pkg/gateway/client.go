package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUnavailable marks transport failures and non-2xx responses from the gateway.
var ErrUnavailable = errors.New("payment gateway unavailable")

// Config configures the payment service client.
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// OrderRequest asks the gateway to open an order.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order is the gateway's view of a created order.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// VerifyRequest carries a checkout callback for signature verification.
type VerifyRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
	CourseID  string `json:"course_id"`
}

// VerifyResponse is the gateway verdict.
type VerifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
	Message string `json:"message"`
}

// Client talks to the gateway-adjacent payment service over HTTP.
type Client struct {
	http *resty.Client
}

// NewClient builds a Client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.KeyID != "" {
		rc.SetBasicAuth(cfg.KeyID, cfg.KeySecret)
	}
	return &Client{http: rc}
}

// CreateOrder opens a new order.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var order Order
	var failure errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&order).
		SetError(&failure).
		Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("%w: create order: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: create order: status %d: %s", ErrUnavailable, resp.StatusCode(), failure.describe())
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: create order: empty order id", ErrUnavailable)
	}
	return &order, nil
}

// VerifyPayment asks the gateway whether a callback's signature is genuine.
// A 4xx carrying a verdict body is a verification answer, not a transport failure.
func (c *Client) VerifyPayment(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	var verdict VerifyResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&verdict).
		SetError(&verdict).
		Post("/payments/verify")
	if err != nil {
		return nil, fmt.Errorf("%w: verify payment: %v", ErrUnavailable, err)
	}
	switch {
	case resp.IsSuccess():
		return &verdict, nil
	case resp.StatusCode() == http.StatusBadRequest || resp.StatusCode() == http.StatusUnprocessableEntity:
		verdict.Success = false
		if verdict.Message == "" {
			verdict.Message = "payment signature mismatch"
		}
		return &verdict, nil
	default:
		return nil, fmt.Errorf("%w: verify payment: status %d", ErrUnavailable, resp.StatusCode())
	}
}

func (b errorBody) describe() string {
	if b.Error.Description != "" {
		return b.Error.Description
	}
	if b.Message != "" {
		return b.Message
	}
	return "unknown error"
}
