package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPClient talks to a ledger gateway over JSON/HTTP.
//
//	POST /v1/orders  {side, amount, price} -> {id}
//	GET  /v1/orders                        -> [Order]
//	POST /v1/match                         -> Match | 404 when nothing matched
type HTTPClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Limiter    RateLimiter
	MaxRetries int
	RetryDelay time.Duration
}

type submitRequest struct {
	Side   string          `json:"side"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
}

type submitResponse struct {
	ID string `json:"id"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger %s: status %d: %s", e.Op, e.Status, e.Body)
}

// NewDefaultHTTPClient returns an http.Client with a timeout.
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// SubmitOrder records an order on the ledger and returns its canonical id.
func (c *HTTPClient) SubmitOrder(ctx context.Context, side string, amount, price decimal.Decimal) (string, error) {
	body, err := json.Marshal(submitRequest{Side: side, Amount: amount, Price: price})
	if err != nil {
		return "", err
	}
	var resp submitResponse
	if _, err := c.do(ctx, "submit", http.MethodPost, "/v1/orders", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("ledger submit: empty id")
	}
	return resp.ID, nil
}

// ListOrders returns every order the ledger knows about.
func (c *HTTPClient) ListOrders(ctx context.Context) ([]Order, error) {
	var orders []Order
	if _, err := c.do(ctx, "list", http.MethodGet, "/v1/orders", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// RequestMatch asks the ledger to execute one pair. Returns ErrNoMatch on 404.
func (c *HTTPClient) RequestMatch(ctx context.Context) (Match, error) {
	var m Match
	status, err := c.do(ctx, "match", http.MethodPost, "/v1/match", nil, &m)
	if status == http.StatusNotFound {
		return Match{}, ErrNoMatch
	}
	if err != nil {
		return Match{}, err
	}
	return m, nil
}

// do sends one request, retrying transport errors and 5xx responses.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body []byte, out interface{}) (int, error) {
	if c == nil || c.HTTPClient == nil {
		return 0, fmt.Errorf("ledger %s: http client not set", op)
	}
	attempts := c.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && c.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(c.RetryDelay):
			}
		}
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return 0, err
			}
		}
		status, retry, err := c.once(ctx, op, method, path, body, out)
		if err == nil || !retry {
			return status, err
		}
		lastErr = err
	}
	return 0, lastErr
}

func (c *HTTPClient) once(ctx context.Context, op, method, path string, body []byte, out interface{}) (int, bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return 0, false, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-KEY", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		return 0, true, fmt.Errorf("ledger %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, resp.StatusCode >= 500, &StatusError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, false, fmt.Errorf("ledger %s: decode: %w", op, err)
		}
	}
	return resp.StatusCode, false, nil
}
