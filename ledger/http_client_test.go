package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    url,
		APIKey:     "k",
		HTTPClient: NewDefaultHTTPClient(),
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}
}

func TestHTTPClientSubmitOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-KEY"))

		var req submitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, SideBuy, req.Side)
		assert.True(t, req.Price.Equal(decimal.NewFromInt(2000)))

		_ = json.NewEncoder(w).Encode(submitResponse{ID: "L-42"})
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL).SubmitOrder(context.Background(), SideBuy, decimal.RequireFromString("1.5"), decimal.NewFromInt(2000))
	require.NoError(t, err)
	assert.Equal(t, "L-42", id)
}

func TestHTTPClientSubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient balance", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).SubmitOrder(context.Background(), SideSell, decimal.NewFromInt(1), decimal.NewFromInt(1))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Status)
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode([]Order{{ID: "L-1", Side: SideBuy, Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(10)}})
	}))
	defer srv.Close()

	orders, err := newTestClient(srv.URL).ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "L-1", orders[0].ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestHTTPClientRequestMatchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).RequestMatch(context.Background())
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestHTTPClientRequestMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"buyId":"a","sellId":"b","amount":"1","price":1995}`))
	}))
	defer srv.Close()

	m, err := newTestClient(srv.URL).RequestMatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", m.BuyID)
	assert.True(t, m.Price.Equal(decimal.NewFromInt(1995)))
}

func TestHTTPClientWithoutTransport(t *testing.T) {
	c := &HTTPClient{BaseURL: "http://invalid"}
	_, err := c.ListOrders(context.Background())
	assert.Error(t, err)
}

func TestTokenBucketLimiterHonoursContext(t *testing.T) {
	l := NewTokenBucketLimiter(0.001, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}
