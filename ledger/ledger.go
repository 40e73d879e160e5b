// Package ledger defines the external ledger the engine can reconcile with,
// plus an HTTP client and an in-memory implementation.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Sides accepted by the ledger.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// ErrNoMatch is returned by RequestMatch when the ledger has nothing to execute.
var ErrNoMatch = errors.New("ledger: no match")

// Order is the ledger's view of an order.
type Order struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol,omitempty"`
	Side      string          `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Executed  bool            `json:"executed"`
}

// Match is a pair the ledger executed.
type Match struct {
	BuyID  string          `json:"buyId"`
	SellID string          `json:"sellId"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
}

// Ledger is an external, independently authoritative order ledger. Every call
// may fail; implementations must honour ctx cancellation.
type Ledger interface {
	SubmitOrder(ctx context.Context, side string, amount, price decimal.Decimal) (string, error)
	ListOrders(ctx context.Context) ([]Order, error)
	RequestMatch(ctx context.Context) (Match, error)
}
