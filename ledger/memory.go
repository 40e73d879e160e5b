package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryLedger is an in-process ledger. It records orders, lets other parties
// record orders independently (Record), and executes one crossing pair per
// RequestMatch. Used by the demo daemon and by tests.
type MemoryLedger struct {
	mu      sync.Mutex
	orders  map[string]*Order
	seq     int
	now     func() time.Time
	failErr error
	calls   map[string]int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		orders: make(map[string]*Order),
		now:    time.Now,
		calls:  make(map[string]int),
	}
}

// SetFailure makes every subsequent call fail with err; nil restores service.
func (m *MemoryLedger) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Calls returns how many times op ("submit", "list", "match") was invoked.
func (m *MemoryLedger) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Record inserts an order created outside the engine.
func (m *MemoryLedger) Record(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == "" {
		m.seq++
		o.ID = fmt.Sprintf("L-%d", m.seq)
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = m.now()
	}
	m.orders[o.ID] = &o
}

func (m *MemoryLedger) SubmitOrder(ctx context.Context, side string, amount, price decimal.Decimal) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["submit"]++
	if err := m.check(ctx); err != nil {
		return "", err
	}
	if side != SideBuy && side != SideSell {
		return "", fmt.Errorf("ledger: unknown side %q", side)
	}
	if !amount.IsPositive() {
		return "", errors.New("ledger: amount must be positive")
	}
	m.seq++
	id := fmt.Sprintf("L-%d", m.seq)
	m.orders[id] = &Order{
		ID:        id,
		Side:      side,
		Amount:    amount,
		Price:     price,
		Timestamp: m.now(),
	}
	return id, nil
}

func (m *MemoryLedger) ListOrders(ctx context.Context) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["list"]++
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// RequestMatch executes the oldest crossing buy/sell pair at the midpoint.
func (m *MemoryLedger) RequestMatch(ctx context.Context) (Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["match"]++
	if err := m.check(ctx); err != nil {
		return Match{}, err
	}

	var buys, sells []*Order
	for _, o := range m.orders {
		if o.Executed {
			continue
		}
		if o.Side == SideBuy {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}
	byAge := func(s []*Order) {
		sort.Slice(s, func(i, j int) bool {
			if s[i].Timestamp.Equal(s[j].Timestamp) {
				return s[i].ID < s[j].ID
			}
			return s[i].Timestamp.Before(s[j].Timestamp)
		})
	}
	byAge(buys)
	byAge(sells)

	for _, b := range buys {
		for _, s := range sells {
			if b.Price.LessThan(s.Price) {
				continue
			}
			b.Executed = true
			s.Executed = true
			return Match{
				BuyID:  b.ID,
				SellID: s.ID,
				Amount: decimal.Min(b.Amount, s.Amount),
				Price:  b.Price.Add(s.Price).Div(decimal.NewFromInt(2)),
			}, nil
		}
	}
	return Match{}, ErrNoMatch
}

func (m *MemoryLedger) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.failErr
}
