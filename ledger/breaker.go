package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCircuitOpen is returned without contacting the ledger while the breaker is open.
var ErrCircuitOpen = errors.New("ledger: circuit open")

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	Threshold      int           // 连续失败多少次后熔断
	Timeout        time.Duration // 熔断后等待多久进入半开
	HalfOpenMaxTry int           // 半开状态下连续成功多少次后恢复
}

// BreakerLedger wraps a Ledger and stops calling it after Threshold
// consecutive failures. ErrNoMatch and caller cancellation are not failures.
type BreakerLedger struct {
	next Ledger
	cfg  BreakerConfig
	now  func() time.Time

	mu              sync.Mutex
	state           BreakerState
	consecutiveFail int
	halfOpenOK      int
	inFlight        bool // 半开状态只放行一个探测请求
	openTime        time.Time
}

// NewBreakerLedger 创建带熔断的账本
func NewBreakerLedger(next Ledger, cfg BreakerConfig) *BreakerLedger {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxTry <= 0 {
		cfg.HalfOpenMaxTry = 1
	}
	return &BreakerLedger{next: next, cfg: cfg, now: time.Now}
}

func (b *BreakerLedger) SubmitOrder(ctx context.Context, side string, amount, price decimal.Decimal) (string, error) {
	var id string
	err := b.call(ctx, func() error {
		var err error
		id, err = b.next.SubmitOrder(ctx, side, amount, price)
		return err
	})
	return id, err
}

func (b *BreakerLedger) ListOrders(ctx context.Context) ([]Order, error) {
	var orders []Order
	err := b.call(ctx, func() error {
		var err error
		orders, err = b.next.ListOrders(ctx)
		return err
	})
	return orders, err
}

func (b *BreakerLedger) RequestMatch(ctx context.Context) (Match, error) {
	var m Match
	err := b.call(ctx, func() error {
		var err error
		m, err = b.next.RequestMatch(ctx)
		return err
	})
	return m, err
}

// State 获取当前状态
func (b *BreakerLedger) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BreakerLedger) call(ctx context.Context, fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}
	err := fn()
	b.afterCall(ctx, err)
	return err
}

func (b *BreakerLedger) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		wait := b.cfg.Timeout - b.now().Sub(b.openTime)
		if wait > 0 {
			return fmt.Errorf("%w, retry in %v", ErrCircuitOpen, wait.Round(time.Millisecond))
		}
		b.state = BreakerHalfOpen
		b.halfOpenOK = 0
		b.inFlight = true
		return nil
	case BreakerHalfOpen:
		if b.inFlight {
			return fmt.Errorf("%w, half-open call in flight", ErrCircuitOpen)
		}
		b.inFlight = true
		return nil
	default:
		return nil
	}
}

func (b *BreakerLedger) afterCall(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inFlight = false

	if err != nil && !errors.Is(err, ErrNoMatch) && ctx.Err() != nil {
		// 调用方取消，账本未作答，状态不变
		return
	}
	if err == nil || errors.Is(err, ErrNoMatch) {
		b.consecutiveFail = 0
		if b.state == BreakerHalfOpen {
			b.halfOpenOK++
			if b.halfOpenOK >= b.cfg.HalfOpenMaxTry {
				b.state = BreakerClosed
			}
		}
		return
	}

	b.consecutiveFail++
	switch b.state {
	case BreakerClosed:
		if b.consecutiveFail >= b.cfg.Threshold {
			b.state = BreakerOpen
			b.openTime = b.now()
		}
	case BreakerHalfOpen:
		// 半开状态下失败，立即重新打开
		b.state = BreakerOpen
		b.openTime = b.now()
	}
}
