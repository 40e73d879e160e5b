package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(next Ledger) (*BreakerLedger, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreakerLedger(next, BreakerConfig{Threshold: 2, Timeout: time.Second, HalfOpenMaxTry: 1})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	mem := NewMemoryLedger()
	b, now := newTestBreaker(mem)
	ctx := context.Background()

	mem.SetFailure(errors.New("down"))
	_, err := b.ListOrders(ctx)
	require.Error(t, err)
	assert.Equal(t, BreakerClosed, b.State())
	_, err = b.ListOrders(ctx)
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, b.State())

	// 熔断期间不再调用账本
	calls := mem.Calls("list")
	_, err = b.ListOrders(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, calls, mem.Calls("list"))

	// 超时后半开探测成功即恢复
	mem.SetFailure(nil)
	*now = now.Add(time.Second)
	id, err := b.SubmitOrder(ctx, SideBuy, decimal.NewFromInt(1), decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	mem := NewMemoryLedger()
	b, now := newTestBreaker(mem)
	ctx := context.Background()

	mem.SetFailure(errors.New("down"))
	_, _ = b.ListOrders(ctx)
	_, _ = b.ListOrders(ctx)
	require.Equal(t, BreakerOpen, b.State())

	*now = now.Add(2 * time.Second)
	_, err := b.ListOrders(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, BreakerOpen, b.State())
}

// ctxLedger answers with the context error once the caller has given up.
type ctxLedger struct {
	*MemoryLedger
}

func (l ctxLedger) ListOrders(ctx context.Context) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.MemoryLedger.ListOrders(ctx)
}

func TestBreakerCancelledCallIsNeutral(t *testing.T) {
	mem := NewMemoryLedger()
	b, now := newTestBreaker(ctxLedger{mem})
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		_, err := b.ListOrders(cancelled)
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, BreakerClosed, b.State())

	mem.SetFailure(errors.New("down"))
	_, _ = b.ListOrders(context.Background())
	_, _ = b.ListOrders(context.Background())
	require.Equal(t, BreakerOpen, b.State())

	// 半开探测被取消不算恢复，也不占用探测名额
	mem.SetFailure(nil)
	*now = now.Add(time.Second)
	_, err := b.ListOrders(cancelled)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, BreakerHalfOpen, b.State())

	_, err = b.ListOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerIgnoresNoMatch(t *testing.T) {
	b, _ := newTestBreaker(NewMemoryLedger())
	for i := 0; i < 5; i++ {
		_, err := b.RequestMatch(context.Background())
		assert.ErrorIs(t, err, ErrNoMatch)
	}
	assert.Equal(t, BreakerClosed, b.State())
}
