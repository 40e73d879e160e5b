package container

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darkpool-go/config"
	"darkpool-go/infrastructure/logger"
	"darkpool-go/internal/engine"
	"darkpool-go/ledger"
)

func testAppConfig() config.AppConfig {
	return config.AppConfig{
		Env: "test",
		Engine: config.EngineSection{
			BlocksPerEpoch:      3,
			BlockDurationMs:     50,
			PriorityMin:         1,
			PriorityMax:         100,
			ReconcileIntervalMs: 1000,
		},
		Ledger: config.LedgerConfig{Mode: config.LedgerMemory},
		Server: config.ServerConfig{Addr: "127.0.0.1:0", MetricsAddr: "127.0.0.1:0"},
		Log:    logger.Config{Level: "error"},
	}
}

// addWhenBlockOpen retries until the real-clock scheduler has an open block.
func addWhenBlockOpen(t *testing.T, eng *engine.Engine, req engine.OrderRequest) engine.Order {
	t.Helper()
	var (
		order engine.Order
		err   error
	)
	require.Eventually(t, func() bool {
		order, err = eng.AddOrder(context.Background(), req)
		return !errors.Is(err, engine.ErrNoOpenBlock)
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	return order
}

func TestContainerLifecycle(t *testing.T) {
	c := NewWithConfig(testAppConfig())
	require.NoError(t, c.Build())
	require.Error(t, c.HealthCheck())

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.HealthCheck())
	require.True(t, c.Engine().Running())

	price := decimal.NewFromInt(2000)
	order := addWhenBlockOpen(t, c.Engine(), engine.OrderRequest{
		Symbol: "ETH-USDC", Side: engine.SideBuy, Amount: decimal.NewFromInt(1), Price: &price,
	})
	// 内存账本分配的 id
	assert.True(t, strings.HasPrefix(order.ID, "L-"), order.ID)

	require.NoError(t, c.Stop())
	assert.False(t, c.Engine().Running())
	assert.Contains(t, c.Engine().Snapshot().Orders, order.ID)
}

func TestContainerWithoutLedger(t *testing.T) {
	cfg := testAppConfig()
	cfg.Ledger.Mode = config.LedgerDisabled
	cfg.Server.MetricsAddr = ""
	c := NewWithConfig(cfg)
	require.NoError(t, c.Build())
	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop() }()

	price := decimal.NewFromInt(10)
	order := addWhenBlockOpen(t, c.Engine(), engine.OrderRequest{
		Symbol: "ETH-USDC", Side: engine.SideSell, Amount: decimal.NewFromInt(1), Price: &price,
	})
	assert.False(t, strings.HasPrefix(order.ID, "L-"), order.ID)
}

func TestContainerFromFileRegistersReloader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: test
server:
  addr: "127.0.0.1:0"
  metricsAddr: ""
log:
  level: error
`), 0o644))

	c, err := New(path)
	require.NoError(t, err)
	require.NoError(t, c.Build())
	require.NotNil(t, c.reloader)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())
}

func TestNewFailsOnInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  blocksPerEpoch: 1\n"), 0o644))
	_, err := New(path)
	require.Error(t, err)
}

type fakeComponent struct {
	name     string
	startErr error
	events   *[]string
}

func (f *fakeComponent) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	*f.events = append(*f.events, "start:"+f.name)
	return nil
}

func (f *fakeComponent) Stop() error {
	*f.events = append(*f.events, "stop:"+f.name)
	return nil
}

func (f *fakeComponent) Health() error { return nil }

func TestLifecycleOrderAndRollback(t *testing.T) {
	var events []string
	m := NewLifecycleManager()
	m.Register(&fakeComponent{name: "a", events: &events})
	m.Register(&fakeComponent{name: "b", events: &events})
	require.NoError(t, m.StartAll(context.Background()))
	require.NoError(t, m.StopAll())
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, events)

	events = nil
	m = NewLifecycleManager()
	m.Register(&fakeComponent{name: "a", events: &events})
	m.Register(&fakeComponent{name: "b", events: &events, startErr: errors.New("boom")})
	require.Error(t, m.StartAll(context.Background()))
	assert.Equal(t, []string{"start:a", "stop:a"}, events)
}

func TestContainerWrapsLedgerWithBreaker(t *testing.T) {
	cfg := testAppConfig()
	cfg.Ledger.BreakerThreshold = 3
	c := NewWithConfig(cfg)
	require.NoError(t, c.Build())
	_, ok := c.ledger.(*ledger.BreakerLedger)
	assert.True(t, ok)
}
