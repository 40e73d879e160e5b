// Package engine implements the batch matching engine: orders are collected
// into time-sliced blocks, blocks into epochs, and each closed epoch is matched
// as one unit under randomly assigned priorities.
package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"darkpool-go/infrastructure/alert"
	"darkpool-go/infrastructure/logger"
	"darkpool-go/infrastructure/monitor"
	"darkpool-go/ledger"
)

// ExecutionSink receives every executed pair. Calls happen outside the engine
// lock, in execution order per epoch.
type ExecutionSink interface {
	PublishExecution(ctx context.Context, exec Execution) error
}

// Options 引擎依赖组件，均可为空
type Options struct {
	Clock   Clock
	Rand    Randomizer
	Ledger  ledger.Ledger
	Logger  *logger.Logger
	Monitor *monitor.Monitor
	Sink    ExecutionSink
	Alerts  *alert.Manager
}

// Engine 撮合引擎。所有状态修改在 mu 下串行执行，订阅者在锁外收到快照。
type Engine struct {
	mu  sync.Mutex
	cfg Config

	clock  Clock
	rand   Randomizer
	ledger ledger.Ledger
	log    *logger.Logger
	mon    *monitor.Monitor
	sink   ExecutionSink
	alerts *alert.Manager
	obf    obfuscator

	// 状态
	epochs         map[string]*Epoch
	blocks         map[string]*Block
	orders         map[string]*Order
	currentEpochID string
	progress       MatchingProgress
	version        uint64
	nextEpochIndex uint64

	// 运行控制
	running         bool
	generation      uint64
	ctx             context.Context
	cancel          context.CancelFunc
	blockTicker     Timer
	tickerSeq       uint64
	reconcileTicker Timer
	closeTimers     map[string]Timer
	runs            map[string]*matchRun
	graceTimers     map[uint64]Timer
	graceSeq        uint64

	subMu  sync.Mutex
	subs   []subscription
	subSeq uint64
}

// New 创建引擎。配置非法时返回 ErrInvalidConfig。
func New(cfg Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Rand == nil {
		opts.Rand = NewRandomizer(0)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Engine{
		cfg:         cfg,
		clock:       opts.Clock,
		rand:        opts.Rand,
		ledger:      opts.Ledger,
		log:         opts.Logger,
		mon:         opts.Monitor,
		sink:        opts.Sink,
		alerts:      opts.Alerts,
		obf:         newObfuscator(),
		epochs:      make(map[string]*Epoch),
		blocks:      make(map[string]*Block),
		orders:      make(map[string]*Order),
		progress:    MatchingProgress{Phase: PhaseIdle},
		ctx:         context.Background(),
		closeTimers: make(map[string]Timer),
		runs:        make(map[string]*matchRun),
		graceTimers: make(map[uint64]Timer),
	}, nil
}

// Start 启动区块调度和对账循环。若当前没有 epoch 则立即开启一个。
// 重启时不会补发停止期间错过的 epoch 关闭定时器，可用 ForceCloseEpoch 手动关闭。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.generation++
	e.ctx, e.cancel = context.WithCancel(ctx)

	// 节拍先于 epoch 的关闭定时器注册，同一时刻到期时先补齐最后一个区块
	e.armBlockTickerLocked()
	if e.currentEpochID == "" {
		e.openEpochLocked()
	}
	e.armReconcileLocked()
	for _, run := range e.runs {
		e.scheduleRunLocked(run, 0)
	}
	state := e.commitLocked()
	e.mu.Unlock()

	e.log.Info("engine started",
		zap.String("current_epoch", state.CurrentEpochID),
		zap.Int("blocks_per_epoch", state.Config.BlocksPerEpoch),
		zap.Duration("block_duration", state.Config.BlockDuration),
		zap.Bool("reconciliation", state.Config.ReconciliationEnabled),
	)
	e.notify(state)
	return nil
}

// Stop 停止所有定时器，保留已累积的状态。
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.running = false
	e.generation++

	stopTimer(&e.blockTicker)
	stopTimer(&e.reconcileTicker)
	for id, t := range e.closeTimers {
		t.Stop()
		delete(e.closeTimers, id)
	}
	for id, t := range e.graceTimers {
		t.Stop()
		delete(e.graceTimers, id)
	}
	for _, run := range e.runs {
		stopTimer(&run.timer)
	}
	interrupted := len(e.runs)
	if e.cancel != nil {
		e.cancel()
	}
	state := e.commitLocked()
	e.mu.Unlock()

	e.log.Info("engine stopped", zap.Int("interrupted_runs", interrupted))
	e.notify(state)
	return nil
}

// Running reports whether timers are armed.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// UpdateConfig applies a partial update. An invalid result is rejected and the
// previous configuration stays in effect. Changing BlockDuration replaces the
// block ticker; already scheduled epoch closes keep their deadlines.
func (e *Engine) UpdateConfig(patch ConfigPatch) (Config, error) {
	e.mu.Lock()
	old := e.cfg
	next := patch.Apply(old)
	if err := next.Validate(); err != nil {
		e.mu.Unlock()
		e.log.Warn("config update rejected", zap.Error(err))
		return old, err
	}
	e.cfg = next

	if e.running {
		if next.BlockDuration != old.BlockDuration {
			e.armBlockTickerLocked()
		}
		if next.ReconciliationEnabled != old.ReconciliationEnabled || next.ReconcileInterval != old.ReconcileInterval {
			e.armReconcileLocked()
		}
	}
	state := e.commitLocked()
	e.mu.Unlock()

	e.log.Info("config updated",
		zap.Int("blocks_per_epoch", next.BlocksPerEpoch),
		zap.Duration("block_duration", next.BlockDuration),
		zap.Duration("epoch_matching_delay", next.EpochMatchingDelay),
		zap.Int("priority_min", next.PriorityMin),
		zap.Int("priority_max", next.PriorityMax),
		zap.Bool("reconciliation", next.ReconciliationEnabled),
	)
	e.notify(state)
	return next, nil
}

func (e *Engine) armBlockTickerLocked() {
	stopTimer(&e.blockTicker)
	e.tickerSeq++
	seq, gen := e.tickerSeq, e.generation
	e.blockTicker = e.clock.NewTicker(e.cfg.BlockDuration, func() { e.onBlockTick(gen, seq) })
}

func (e *Engine) armReconcileLocked() {
	stopTimer(&e.reconcileTicker)
	if e.ledger == nil || !e.cfg.ReconciliationEnabled {
		return
	}
	gen := e.generation
	e.reconcileTicker = e.clock.NewTicker(e.cfg.ReconcileInterval, func() { e.onReconcileTick(gen) })
}

// liveLocked reports whether a callback armed in generation gen may still act.
func (e *Engine) liveLocked(gen uint64) bool {
	return e.running && gen == e.generation
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
