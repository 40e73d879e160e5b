package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// openEpochLocked 开启一个空的新 epoch 并安排关闭定时器，block 0 由下一次节拍创建。
// 上一个 epoch 若仍为 active 则转为 matching，保证任意时刻只有一个 active epoch。
func (e *Engine) openEpochLocked() *Epoch {
	now := e.clock.Now()
	if prev := e.epochs[e.currentEpochID]; prev != nil && prev.Status == EpochActive {
		prev.Status = EpochMatching
	}

	idx := e.nextEpochIndex
	e.nextEpochIndex++
	ep := &Epoch{
		ID:        fmt.Sprintf("epoch-%d", idx),
		Index:     idx,
		Status:    EpochActive,
		StartedAt: now,
	}
	e.epochs[ep.ID] = ep
	e.currentEpochID = ep.ID
	e.scheduleCloseLocked(ep)

	e.mon.RecordEpochOpened(idx)
	e.log.LogEpoch("opened", ep.ID, idx, map[string]interface{}{
		"closes_in": e.cfg.EpochSpan().String(),
	})
	return ep
}

func (e *Engine) appendBlockLocked(ep *Epoch, now time.Time) *Block {
	b := &Block{
		ID:        fmt.Sprintf("%s-block-%d", ep.ID, len(ep.BlockIDs)),
		EpochID:   ep.ID,
		Index:     len(ep.BlockIDs),
		Status:    BlockPending,
		CreatedAt: now,
	}
	e.blocks[b.ID] = b
	ep.BlockIDs = append(ep.BlockIDs, b.ID)
	e.mon.RecordBlockCreated()
	return b
}

// scheduleCloseLocked arms the epoch's single close timer. The deadline is
// fixed at creation from the configured cadence.
func (e *Engine) scheduleCloseLocked(ep *Epoch) {
	if !e.running {
		return
	}
	gen, id := e.generation, ep.ID
	e.closeTimers[id] = e.clock.AfterFunc(e.cfg.EpochSpan(), func() { e.onEpochClose(gen, id) })
}

func (e *Engine) onBlockTick(gen, seq uint64) {
	e.mu.Lock()
	if !e.liveLocked(gen) || seq != e.tickerSeq {
		e.mu.Unlock()
		return
	}

	ep := e.epochs[e.currentEpochID]
	switch {
	case ep == nil || ep.Status != EpochActive:
		e.openEpochLocked()
	case len(ep.BlockIDs) >= e.cfg.BlocksPerEpoch:
		e.openEpochLocked()
	default:
		e.appendBlockLocked(ep, e.clock.Now())
	}
	state := e.commitLocked()
	e.mu.Unlock()

	e.notify(state)
}

func (e *Engine) onEpochClose(gen uint64, epochID string) {
	e.mu.Lock()
	if !e.liveLocked(gen) {
		e.mu.Unlock()
		return
	}
	if _, armed := e.closeTimers[epochID]; !armed {
		e.mu.Unlock()
		return
	}
	delete(e.closeTimers, epochID)
	if !e.closeEpochLocked(epochID) {
		e.mu.Unlock()
		return
	}
	state := e.commitLocked()
	e.mu.Unlock()

	e.notify(state)
}

// ForceCloseEpoch closes an epoch ahead of its timer and starts matching it.
// An empty id targets the current epoch. Epochs already matched or being
// matched are rejected with ErrEpochNotClosable.
func (e *Engine) ForceCloseEpoch(epochID string) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	if epochID == "" {
		epochID = e.currentEpochID
	}
	if !e.closeEpochLocked(epochID) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrEpochNotClosable, epochID)
	}
	state := e.commitLocked()
	e.mu.Unlock()

	e.log.Warn("epoch force-closed", zap.String("epoch_id", epochID))
	e.notify(state)
	return nil
}

// closeEpochLocked 冻结 epoch，分配优先级并启动撮合流程。
// 下一个 epoch 只由区块节拍开启，两者之间 AddOrder 返回 ErrNoOpenBlock。
func (e *Engine) closeEpochLocked(epochID string) bool {
	ep := e.epochs[epochID]
	if ep == nil || ep.Status == EpochCompleted || e.runs[epochID] != nil {
		return false
	}
	if t := e.closeTimers[epochID]; t != nil {
		t.Stop()
		delete(e.closeTimers, epochID)
	}
	if e.currentEpochID == epochID {
		ep.ForceClosed = len(ep.BlockIDs) < e.cfg.BlocksPerEpoch
	}
	ep.Status = EpochMatching

	e.progress = MatchingProgress{Phase: PhaseAssigning, EpochID: epochID}
	assigned := e.assignPrioritiesLocked(epochID)
	for _, o := range e.epochOrdersLocked(ep) {
		if o.Status == OrderInBlock {
			o.Status = OrderMatching
		}
	}

	run := e.newMatchRunLocked(ep)
	e.runs[epochID] = run
	e.scheduleRunLocked(run, e.rand.Jitter(e.cfg.MatchJitterMin, e.cfg.MatchJitterMax))

	e.log.LogEpoch("closed", ep.ID, ep.Index, map[string]interface{}{
		"blocks":       len(ep.BlockIDs),
		"orders":       ep.TotalOrders,
		"prioritized":  assigned,
		"pairs":        run.total(),
		"force_closed": ep.ForceClosed,
	})
	return true
}

// epochOrdersLocked flattens the epoch's blocks in block order, keeping
// arrival order inside each block.
func (e *Engine) epochOrdersLocked(ep *Epoch) []*Order {
	var out []*Order
	for _, bid := range ep.BlockIDs {
		b := e.blocks[bid]
		if b == nil {
			continue
		}
		for _, oid := range b.OrderIDs {
			if o := e.orders[oid]; o != nil {
				out = append(out, o)
			}
		}
	}
	return out
}
