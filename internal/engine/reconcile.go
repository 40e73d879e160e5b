package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"darkpool-go/ledger"
)

// onReconcileTick 定时对账，失败只记录日志和告警，下个周期重试
func (e *Engine) onReconcileTick(gen uint64) {
	e.mu.Lock()
	if !e.liveLocked(gen) {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.mu.Unlock()

	if _, err := e.SyncLedger(ctx); err != nil {
		e.log.Warn("ledger reconciliation failed", zap.Error(err))
		_ = e.alerts.SendWarning("ledger reconciliation failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// SyncLedger pulls the ledger's order list and inserts every order not yet
// known locally. Local orders are never overwritten. It returns the number of
// inserted orders.
func (e *Engine) SyncLedger(ctx context.Context) (int, error) {
	if e.ledger == nil {
		return 0, nil
	}
	start := time.Now()
	list, err := e.ledger.ListOrders(ctx)
	e.mon.RecordLedgerRequest("list", time.Since(start).Seconds())
	if err != nil {
		e.mon.RecordLedgerError("list")
		return 0, fmt.Errorf("list ledger orders: %w", err)
	}

	e.mu.Lock()
	inserted := e.mergeLedgerOrdersLocked(list)
	if inserted == 0 {
		e.mu.Unlock()
		return 0, nil
	}
	state := e.commitLocked()
	e.mu.Unlock()

	e.mon.RecordReconcileInserted(inserted)
	e.log.Info("ledger orders imported", zap.Int("inserted", inserted), zap.Int("listed", len(list)))
	e.notify(state)
	return inserted, nil
}

// mergeLedgerOrdersLocked inserts absent orders only, so merging the same list
// twice leaves the state unchanged.
func (e *Engine) mergeLedgerOrdersLocked(list []ledger.Order) int {
	now := e.clock.Now()
	inserted := 0
	for _, lo := range list {
		if lo.ID == "" {
			continue
		}
		if _, ok := e.orders[lo.ID]; ok {
			continue
		}
		side := Side(lo.Side)
		if side != SideBuy && side != SideSell {
			e.log.Warn("skipping ledger order with unknown side", zap.String("order_id", lo.ID), zap.String("side", lo.Side))
			continue
		}
		created := lo.Timestamp
		if created.IsZero() {
			created = now
		}
		price := lo.Price
		o := &Order{
			ID:        lo.ID,
			Symbol:    lo.Symbol,
			Side:      side,
			Amount:    lo.Amount,
			Price:     &price,
			Status:    OrderPending,
			Source:    SourceLedger,
			CreatedAt: created,
		}
		if lo.Executed {
			p := price
			o.Status = OrderExecuted
			o.ExecutedAt = created
			o.ExecutedPrice = &p
		}
		e.orders[o.ID] = o
		inserted++
	}
	return inserted
}

func (e *Engine) scheduleGraceLocked() {
	e.graceSeq++
	gen, id := e.generation, e.graceSeq
	e.graceTimers[id] = e.clock.AfterFunc(e.cfg.LedgerGrace, func() { e.onGrace(gen, id) })
}

// onGrace asks the ledger whether it executed anything since the order was
// submitted and applies the reported price to the local orders.
func (e *Engine) onGrace(gen, id uint64) {
	e.mu.Lock()
	if _, ok := e.graceTimers[id]; !ok || !e.liveLocked(gen) {
		e.mu.Unlock()
		return
	}
	delete(e.graceTimers, id)
	ctx := e.ctx
	e.mu.Unlock()

	start := time.Now()
	m, err := e.ledger.RequestMatch(ctx)
	e.mon.RecordLedgerRequest("match", time.Since(start).Seconds())
	if errors.Is(err, ledger.ErrNoMatch) {
		return
	}
	if err != nil {
		e.mon.RecordLedgerError("match")
		e.log.Warn("ledger match request failed", zap.Error(err))
		_ = e.alerts.SendWarning("ledger match request failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	e.mu.Lock()
	exec, ok := e.applyLedgerMatchLocked(m)
	if !ok {
		e.mu.Unlock()
		return
	}
	state := e.commitLocked()
	e.mu.Unlock()

	e.log.LogMatch(exec.EpochID, map[string]interface{}{
		"via":    "ledger",
		"price":  exec.Price.String(),
		"amount": exec.Amount.String(),
	})
	e.notify(state)
	e.publishExecution(ctx, exec)
}

func (e *Engine) applyLedgerMatchLocked(m ledger.Match) (Execution, bool) {
	buy, sell := e.orders[m.BuyID], e.orders[m.SellID]
	now := e.clock.Now()
	updated := false
	apply := func(o *Order, counterpartyID string) {
		if o == nil || o.Status == OrderExecuted || o.Status == OrderCancelled {
			return
		}
		markExecuted(o, now, m.Price, e.obf.ref(o.EpochID, counterpartyID))
		updated = true
	}
	apply(buy, m.SellID)
	apply(sell, m.BuyID)
	if !updated {
		return Execution{}, false
	}

	exec := Execution{
		BuyOrderID:  m.BuyID,
		SellOrderID: m.SellID,
		Amount:      m.Amount,
		Price:       m.Price,
		ExecutedAt:  now,
		ViaLedger:   true,
	}
	for _, o := range []*Order{buy, sell} {
		if o == nil {
			continue
		}
		if exec.Symbol == "" {
			exec.Symbol = o.Symbol
		}
		if exec.EpochID == "" && o.EpochID != "" {
			exec.EpochID = o.EpochID
			if ep := e.epochs[o.EpochID]; ep != nil {
				exec.EpochIndex = ep.Index
			}
		}
	}
	return exec, true
}
