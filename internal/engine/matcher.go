package engine

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var two = decimal.NewFromInt(2)

// matchRun is the in-flight matching of one closed epoch. Buys are ordered by
// priority descending and sells ascending; pair i is buys[i] against sells[i].
type matchRun struct {
	epochID  string
	buys     []string
	sells    []string
	next     int
	executed int
	timer    Timer
}

func (r *matchRun) total() int {
	return min(len(r.buys), len(r.sells))
}

func (e *Engine) newMatchRunLocked(ep *Epoch) *matchRun {
	var buys, sells []*Order
	for _, o := range e.epochOrdersLocked(ep) {
		if o.Status != OrderMatching {
			continue
		}
		switch o.Side {
		case SideBuy:
			buys = append(buys, o)
		case SideSell:
			sells = append(sells, o)
		}
	}
	sort.SliceStable(buys, func(i, j int) bool { return priorityOf(buys[i]) > priorityOf(buys[j]) })
	sort.SliceStable(sells, func(i, j int) bool { return priorityOf(sells[i]) < priorityOf(sells[j]) })

	run := &matchRun{epochID: ep.ID}
	for _, o := range buys {
		run.buys = append(run.buys, o.ID)
	}
	for _, o := range sells {
		run.sells = append(run.sells, o.ID)
	}
	return run
}

func priorityOf(o *Order) int {
	if o.Priority == nil {
		return 0
	}
	return *o.Priority
}

func (e *Engine) scheduleRunLocked(run *matchRun, d time.Duration) {
	stopTimer(&run.timer)
	gen, id := e.generation, run.epochID
	run.timer = e.clock.AfterFunc(d, func() { e.runStep(gen, id) })
}

// runStep 处理一对订单并发布进度。成交后等待随机抖动再处理下一对，
// 未成交则立即继续。
func (e *Engine) runStep(gen uint64, epochID string) {
	e.mu.Lock()
	if !e.liveLocked(gen) {
		e.mu.Unlock()
		return
	}
	run := e.runs[epochID]
	if run == nil {
		e.mu.Unlock()
		return
	}
	run.timer = nil

	var exec *Execution
	total := run.total()
	if run.next < total {
		i := run.next
		run.next++
		exec = e.processPairLocked(run, i)
		pct := float64(i+1) / float64(total) * 100
		e.progress = MatchingProgress{Phase: PhaseMatching, EpochID: epochID, Percent: pct}
		e.mon.UpdateMatchingProgress(pct)
	}

	if run.next >= total {
		e.finalizeEpochLocked(run)
	} else {
		var delay time.Duration
		if exec != nil {
			delay = e.rand.Jitter(e.cfg.MatchJitterMin, e.cfg.MatchJitterMax)
		}
		e.scheduleRunLocked(run, delay)
	}
	state := e.commitLocked()
	ctx := e.ctx
	e.mu.Unlock()

	e.notify(state)
	if exec != nil {
		e.publishExecution(ctx, *exec)
	}
}

// canMatch requires a fixed price on both sides with the buy at or above the sell.
func canMatch(buy, sell *Order) bool {
	if buy.Price == nil || sell.Price == nil {
		return false
	}
	return buy.Price.GreaterThanOrEqual(*sell.Price)
}

func (e *Engine) processPairLocked(run *matchRun, i int) *Execution {
	buy, sell := e.orders[run.buys[i]], e.orders[run.sells[i]]
	if buy == nil || sell == nil ||
		buy.Status != OrderMatching || sell.Status != OrderMatching ||
		!canMatch(buy, sell) {
		e.mon.RecordPairSkipped()
		return nil
	}

	now := e.clock.Now()
	price := buy.Price.Add(*sell.Price).Div(two)
	buyRef := e.obf.ref(run.epochID, buy.ID)
	sellRef := e.obf.ref(run.epochID, sell.ID)
	markExecuted(buy, now, price, sellRef)
	markExecuted(sell, now, price, buyRef)
	run.executed++

	amount := decimal.Min(buy.Amount, sell.Amount)
	e.mon.RecordMatch(amount.InexactFloat64())
	e.log.LogMatch(run.epochID, map[string]interface{}{
		"pair":     i,
		"buy_ref":  buyRef,
		"sell_ref": sellRef,
		"price":    price.String(),
		"amount":   amount.String(),
	})

	ep := e.epochs[run.epochID]
	return &Execution{
		EpochID:     run.epochID,
		EpochIndex:  ep.Index,
		Symbol:      buy.Symbol,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Amount:      amount,
		Price:       price,
		ExecutedAt:  now,
	}
}

func markExecuted(o *Order, at time.Time, price decimal.Decimal, counterpartyRef string) {
	p := price
	o.Status = OrderExecuted
	o.ExecutedAt = at
	o.ExecutedPrice = &p
	o.Counterparties = append(o.Counterparties, counterpartyRef)
}

// finalizeEpochLocked 收尾：未成交订单过期，区块按是否有成交标记 completed/expired。
func (e *Engine) finalizeEpochLocked(run *matchRun) {
	delete(e.runs, run.epochID)
	ep := e.epochs[run.epochID]
	now := e.clock.Now()

	expired := 0
	for _, bid := range ep.BlockIDs {
		b := e.blocks[bid]
		if b == nil {
			continue
		}
		filled := false
		for _, oid := range b.OrderIDs {
			o := e.orders[oid]
			if o == nil {
				continue
			}
			if o.Status == OrderMatching || o.Status == OrderInBlock {
				o.Status = OrderExpired
				expired++
			}
			if o.Status == OrderExecuted {
				filled = true
			}
		}
		if filled {
			b.Status = BlockCompleted
		} else {
			b.Status = BlockExpired
		}
	}

	ep.MatchedOrders = run.executed
	ep.Status = EpochCompleted
	ep.CompletedAt = now
	if len(e.runs) == 0 {
		e.progress = MatchingProgress{Phase: PhaseIdle}
		e.mon.UpdateMatchingProgress(0)
	}

	e.mon.RecordEpochCompleted()
	e.log.LogEpoch("completed", ep.ID, ep.Index, map[string]interface{}{
		"matched": ep.MatchedOrders,
		"expired": expired,
		"total":   ep.TotalOrders,
	})
}

func (e *Engine) publishExecution(ctx context.Context, exec Execution) {
	if e.sink == nil {
		return
	}
	if err := e.sink.PublishExecution(ctx, exec); err != nil {
		e.log.Warn("publish execution failed",
			zap.String("epoch_id", exec.EpochID),
			zap.Error(err),
		)
		_ = e.alerts.SendWarning("execution publish failed", map[string]interface{}{
			"epoch_id": exec.EpochID,
			"error":    err.Error(),
		})
	}
}
