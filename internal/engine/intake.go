package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AddOrder validates req and admits it to the newest block of the current
// epoch. With reconciliation enabled the ledger must accept the order first and
// its id becomes the order id; a ledger failure leaves local state untouched.
func (e *Engine) AddOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if err := validateRequest(req); err != nil {
		e.mon.RecordOrderRejected("invalid")
		return Order{}, err
	}

	e.mu.Lock()
	if _, _, err := e.openBlockLocked(); err != nil {
		e.mu.Unlock()
		e.mon.RecordOrderRejected("no_block")
		return Order{}, err
	}
	useLedger := e.ledger != nil && e.cfg.ReconciliationEnabled
	e.mu.Unlock()

	id := uuid.NewString()
	if useLedger {
		lid, err := e.submitToLedger(ctx, req)
		if err != nil {
			e.mon.RecordOrderRejected("ledger")
			e.log.Warn("ledger rejected order", zap.String("symbol", req.Symbol), zap.Error(err))
			return Order{}, fmt.Errorf("%w: %w", ErrLedgerRejected, err)
		}
		id = lid
	}

	e.mu.Lock()
	ep, block, err := e.openBlockLocked()
	if err != nil {
		// 区块在账本调用期间关闭，账本侧订单由下次对账导入
		e.mu.Unlock()
		e.mon.RecordOrderRejected("no_block")
		if useLedger {
			e.log.Warn("ledger accepted order but no block is open",
				zap.String("ledger_id", id),
				zap.String("symbol", req.Symbol),
				zap.Error(err),
			)
		}
		return Order{}, err
	}
	now := e.clock.Now()
	o, err := e.admitLocked(id, req, ep, block, now)
	if err != nil {
		e.mu.Unlock()
		e.mon.RecordOrderRejected("duplicate")
		return Order{}, err
	}
	if useLedger {
		e.scheduleGraceLocked()
	}
	out := o.clone()
	state := e.commitLocked()
	e.mu.Unlock()

	e.mon.RecordOrderAdmitted()
	e.log.LogOrder("admitted", out.ID, map[string]interface{}{
		"epoch_id": out.EpochID,
		"block_id": out.BlockID,
		"side":     string(out.Side),
	})
	e.notify(state)
	return out, nil
}

func (e *Engine) admitLocked(id string, req OrderRequest, ep *Epoch, block *Block, now time.Time) (*Order, error) {
	o := e.orders[id]
	switch {
	case o == nil:
		o = &Order{ID: id, Status: OrderPending, CreatedAt: now}
	case o.Source == SourceLedger && o.BlockID == "":
		// 对账循环已先一步导入了该账本订单，由本地接收接管
	default:
		return nil, fmt.Errorf("%w: duplicate order id %q", ErrLedgerRejected, id)
	}

	o.Symbol = req.Symbol
	o.Side = req.Side
	o.Amount = req.Amount
	o.Price = copyDecimal(req.Price)
	o.PriceRange = nil
	if req.PriceRange != nil {
		r := *req.PriceRange
		o.PriceRange = &r
	}
	o.Source = SourceLocal
	o.BlockID = block.ID
	o.EpochID = ep.ID
	if o.Status != OrderExecuted {
		o.Status = OrderInBlock
	}

	if len(block.OrderIDs) == 0 {
		block.Status = BlockMatching
	}
	block.OrderIDs = append(block.OrderIDs, o.ID)
	ep.TotalOrders++
	e.orders[o.ID] = o
	return o, nil
}

// openBlockLocked returns the current epoch and its newest block.
func (e *Engine) openBlockLocked() (*Epoch, *Block, error) {
	if !e.running {
		return nil, nil, fmt.Errorf("%w: engine stopped", ErrNoOpenBlock)
	}
	ep := e.epochs[e.currentEpochID]
	if ep == nil || ep.Status != EpochActive || len(ep.BlockIDs) == 0 {
		return nil, nil, ErrNoOpenBlock
	}
	b := e.blocks[ep.BlockIDs[len(ep.BlockIDs)-1]]
	if b == nil {
		return nil, nil, ErrNoOpenBlock
	}
	return ep, b, nil
}

func (e *Engine) submitToLedger(ctx context.Context, req OrderRequest) (string, error) {
	start := time.Now()
	id, err := e.ledger.SubmitOrder(ctx, string(req.Side), req.Amount, ledgerPrice(req))
	e.mon.RecordLedgerRequest("submit", time.Since(start).Seconds())
	if err != nil {
		e.mon.RecordLedgerError("submit")
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("ledger returned empty order id")
	}
	return id, nil
}

// ledgerPrice is the fixed price, or the midpoint of the band.
func ledgerPrice(req OrderRequest) decimal.Decimal {
	if req.Price != nil {
		return *req.Price
	}
	return req.PriceRange.Min.Add(req.PriceRange.Max).Div(two)
}

func validateRequest(req OrderRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return fmt.Errorf("%w: side must be buy or sell, got %q", ErrInvalidOrder, req.Side)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be > 0", ErrInvalidOrder)
	}
	switch {
	case req.Price != nil && req.PriceRange != nil:
		return fmt.Errorf("%w: price and priceRange are mutually exclusive", ErrInvalidOrder)
	case req.Price != nil:
		if !req.Price.IsPositive() {
			return fmt.Errorf("%w: price must be > 0", ErrInvalidOrder)
		}
	case req.PriceRange != nil:
		if !req.PriceRange.Min.IsPositive() || req.PriceRange.Max.LessThan(req.PriceRange.Min) {
			return fmt.Errorf("%w: priceRange must satisfy 0 < min <= max", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: price or priceRange is required", ErrInvalidOrder)
	}
	return nil
}

// CancelOrder withdraws an order still waiting in the active epoch. The
// epoch's order count keeps counting it as admitted.
func (e *Engine) CancelOrder(id string) (Order, error) {
	e.mu.Lock()
	o := e.orders[id]
	if o == nil {
		e.mu.Unlock()
		return Order{}, fmt.Errorf("%w: %q", ErrUnknownOrder, id)
	}
	ep := e.epochs[o.EpochID]
	if o.Status != OrderInBlock || ep == nil || ep.Status != EpochActive {
		e.mu.Unlock()
		return Order{}, fmt.Errorf("%w: %q is %s", ErrOrderNotCancellable, id, o.Status)
	}
	o.Status = OrderCancelled
	out := o.clone()
	state := e.commitLocked()
	e.mu.Unlock()

	e.mon.RecordOrderCancelled()
	e.log.LogOrder("cancelled", id, nil)
	e.notify(state)
	return out, nil
}

func copyDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
