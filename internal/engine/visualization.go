package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Animation states for the display layer.
const (
	AnimIdle     = "idle"
	AnimFilling  = "filling"
	AnimMatching = "matching"
	AnimDone     = "done"
)

// EpochView is display data for one epoch. It is derived from a snapshot and
// is not authoritative.
type EpochView struct {
	ID            string      `json:"id"`
	Index         uint64      `json:"index"`
	Status        EpochStatus `json:"status"`
	Animation     string      `json:"animation"`
	Current       bool        `json:"current"`
	TotalOrders   int         `json:"totalOrders"`
	MatchedOrders int         `json:"matchedOrders"`
	Progress      float64     `json:"progress"`
	Blocks        []BlockView `json:"blocks"`
}

// BlockView shows a block with blurred order values.
type BlockView struct {
	ID     string      `json:"id"`
	Index  int         `json:"index"`
	Status BlockStatus `json:"status"`
	Orders []OrderView `json:"orders"`
}

// OrderView never carries the order id or exact values.
type OrderView struct {
	Side   Side            `json:"side"`
	Status OrderStatus     `json:"status"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
}

// VisualizationData builds the display view of the current state.
func (e *Engine) VisualizationData() []EpochView {
	return BuildVisualization(e.Snapshot())
}

// BuildVisualization orders epochs by index and blurs order values: amounts to
// one decimal place and prices to the nearest ten.
func BuildVisualization(s EngineState) []EpochView {
	views := make([]EpochView, 0, len(s.Epochs))
	for _, ep := range s.Epochs {
		v := EpochView{
			ID:            ep.ID,
			Index:         ep.Index,
			Status:        ep.Status,
			Current:       ep.ID == s.CurrentEpochID,
			TotalOrders:   ep.TotalOrders,
			MatchedOrders: ep.MatchedOrders,
		}
		switch ep.Status {
		case EpochCompleted:
			v.Animation = AnimDone
			v.Progress = 100
		case EpochMatching:
			v.Animation = AnimMatching
			if s.Progress.EpochID == ep.ID {
				v.Progress = s.Progress.Percent
			}
		default:
			if ep.TotalOrders > 0 {
				v.Animation = AnimFilling
			} else {
				v.Animation = AnimIdle
			}
		}

		for _, bid := range ep.BlockIDs {
			b, ok := s.Blocks[bid]
			if !ok {
				continue
			}
			bv := BlockView{ID: b.ID, Index: b.Index, Status: b.Status, Orders: make([]OrderView, 0, len(b.OrderIDs))}
			for _, oid := range b.OrderIDs {
				o, ok := s.Orders[oid]
				if !ok {
					continue
				}
				bv.Orders = append(bv.Orders, blurOrder(o))
			}
			v.Blocks = append(v.Blocks, bv)
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Index < views[j].Index })
	return views
}

func blurOrder(o Order) OrderView {
	v := OrderView{Side: o.Side, Status: o.Status, Amount: o.Amount.Round(1)}
	switch {
	case o.Price != nil:
		v.Price = o.Price.Round(-1)
	case o.PriceRange != nil:
		v.Price = o.PriceRange.Min.Add(o.PriceRange.Max).Div(two).Round(-1)
	}
	return v
}
