package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus represents the order lifecycle.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderInBlock   OrderStatus = "in-block"
	OrderMatching  OrderStatus = "matching"
	OrderExecuted  OrderStatus = "executed"
	OrderExpired   OrderStatus = "expired"
	OrderCancelled OrderStatus = "cancelled"
)

// BlockStatus represents the block lifecycle.
type BlockStatus string

const (
	BlockPending   BlockStatus = "pending"
	BlockMatching  BlockStatus = "matching"
	BlockCompleted BlockStatus = "completed"
	BlockExpired   BlockStatus = "expired"
)

// EpochStatus represents the epoch lifecycle. Transitions only move forward.
type EpochStatus string

const (
	EpochActive    EpochStatus = "active"
	EpochMatching  EpochStatus = "matching"
	EpochCompleted EpochStatus = "completed"
)

// OrderSource tells where an order was first recorded.
type OrderSource string

const (
	SourceLocal  OrderSource = "local"
	SourceLedger OrderSource = "ledger"
)

// PriceRange is an acceptable price band. Orders carrying only a range are
// not matchable by the batch matcher.
type PriceRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// OrderRequest is the caller-supplied payload for AddOrder.
// Exactly one of Price and PriceRange must be set.
type OrderRequest struct {
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"side"`
	Amount     decimal.Decimal  `json:"amount"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	PriceRange *PriceRange      `json:"priceRange,omitempty"`
}

// Order is a single trade intent.
type Order struct {
	ID                 string           `json:"id"`
	Symbol             string           `json:"symbol"`
	Side               Side             `json:"side"`
	Amount             decimal.Decimal  `json:"amount"`
	Price              *decimal.Decimal `json:"price,omitempty"`
	PriceRange         *PriceRange      `json:"priceRange,omitempty"`
	Status             OrderStatus      `json:"status"`
	Source             OrderSource      `json:"source"`
	CreatedAt          time.Time        `json:"createdAt"`
	BlockID            string           `json:"blockId,omitempty"`
	EpochID            string           `json:"epochId,omitempty"`
	Priority           *int             `json:"priority,omitempty"`
	PriorityAssignedAt time.Time        `json:"priorityAssignedAt,omitempty"`
	ExecutedAt         time.Time        `json:"executedAt,omitempty"`
	ExecutedPrice      *decimal.Decimal `json:"executedPrice,omitempty"`
	Counterparties     []string         `json:"counterparties,omitempty"`
}

func (o *Order) clone() Order {
	c := *o
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	if o.PriceRange != nil {
		r := *o.PriceRange
		c.PriceRange = &r
	}
	if o.Priority != nil {
		p := *o.Priority
		c.Priority = &p
	}
	if o.ExecutedPrice != nil {
		p := *o.ExecutedPrice
		c.ExecutedPrice = &p
	}
	c.Counterparties = append([]string(nil), o.Counterparties...)
	return c
}

// Block is a time slice of an epoch holding orders in arrival order.
type Block struct {
	ID        string      `json:"id"`
	EpochID   string      `json:"epochId"`
	Index     int         `json:"index"`
	OrderIDs  []string    `json:"orderIds"`
	Status    BlockStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

func (b *Block) clone() Block {
	c := *b
	c.OrderIDs = append([]string(nil), b.OrderIDs...)
	return c
}

// Epoch is the matching unit: a fixed number of consecutive blocks.
type Epoch struct {
	ID            string      `json:"id"`
	Index         uint64      `json:"index"`
	BlockIDs      []string    `json:"blockIds"`
	Status        EpochStatus `json:"status"`
	StartedAt     time.Time   `json:"startedAt"`
	CompletedAt   time.Time   `json:"completedAt,omitempty"`
	TotalOrders   int         `json:"totalOrders"`
	MatchedOrders int         `json:"matchedOrders"`
	// ForceClosed is set when the epoch closed before reaching its block quota.
	ForceClosed bool `json:"forceClosed,omitempty"`
}

func (e *Epoch) clone() Epoch {
	c := *e
	c.BlockIDs = append([]string(nil), e.BlockIDs...)
	return c
}

// MatchingPhase describes what the matcher is doing.
type MatchingPhase string

const (
	PhaseIdle      MatchingPhase = "idle"
	PhaseAssigning MatchingPhase = "assigning"
	PhaseMatching  MatchingPhase = "matching"
)

// MatchingProgress is published while an epoch is being matched.
type MatchingProgress struct {
	Phase   MatchingPhase `json:"phase"`
	EpochID string        `json:"epochId,omitempty"`
	Percent float64       `json:"percent"`
}

// EngineState is a read-only snapshot of the engine.
type EngineState struct {
	Version        uint64           `json:"version"`
	Running        bool             `json:"running"`
	Config         Config           `json:"config"`
	CurrentEpochID string           `json:"currentEpochId,omitempty"`
	Epochs         map[string]Epoch `json:"epochs"`
	Blocks         map[string]Block `json:"blocks"`
	Orders         map[string]Order `json:"orders"`
	Progress       MatchingProgress `json:"progress"`
}

// Execution is one executed buy/sell pair, emitted to the ExecutionSink.
type Execution struct {
	EpochID     string          `json:"epochId"`
	EpochIndex  uint64          `json:"epochIndex"`
	Symbol      string          `json:"symbol"`
	BuyOrderID  string          `json:"buyOrderId"`
	SellOrderID string          `json:"sellOrderId"`
	Amount      decimal.Decimal `json:"amount"`
	Price       decimal.Decimal `json:"price"`
	ExecutedAt  time.Time       `json:"executedAt"`
	ViaLedger   bool            `json:"viaLedger,omitempty"`
}
