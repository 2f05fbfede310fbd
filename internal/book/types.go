// Package book implements a continuous double-auction order book with
// price-time priority, one book per contract.
package book

import (
	"time"

	"github.com/google/uuid"
)

// Side is the order direction.
type Side int32

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign returns +1 for buy, -1 for sell.
func (s Side) Sign() int64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// OrderType selects matching semantics for the remainder.
type OrderType int32

const (
	OrderTypeLimit OrderType = iota
	OrderTypeMarket
	OrderTypeIOC // limit that never rests; remainder is discarded
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeMarket:
		return "market"
	case OrderTypeIOC:
		return "ioc"
	default:
		return "unknown"
	}
}

// OrderStatus tracks an order through its book lifetime.
type OrderStatus int32

const (
	OrderStatusResting OrderStatus = iota
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusResting:
		return "resting"
	case OrderStatusPartiallyFilled:
		return "partially_filled"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is a book-resident intent. Quantity is the remaining open quantity,
// decremented on partial fills. Seq is a per-book monotonic submission
// sequence used for deterministic time priority, not a wall clock.
type Order struct {
	ID               uuid.UUID
	Symbol           string
	Side             Side
	Type             OrderType
	Price            int64 // fpmath.PriceConfig scale; 0 for market orders
	Quantity         int64 // remaining lots
	OriginalQuantity int64
	Seq              int64
	OwnerID          uuid.UUID
	Status           OrderStatus
}

// Filled returns the cumulative matched quantity.
func (o *Order) Filled() int64 {
	return o.OriginalQuantity - o.Quantity
}

// TradeStatus advances monotonically as clearing and settlement consume the
// trade: completed → cleared → settled.
type TradeStatus int32

const (
	TradeStatusCompleted TradeStatus = iota
	TradeStatusCleared
	TradeStatusSettled
)

func (s TradeStatus) String() string {
	switch s {
	case TradeStatusCompleted:
		return "completed"
	case TradeStatusCleared:
		return "cleared"
	case TradeStatusSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Trade is the immutable record of one match. Price is always the resting
// (maker) order's price.
type Trade struct {
	ID           uuid.UUID
	Symbol       string
	Price        int64
	Quantity     int64
	BuyOrderID   uuid.UUID
	SellOrderID  uuid.UUID
	BuyerID      uuid.UUID
	SellerID     uuid.UUID
	ExecutionSeq int64 // global increasing across all contracts
	Status       TradeStatus
	ExecutedAt   time.Time
}

// AdvanceStatus moves the trade status forward. Regressions are ignored.
func (t *Trade) AdvanceStatus(next TradeStatus) {
	if next > t.Status {
		t.Status = next
	}
}

// SubmitResult is the outcome of one submission: zero or more trades plus
// the resting remainder, if any.
type SubmitResult struct {
	Trades  []*Trade
	Resting *Order
}

// DepthLevel is one aggregated price level in a book snapshot.
type DepthLevel struct {
	Price             int64 `json:"price"`
	AggregateQuantity int64 `json:"aggregate_quantity"`
	Orders            int   `json:"orders"`
}
