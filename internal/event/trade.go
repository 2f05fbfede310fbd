package event

import (
	"time"

	"github.com/google/uuid"
)

// TradeExecuted is emitted once per match, after both counterparties'
// positions have been updated.
type TradeExecuted struct {
	TradeID      uuid.UUID
	Contract     string
	Price        int64 // Fixed-point: price scale
	Quantity     int64 // Lots
	BuyOrderID   uuid.UUID
	SellOrderID  uuid.UUID
	BuyerID      uuid.UUID
	SellerID     uuid.UUID
	ExecutionSeq int64
	ExecutedAt   time.Time
}

func (e *TradeExecuted) IdempotencyKey() string {
	return e.TradeID.String()
}

func (e *TradeExecuted) EventType() EventType {
	return EventTypeTradeExecuted
}

func (e *TradeExecuted) Symbol() *string {
	return &e.Contract
}

// OrderRejected records an order that failed admission (validation or
// margin), for the audit trail.
type OrderRejected struct {
	OrderID  uuid.UUID
	Contract string
	OwnerID  uuid.UUID
	Reason   string
}

func (e *OrderRejected) IdempotencyKey() string {
	return e.OrderID.String()
}

func (e *OrderRejected) EventType() EventType {
	return EventTypeOrderRejected
}

func (e *OrderRejected) Symbol() *string {
	return &e.Contract
}
