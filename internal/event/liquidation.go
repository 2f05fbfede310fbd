package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LiquidationExecuted is emitted when settlement force-closes a position
// whose margin ratio fell under the liquidation threshold.
// Idempotency key: "{position}:{date}:liquidation".
type LiquidationExecuted struct {
	PositionID      uuid.UUID
	UserID          uuid.UUID
	Contract        string
	SettlementDate  string
	MarginRatio     int64 // Fixed-point: fraction scale, at time of liquidation
	ClosePrice      int64 // Fixed-point: price scale (settlement price)
	ClosedQuantity  int64 // Lots, absolute
	RealizedPnL     int64 // Fixed-point: quote scale, for the forced close
	RemainingMargin int64 // Fixed-point: quote scale, returned to the account
	LiquidatedAt    time.Time
}

func (e *LiquidationExecuted) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:liquidation", e.PositionID, e.SettlementDate)
}

func (e *LiquidationExecuted) EventType() EventType {
	return EventTypeLiquidationExecuted
}

func (e *LiquidationExecuted) Symbol() *string {
	return &e.Contract
}
