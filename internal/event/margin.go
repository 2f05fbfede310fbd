package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MarginCallIssued is emitted when settlement finds a position's margin
// ratio under the call threshold but at or above the liquidation threshold.
// Idempotency key: "{position}:{date}:margin_call".
type MarginCallIssued struct {
	PositionID          uuid.UUID
	UserID              uuid.UUID
	Contract            string
	SettlementDate      string
	MarginRatio         int64 // Fixed-point: fraction scale
	MarginReserved      int64 // Fixed-point: quote scale
	MaintenanceRequired int64 // Fixed-point: quote scale
	IssuedAt            time.Time
}

func (e *MarginCallIssued) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:margin_call", e.PositionID, e.SettlementDate)
}

func (e *MarginCallIssued) EventType() EventType {
	return EventTypeMarginCallIssued
}

func (e *MarginCallIssued) Symbol() *string {
	return &e.Contract
}

// MarginCallResolved is emitted when a topped-up position is verified back
// above the call threshold and returned to active.
type MarginCallResolved struct {
	PositionID  uuid.UUID
	UserID      uuid.UUID
	Contract    string
	MarginRatio int64
	ResolvedAt  time.Time
}

func (e *MarginCallResolved) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d:resolved", e.PositionID, e.ResolvedAt.UnixNano())
}

func (e *MarginCallResolved) EventType() EventType {
	return EventTypeMarginCallResolved
}

func (e *MarginCallResolved) Symbol() *string {
	return &e.Contract
}

// MarginToppedUp records a transfer from free collateral into a position's
// reserved margin.
type MarginToppedUp struct {
	PositionID uuid.UUID
	UserID     uuid.UUID
	Contract   string
	Amount     int64 // Fixed-point: quote scale
	ToppedUpAt time.Time
}

func (e *MarginToppedUp) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d:topup", e.PositionID, e.ToppedUpAt.UnixNano())
}

func (e *MarginToppedUp) EventType() EventType {
	return EventTypeMarginToppedUp
}

func (e *MarginToppedUp) Symbol() *string {
	return &e.Contract
}
