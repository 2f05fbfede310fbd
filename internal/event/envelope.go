package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeTradeExecuted
	EventTypeOrderRejected
	EventTypeSettlementStarted
	EventTypeSettlementCompleted
	EventTypeSettlementFailed
	EventTypeMarginCallIssued
	EventTypeMarginCallResolved
	EventTypeMarginToppedUp
	EventTypeLiquidationExecuted
	EventTypePriceTick
	EventTypeCollateralDeposited
	EventTypeCollateralWithdrawn
	EventTypeContractTransitioned
)

// Envelope wraps every event in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Contract context (nil for global events such as deposits)
	Symbol *string

	// Time the event was produced
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Symbol returns the contract context (nil for global events)
	Symbol() *string
}

func (et EventType) String() string {
	switch et {
	case EventTypeTradeExecuted:
		return "TradeExecuted"
	case EventTypeOrderRejected:
		return "OrderRejected"
	case EventTypeSettlementStarted:
		return "SettlementStarted"
	case EventTypeSettlementCompleted:
		return "SettlementCompleted"
	case EventTypeSettlementFailed:
		return "SettlementFailed"
	case EventTypeMarginCallIssued:
		return "MarginCallIssued"
	case EventTypeMarginCallResolved:
		return "MarginCallResolved"
	case EventTypeMarginToppedUp:
		return "MarginToppedUp"
	case EventTypeLiquidationExecuted:
		return "LiquidationExecuted"
	case EventTypePriceTick:
		return "PriceTick"
	case EventTypeCollateralDeposited:
		return "CollateralDeposited"
	case EventTypeCollateralWithdrawn:
		return "CollateralWithdrawn"
	case EventTypeContractTransitioned:
		return "ContractTransitioned"
	default:
		return "Unknown"
	}
}
