package event

import (
	"fmt"
	"time"
)

// SettlementStarted marks the transition of a cycle to in_progress.
// Idempotency key: "{symbol}:{date}:started".
type SettlementStarted struct {
	Contract       string
	SettlementDate string // YYYY-MM-DD
	StartedAt      time.Time
}

func (e *SettlementStarted) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:started", e.Contract, e.SettlementDate)
}

func (e *SettlementStarted) EventType() EventType {
	return EventTypeSettlementStarted
}

func (e *SettlementStarted) Symbol() *string {
	return &e.Contract
}

// SettlementCompleted summarizes a completed daily mark-to-market pass.
type SettlementCompleted struct {
	Contract        string
	SettlementDate  string
	SettlementPrice int64 // Fixed-point: price scale
	PositionsMarked int
	MarginCalls     int
	Liquidations    int
	TotalPnL        int64 // Fixed-point: quote scale, net across longs and shorts
	CompletedAt     time.Time
}

func (e *SettlementCompleted) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:completed", e.Contract, e.SettlementDate)
}

func (e *SettlementCompleted) EventType() EventType {
	return EventTypeSettlementCompleted
}

func (e *SettlementCompleted) Symbol() *string {
	return &e.Contract
}

// SettlementFailed records a cycle that exhausted its retries without a
// usable settlement price. No position state was modified.
type SettlementFailed struct {
	Contract       string
	SettlementDate string
	Reason         string
	Attempts       int
	FailedAt       time.Time
}

func (e *SettlementFailed) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:failed", e.Contract, e.SettlementDate)
}

func (e *SettlementFailed) EventType() EventType {
	return EventTypeSettlementFailed
}

func (e *SettlementFailed) Symbol() *string {
	return &e.Contract
}
