package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CollateralDeposited records a credit to a user's free collateral.
type CollateralDeposited struct {
	TransferID  uuid.UUID
	UserID      uuid.UUID
	Amount      int64 // Fixed-point: quote scale
	DepositedAt time.Time
}

func (e *CollateralDeposited) IdempotencyKey() string {
	return e.TransferID.String()
}

func (e *CollateralDeposited) EventType() EventType {
	return EventTypeCollateralDeposited
}

func (e *CollateralDeposited) Symbol() *string {
	return nil // Global event
}

// CollateralWithdrawn records a debit from a user's free collateral.
type CollateralWithdrawn struct {
	TransferID  uuid.UUID
	UserID      uuid.UUID
	Amount      int64
	WithdrawnAt time.Time
}

func (e *CollateralWithdrawn) IdempotencyKey() string {
	return e.TransferID.String()
}

func (e *CollateralWithdrawn) EventType() EventType {
	return EventTypeCollateralWithdrawn
}

func (e *CollateralWithdrawn) Symbol() *string {
	return nil
}

// ContractTransitioned records a lifecycle state change of a contract.
type ContractTransitioned struct {
	Contract       string
	FromStatus     string
	ToStatus       string
	TransitionedAt time.Time
}

func (e *ContractTransitioned) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s->%s", e.Contract, e.FromStatus, e.ToStatus)
}

func (e *ContractTransitioned) EventType() EventType {
	return EventTypeContractTransitioned
}

func (e *ContractTransitioned) Symbol() *string {
	return &e.Contract
}
