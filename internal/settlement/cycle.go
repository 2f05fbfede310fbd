package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CycleStatus is the lifecycle state of one daily settlement cycle.
type CycleStatus int32

const (
	CycleStatusPending CycleStatus = iota
	CycleStatusInProgress
	CycleStatusCompleted
	CycleStatusFailed
)

func (s CycleStatus) String() string {
	switch s {
	case CycleStatusPending:
		return "pending"
	case CycleStatusInProgress:
		return "in_progress"
	case CycleStatusCompleted:
		return "completed"
	case CycleStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// cycleTransitions holds the allowed forward edges. Completed and failed are
// terminal, except that a failed cycle may be re-run from pending.
var cycleTransitions = map[CycleStatus][]CycleStatus{
	CycleStatusPending:    {CycleStatusInProgress},
	CycleStatusInProgress: {CycleStatusCompleted, CycleStatusFailed},
	CycleStatusFailed:     {CycleStatusPending},
}

func (s CycleStatus) CanTransitionTo(next CycleStatus) bool {
	for _, allowed := range cycleTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// transition advances the cycle along a declared edge. Callers hold the
// engine's cycle lock.
func (c *Cycle) transition(next CycleStatus) error {
	if !c.Status.CanTransitionTo(next) {
		return fmt.Errorf("settlement: cycle %s cannot move from %s to %s", c.ID, c.Status, next)
	}
	c.Status = next
	return nil
}

// Cycle records one per-contract, per-date settlement run. A (symbol, date)
// pair settles at most once: a completed cycle blocks every later run for
// the same pair.
type Cycle struct {
	ID              uuid.UUID
	Symbol          string
	SettlementDate  string // YYYY-MM-DD
	SettlementPrice int64
	Status          CycleStatus
	Attempts        int
	PositionsMarked int
	MarginCalls     int
	Liquidations    int
	TotalPnL        int64
	FailureReason   string
	StartedAt       time.Time
	CompletedAt     time.Time
}

func (c *Cycle) Clone() *Cycle {
	cp := *c
	return &cp
}
