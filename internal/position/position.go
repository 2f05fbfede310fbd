// Package position aggregates trades into per-user-per-contract positions
// and tracks collateral reserved against them.
package position

import (
	"time"

	"github.com/google/uuid"
)

// Status is the position risk state. Transitions out of active are driven by
// the settlement engine or explicit liquidation, never by trade application.
type Status int32

const (
	StatusActive Status = iota
	StatusMarginCall
	StatusLiquidated
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusMarginCall:
		return "margin_call"
	case StatusLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Key identifies a position: one per user per contract.
type Key struct {
	UserID uuid.UUID
	Symbol string
}

// Position is a user's net exposure in one contract. NetQuantity is signed:
// positive long, negative short. EntryPrice is the quantity-weighted average
// of net opens and is reset to the settlement price at every mark-to-market.
type Position struct {
	ID                        uuid.UUID
	UserID                    uuid.UUID
	Symbol                    string
	NetQuantity               int64
	EntryPrice                int64 // fpmath.PriceConfig scale
	MarginReserved            int64 // quote scale, never negative
	MaintenanceMarginRequired int64 // quote scale
	RealizedPnL               int64 // cumulative, quote scale
	Status                    Status
	LastSettledAt             time.Time
	Version                   int64 // optimistic concurrency control
}

// IsFlat reports whether the position has no exposure.
func (p *Position) IsFlat() bool {
	return p.NetQuantity == 0
}

// SideSign returns +1 for long, -1 for short, 0 for flat.
func (p *Position) SideSign() int64 {
	switch {
	case p.NetQuantity > 0:
		return 1
	case p.NetQuantity < 0:
		return -1
	default:
		return 0
	}
}

// AbsQuantity returns the unsigned exposure in lots.
func (p *Position) AbsQuantity() int64 {
	if p.NetQuantity < 0 {
		return -p.NetQuantity
	}
	return p.NetQuantity
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}

// Account is a user's free collateral balance (quote scale). Funds reserved
// as margin live on the positions, not here.
type Account struct {
	UserID  uuid.UUID
	Balance int64
}
