// Package margin computes initial/maintenance margin and margin-health
// ratios. Everything here is a pure function of its inputs.
package margin

import (
	"fmt"
	"math"

	"FuturesEngine/internal/contract"
	"FuturesEngine/internal/fpmath"
)

// Thresholds express the margin-call and liquidation boundaries as fractions
// of maintenance margin (fpmath.FractionConfig scale). They are configuration
// inputs, never hardcoded at call sites.
type Thresholds struct {
	MarginCall  int64 // e.g. 800_000 = 0.8
	Liquidation int64 // e.g. 500_000 = 0.5
}

// DefaultThresholds returns the standard margin-call/liquidation boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MarginCall:  800_000,
		Liquidation: 500_000,
	}
}

// Validate checks threshold ordering: 0 < liquidation < margin-call.
func (t Thresholds) Validate() error {
	if t.Liquidation <= 0 {
		return fmt.Errorf("margin: liquidation threshold must be > 0, got %d", t.Liquidation)
	}
	if t.MarginCall <= t.Liquidation {
		return fmt.Errorf("margin: margin-call threshold (%d) must be > liquidation threshold (%d)",
			t.MarginCall, t.Liquidation)
	}
	return nil
}

// InitialMargin is the collateral required to open a position of the given
// notional.
func InitialMargin(c *contract.Contract, notional int64) int64 {
	return fpmath.ApplyFraction(notional, c.InitialMarginFrac)
}

// MaintenanceMargin is the minimum collateral level required to keep a
// position of the given notional open.
func MaintenanceMargin(c *contract.Contract, notional int64) int64 {
	return fpmath.ApplyFraction(notional, c.MaintenanceMarginFrac)
}

// Notional is the gross value of qty lots at the given price.
func Notional(c *contract.Contract, quantity, price int64) int64 {
	return fpmath.ComputeNotional(quantity, price, c.ContractSize)
}

// Ratio returns marginValue / maintenanceRequired as a fixed-point fraction.
// A position with no maintenance requirement is always healthy.
func Ratio(marginValue, maintenanceRequired int64) int64 {
	if maintenanceRequired <= 0 {
		return math.MaxInt64
	}
	return fpmath.Ratio(marginValue, maintenanceRequired)
}

// Health classifies a margin ratio against the thresholds.
type Health int32

const (
	HealthOK Health = iota
	HealthMarginCall
	HealthLiquidatable
)

func (h Health) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthMarginCall:
		return "margin_call"
	case HealthLiquidatable:
		return "liquidatable"
	default:
		return "unknown"
	}
}

// Classify maps a ratio to its health bucket: below the liquidation
// threshold → liquidatable; below the margin-call threshold → margin call;
// otherwise healthy.
func (t Thresholds) Classify(ratio int64) Health {
	if ratio < t.Liquidation {
		return HealthLiquidatable
	}
	if ratio < t.MarginCall {
		return HealthMarginCall
	}
	return HealthOK
}
