package margin_test

import (
	"math"
	"testing"

	"FuturesEngine/internal/margin"
	"FuturesEngine/internal/testutil"
)

// ============================================================================
// Test: threshold validation and classification
// ============================================================================

func TestThresholds_Validate(t *testing.T) {
	if err := margin.DefaultThresholds().Validate(); err != nil {
		t.Errorf("default thresholds invalid: %v", err)
	}

	bad := []margin.Thresholds{
		{MarginCall: 800_000, Liquidation: 0},
		{MarginCall: 800_000, Liquidation: -1},
		{MarginCall: 500_000, Liquidation: 500_000},
		{MarginCall: 400_000, Liquidation: 500_000},
	}
	for _, th := range bad {
		if err := th.Validate(); err == nil {
			t.Errorf("%+v: expected error, got nil", th)
		}
	}
}

func TestClassify(t *testing.T) {
	th := margin.Thresholds{MarginCall: 800_000, Liquidation: 500_000}

	tests := []struct {
		ratio    int64
		expected margin.Health
	}{
		{450_000, margin.HealthLiquidatable}, // 0.45 < 0.5
		{0, margin.HealthLiquidatable},
		{-100_000, margin.HealthLiquidatable}, // underwater
		{499_999, margin.HealthLiquidatable},
		{500_000, margin.HealthMarginCall}, // boundary: ratio == liquidation is not liquidated
		{799_999, margin.HealthMarginCall},
		{800_000, margin.HealthOK}, // boundary: ratio == margin call is healthy
		{1_000_000, margin.HealthOK},
		{math.MaxInt64, margin.HealthOK},
	}

	for _, tc := range tests {
		if got := th.Classify(tc.ratio); got != tc.expected {
			t.Errorf("Classify(%d): got %s, want %s", tc.ratio, got, tc.expected)
		}
	}
}

// ============================================================================
// Test: margin requirement arithmetic
// ============================================================================

func TestNotionalAndMargins(t *testing.T) {
	c := testutil.SilverContract() // 5000 units per lot, 10% IM, 7% MM

	// 1 lot @ 2930.00 = 14,650,000.00 notional.
	notional := margin.Notional(c, 1, 293000)
	if notional != 1_465_000_000 {
		t.Fatalf("notional: got %d, want 1465000000", notional)
	}

	if im := margin.InitialMargin(c, notional); im != 146_500_000 {
		t.Errorf("initial margin: got %d, want 146500000", im)
	}
	if mm := margin.MaintenanceMargin(c, notional); mm != 102_550_000 {
		t.Errorf("maintenance margin: got %d, want 102550000", mm)
	}
}

func TestNotional_ShortPositionSameAsLong(t *testing.T) {
	c := testutil.SilverContract()
	if long, short := margin.Notional(c, 6, 293000), margin.Notional(c, -6, 293000); long != short {
		t.Errorf("long %d != short %d", long, short)
	}
}

func TestRatio(t *testing.T) {
	// 45 reserved against 100 required = 0.45.
	if ratio := margin.Ratio(45, 100); ratio != 450_000 {
		t.Errorf("got %d, want 450000", ratio)
	}
}

func TestRatio_NoRequirementIsHealthy(t *testing.T) {
	if ratio := margin.Ratio(100, 0); ratio != math.MaxInt64 {
		t.Errorf("got %d, want MaxInt64", ratio)
	}
	th := margin.DefaultThresholds()
	if th.Classify(margin.Ratio(0, 0)) != margin.HealthOK {
		t.Errorf("zero-requirement position classified unhealthy")
	}
}
