package settlement_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"FuturesEngine/internal/settlement"
)

// --- Test helpers ---

// fakeMarket is an in-memory settlement.MarketData.
type fakeMarket struct {
	last    int64
	hasLast bool
	vwap    int64
	hasVWAP bool
}

func (m *fakeMarket) LastTradePrice(string) (int64, bool) { return m.last, m.hasLast }
func (m *fakeMarket) VWAP(string) (int64, bool)           { return m.vwap, m.hasVWAP }

// ============================================================================
// Test: tick cache
// ============================================================================

func TestTickCache_SetGet(t *testing.T) {
	cache := settlement.NewTickCache(time.Hour)
	now := time.Now()

	cache.Set("SILV092026", 293000, now)

	price, ok := cache.Get("SILV092026", now)
	if !ok || price != 293000 {
		t.Errorf("got (%d, %v), want (293000, true)", price, ok)
	}
	if _, ok := cache.Get("COPR122026", now); ok {
		t.Errorf("unknown symbol returned a price")
	}
}

func TestTickCache_StaleTickIgnored(t *testing.T) {
	cache := settlement.NewTickCache(time.Hour)
	now := time.Now()

	cache.Set("SILV092026", 293000, now.Add(-2*time.Hour))

	if _, ok := cache.Get("SILV092026", now); ok {
		t.Errorf("stale tick served")
	}
}

func TestTickCache_OutOfOrderTickRejected(t *testing.T) {
	cache := settlement.NewTickCache(time.Hour)
	now := time.Now()

	cache.Set("SILV092026", 293000, now)
	cache.Set("SILV092026", 290000, now.Add(-time.Minute)) // late arrival

	price, ok := cache.Get("SILV092026", now)
	if !ok || price != 293000 {
		t.Errorf("out-of-order tick overwrote newer one: got (%d, %v)", price, ok)
	}
}

// ============================================================================
// Test: price source strategies
// ============================================================================

func TestLastTradedSource(t *testing.T) {
	market := &fakeMarket{last: 293000, hasLast: true}
	source := &settlement.LastTradedSource{Market: market}

	price, err := source.Price(context.Background(), "SILV092026")
	if err != nil || price != 293000 {
		t.Errorf("got (%d, %v), want (293000, nil)", price, err)
	}
}

func TestLastTradedSource_FallsBackToTicks(t *testing.T) {
	cache := settlement.NewTickCache(time.Hour)
	cache.Set("SILV092026", 291000, time.Now())
	source := &settlement.LastTradedSource{Market: &fakeMarket{}, Ticks: cache}

	price, err := source.Price(context.Background(), "SILV092026")
	if err != nil || price != 291000 {
		t.Errorf("got (%d, %v), want (291000, nil)", price, err)
	}
}

func TestLastTradedSource_UnavailableWithoutTradeOrTick(t *testing.T) {
	source := &settlement.LastTradedSource{Market: &fakeMarket{}}

	_, err := source.Price(context.Background(), "SILV092026")
	if !errors.Is(err, settlement.ErrPriceUnavailable) {
		t.Errorf("got %v, want ErrPriceUnavailable", err)
	}
}

func TestVWAPSource(t *testing.T) {
	market := &fakeMarket{vwap: 292500, hasVWAP: true, last: 293000, hasLast: true}
	source := &settlement.VWAPSource{Market: market}

	price, err := source.Price(context.Background(), "SILV092026")
	if err != nil || price != 292500 {
		t.Errorf("got (%d, %v), want (292500, nil)", price, err)
	}
}

func TestVWAPSource_FallsBackToLastTraded(t *testing.T) {
	market := &fakeMarket{last: 293000, hasLast: true}
	source := &settlement.VWAPSource{Market: market}

	price, err := source.Price(context.Background(), "SILV092026")
	if err != nil || price != 293000 {
		t.Errorf("got (%d, %v), want (293000, nil)", price, err)
	}
}

func TestManualSource(t *testing.T) {
	source := settlement.NewManualSource()

	if _, err := source.Price(context.Background(), "SILV092026"); !errors.Is(err, settlement.ErrPriceUnavailable) {
		t.Errorf("unset symbol: got %v, want ErrPriceUnavailable", err)
	}

	if err := source.SetPrice("SILV092026", 0); err == nil {
		t.Errorf("zero manual price accepted")
	}
	if err := source.SetPrice("SILV092026", 293000); err != nil {
		t.Fatalf("set price: %v", err)
	}

	price, err := source.Price(context.Background(), "SILV092026")
	if err != nil || price != 293000 {
		t.Errorf("got (%d, %v), want (293000, nil)", price, err)
	}
}

// ============================================================================
// Test: cycle status transitions
// ============================================================================

func TestCycleStatus_Transitions(t *testing.T) {
	tests := []struct {
		from    settlement.CycleStatus
		to      settlement.CycleStatus
		allowed bool
	}{
		{settlement.CycleStatusPending, settlement.CycleStatusInProgress, true},
		{settlement.CycleStatusPending, settlement.CycleStatusCompleted, false},
		{settlement.CycleStatusInProgress, settlement.CycleStatusCompleted, true},
		{settlement.CycleStatusInProgress, settlement.CycleStatusFailed, true},
		{settlement.CycleStatusCompleted, settlement.CycleStatusPending, false},
		{settlement.CycleStatusCompleted, settlement.CycleStatusInProgress, false},
		{settlement.CycleStatusFailed, settlement.CycleStatusPending, true},
		{settlement.CycleStatusFailed, settlement.CycleStatusCompleted, false},
	}

	for _, tc := range tests {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}
