package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"FuturesEngine/internal/book"
	"FuturesEngine/internal/contract"
	"FuturesEngine/internal/engine"
	"FuturesEngine/internal/event"
	"FuturesEngine/internal/margin"
	"FuturesEngine/internal/position"
	"FuturesEngine/internal/settlement"
	"FuturesEngine/internal/testutil"
)

// --- Test helpers ---

type harness struct {
	engine  *engine.Engine
	ledger  *position.Ledger
	manual  *settlement.ManualSource
	persist chan event.Event

	buyer  uuid.UUID
	seller uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	registry := contract.NewRegistry()
	ledger := position.NewLedger(registry)
	thresholds := margin.DefaultThresholds()
	persist := make(chan event.Event, 1024)

	eng := engine.New(registry, ledger, thresholds, nil, zerolog.Nop(), persist, nil)

	manual := settlement.NewManualSource()
	settler := settlement.NewEngine(
		registry,
		ledger,
		thresholds,
		manual,
		settlement.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		eng.Emit,
		zerolog.Nop(),
	)
	eng.AttachSettler(settler)

	if err := eng.AddContract(testutil.SilverContract()); err != nil {
		t.Fatalf("add contract: %v", err)
	}

	h := &harness{
		engine:  eng,
		ledger:  ledger,
		manual:  manual,
		persist: persist,
		buyer:   uuid.New(),
		seller:  uuid.New(),
	}
	t.Cleanup(eng.Close)
	return h
}

func (h *harness) fund(t *testing.T, amount int64) {
	t.Helper()
	for _, userID := range []uuid.UUID{h.buyer, h.seller} {
		if err := h.engine.Deposit(userID, amount); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
}

func (h *harness) submit(t *testing.T, owner uuid.UUID, side book.Side, price, qty int64) *book.SubmitResult {
	t.Helper()
	result, err := h.engine.SubmitOrder(context.Background(), &book.Order{
		Symbol:   "SILV092026",
		Side:     side,
		Type:     book.OrderTypeLimit,
		Price:    price,
		Quantity: qty,
		OwnerID:  owner,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return result
}

// drainEvents collects everything emitted so far on the persist channel.
func (h *harness) drainEvents() []event.Event {
	var events []event.Event
	for {
		select {
		case ev := <-h.persist:
			events = append(events, ev)
		default:
			return events
		}
	}
}

// ============================================================================
// Test: order flow end to end
// ============================================================================

func TestSubmitOrder_MatchUpdatesPositions(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 2_000_000_000)

	h.submit(t, h.buyer, book.SideBuy, 293000, 10)
	result := h.submit(t, h.seller, book.SideSell, 292500, 6)

	if len(result.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(result.Trades))
	}
	trade := result.Trades[0]
	if trade.Price != 293000 || trade.Quantity != 6 {
		t.Errorf("trade: got (%d, %d), want (293000, 6)", trade.Price, trade.Quantity)
	}
	if trade.Status != book.TradeStatusCleared {
		t.Errorf("trade status: got %s, want cleared", trade.Status)
	}

	long, ok := h.ledger.Get(h.buyer, "SILV092026")
	if !ok || long.NetQuantity != 6 {
		t.Errorf("long position: got %+v", long)
	}
	short, ok := h.ledger.Get(h.seller, "SILV092026")
	if !ok || short.NetQuantity != -6 {
		t.Errorf("short position: got %+v", short)
	}

	// The bid remainder rests at 4 lots.
	bids, _, err := h.engine.Depth(context.Background(), "SILV092026", 1)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if len(bids) != 1 || bids[0].Price != 293000 || bids[0].AggregateQuantity != 4 {
		t.Errorf("top bid: got %+v", bids)
	}

	var sawTrade bool
	for _, ev := range h.drainEvents() {
		if ev.EventType() == event.EventTypeTradeExecuted {
			sawTrade = true
		}
	}
	if !sawTrade {
		t.Errorf("no TradeExecuted event persisted")
	}
}

func TestSubmitOrder_InsufficientMarginRejected(t *testing.T) {
	h := newHarness(t)
	// No deposits at all.

	_, err := h.engine.SubmitOrder(context.Background(), &book.Order{
		Symbol:   "SILV092026",
		Side:     book.SideBuy,
		Type:     book.OrderTypeLimit,
		Price:    293000,
		Quantity: 1,
		OwnerID:  h.buyer,
	})
	if !errors.Is(err, position.ErrInsufficientMargin) {
		t.Fatalf("got %v, want ErrInsufficientMargin", err)
	}

	// Nothing rested.
	bids, asks, _ := h.engine.Depth(context.Background(), "SILV092026", 10)
	if len(bids) != 0 || len(asks) != 0 {
		t.Errorf("rejected order mutated the book")
	}

	var sawRejection bool
	for _, ev := range h.drainEvents() {
		if ev.EventType() == event.EventTypeOrderRejected {
			sawRejection = true
		}
	}
	if !sawRejection {
		t.Errorf("no OrderRejected event persisted")
	}
}

func TestSubmitOrder_UnknownSymbol(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.SubmitOrder(context.Background(), &book.Order{
		Symbol:   "GOLD122026",
		Side:     book.SideBuy,
		Type:     book.OrderTypeLimit,
		Price:    293000,
		Quantity: 1,
		OwnerID:  h.buyer,
	})
	if !errors.Is(err, engine.ErrNoMarket) {
		t.Errorf("got %v, want ErrNoMarket", err)
	}
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 2_000_000_000)

	result := h.submit(t, h.buyer, book.SideBuy, 293000, 5)
	orderID := result.Resting.ID

	cancelled, err := h.engine.CancelOrder(context.Background(), "SILV092026", orderID)
	if err != nil || !cancelled {
		t.Fatalf("cancel: got (%v, %v)", cancelled, err)
	}

	if _, err := h.engine.GetOrder(context.Background(), "SILV092026", orderID); !errors.Is(err, engine.ErrOrderNotFound) {
		t.Errorf("cancelled order still resolvable: %v", err)
	}

	cancelled, err = h.engine.CancelOrder(context.Background(), "SILV092026", orderID)
	if err != nil || cancelled {
		t.Errorf("double cancel: got (%v, %v)", cancelled, err)
	}
}

// ============================================================================
// Test: settlement through the worker
// ============================================================================

func TestRunSettlement(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 2_000_000_000)

	h.submit(t, h.buyer, book.SideBuy, 293000, 6)
	h.submit(t, h.seller, book.SideSell, 293000, 6)

	h.manual.SetPrice("SILV092026", 295000)

	cycle, err := h.engine.RunSettlement(context.Background(), "SILV092026", "2026-09-01")
	if err != nil {
		t.Fatalf("settlement: %v", err)
	}
	if cycle.Status != settlement.CycleStatusCompleted || cycle.PositionsMarked != 2 {
		t.Errorf("cycle: status %s positions %d", cycle.Status, cycle.PositionsMarked)
	}

	long, _ := h.ledger.Get(h.buyer, "SILV092026")
	if long.EntryPrice != 295000 {
		t.Errorf("long entry after mark: got %d, want 295000", long.EntryPrice)
	}

	// Second run for the same date is rejected but returns the cycle.
	again, err := h.engine.RunSettlement(context.Background(), "SILV092026", "2026-09-01")
	if !errors.Is(err, settlement.ErrAlreadySettled) {
		t.Fatalf("got %v, want ErrAlreadySettled", err)
	}
	if again == nil || again.Status != settlement.CycleStatusCompleted {
		t.Errorf("re-run did not return the completed cycle")
	}
}

func TestRunSettlement_ResetsDailyVWAP(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 2_000_000_000)

	h.submit(t, h.buyer, book.SideBuy, 293000, 2)
	h.submit(t, h.seller, book.SideSell, 293000, 2)

	if _, ok := h.engine.VWAP("SILV092026"); !ok {
		t.Fatalf("no vwap after trading")
	}

	h.manual.SetPrice("SILV092026", 293000)
	if _, err := h.engine.RunSettlement(context.Background(), "SILV092026", "2026-09-01"); err != nil {
		t.Fatalf("settlement: %v", err)
	}

	if _, ok := h.engine.VWAP("SILV092026"); ok {
		t.Errorf("vwap accumulator survived settlement")
	}
	// The last traded price is still available as the next day's fallback.
	if price, ok := h.engine.LastTradePrice("SILV092026"); !ok || price != 293000 {
		t.Errorf("last trade price: got (%d, %v)", price, ok)
	}
}

// ============================================================================
// Test: contract lifecycle through the engine
// ============================================================================

func TestTransitionContract_StopsTrading(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 2_000_000_000)

	if err := h.engine.TransitionContract(context.Background(), "SILV092026", contract.StatusSettlement); err != nil {
		t.Fatalf("transition: %v", err)
	}

	_, err := h.engine.SubmitOrder(context.Background(), &book.Order{
		Symbol:   "SILV092026",
		Side:     book.SideBuy,
		Type:     book.OrderTypeLimit,
		Price:    293000,
		Quantity: 1,
		OwnerID:  h.buyer,
	})
	if !errors.Is(err, book.ErrContractNotActive) {
		t.Errorf("got %v, want ErrContractNotActive", err)
	}
}

func TestArchiveContract(t *testing.T) {
	h := newHarness(t)

	h.engine.TransitionContract(context.Background(), "SILV092026", contract.StatusSettlement)
	h.engine.TransitionContract(context.Background(), "SILV092026", contract.StatusExpired)

	if err := h.engine.ArchiveContract("SILV092026"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	_, err := h.engine.SubmitOrder(context.Background(), &book.Order{
		Symbol:   "SILV092026",
		Side:     book.SideBuy,
		Type:     book.OrderTypeLimit,
		Price:    293000,
		Quantity: 1,
		OwnerID:  h.buyer,
	})
	if !errors.Is(err, engine.ErrNoMarket) {
		t.Errorf("archived market still accepting orders: %v", err)
	}
}

func TestArchiveContract_BlockedByOpenPositions(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 2_000_000_000)

	h.submit(t, h.buyer, book.SideBuy, 293000, 1)
	h.submit(t, h.seller, book.SideSell, 293000, 1)

	h.engine.TransitionContract(context.Background(), "SILV092026", contract.StatusSettlement)
	h.engine.TransitionContract(context.Background(), "SILV092026", contract.StatusExpired)

	if err := h.engine.ArchiveContract("SILV092026"); !errors.Is(err, contract.ErrOpenPositions) {
		t.Errorf("got %v, want ErrOpenPositions", err)
	}
}

// ============================================================================
// Test: margin-call workflow through the engine
// ============================================================================

func TestMarginCallWorkflow(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 2_000_000_000)

	h.submit(t, h.buyer, book.SideBuy, 293000, 1)
	h.submit(t, h.seller, book.SideSell, 293000, 1)

	// Mark at 2770.00: the long lands in the margin call band.
	h.manual.SetPrice("SILV092026", 277000)
	cycle, err := h.engine.RunSettlement(context.Background(), "SILV092026", "2026-09-01")
	if err != nil {
		t.Fatalf("settlement: %v", err)
	}
	if cycle.MarginCalls != 1 {
		t.Fatalf("margin calls: got %d, want 1", cycle.MarginCalls)
	}

	long, _ := h.ledger.Get(h.buyer, "SILV092026")
	if long.Status != position.StatusMarginCall {
		t.Fatalf("long status: got %s, want margin_call", long.Status)
	}

	// Restore the ratio above the call threshold, then resolve.
	if err := h.engine.TopUpMargin(long.ID, 50_000_000); err != nil {
		t.Fatalf("top up: %v", err)
	}
	if err := h.engine.ResolveMarginCall(long.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	resolved, _ := h.ledger.Get(h.buyer, "SILV092026")
	if resolved.Status != position.StatusActive {
		t.Errorf("status after resolve: got %s, want active", resolved.Status)
	}
}

// ============================================================================
// Test: shutdown
// ============================================================================

func TestClose_RejectsFurtherWork(t *testing.T) {
	h := newHarness(t)
	h.engine.Close()

	_, err := h.engine.SubmitOrder(context.Background(), &book.Order{
		Symbol:   "SILV092026",
		Side:     book.SideBuy,
		Type:     book.OrderTypeLimit,
		Price:    293000,
		Quantity: 1,
		OwnerID:  uuid.New(),
	})
	if !errors.Is(err, engine.ErrEngineClosed) {
		t.Errorf("got %v, want ErrEngineClosed", err)
	}
}
