package book_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"FuturesEngine/internal/book"
	"FuturesEngine/internal/contract"
	"FuturesEngine/internal/testutil"
)

// --- Test helpers ---

type seq struct{ n int64 }

func (s *seq) Next() int64 {
	s.n++
	return s.n
}

func newTestBook() *book.Book {
	return book.New(testutil.SilverContract(), &seq{})
}

func limit(side book.Side, price, qty int64) *book.Order {
	return &book.Order{
		Symbol:   "SILV092026",
		Side:     side,
		Type:     book.OrderTypeLimit,
		Price:    price,
		Quantity: qty,
		OwnerID:  uuid.New(),
	}
}

func market(side book.Side, qty int64) *book.Order {
	return &book.Order{
		Symbol:   "SILV092026",
		Side:     side,
		Type:     book.OrderTypeMarket,
		Quantity: qty,
		OwnerID:  uuid.New(),
	}
}

func mustSubmit(t *testing.T, b *book.Book, o *book.Order) *book.SubmitResult {
	t.Helper()
	result, err := b.Submit(o)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return result
}

// ============================================================================
// Test: matching
// ============================================================================

func TestSubmit_CrossedSellFillsAtRestingBidPrice(t *testing.T) {
	b := newTestBook()

	bid := limit(book.SideBuy, 293000, 10)
	mustSubmit(t, b, bid)

	// Incoming sell at 2925.00 crosses the 2930.00 bid; the trade executes
	// at the resting order's price.
	sell := limit(book.SideSell, 292500, 6)
	result := mustSubmit(t, b, sell)

	if len(result.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(result.Trades))
	}
	trade := result.Trades[0]
	if trade.Price != 293000 {
		t.Errorf("trade price: got %d, want 293000 (maker price)", trade.Price)
	}
	if trade.Quantity != 6 {
		t.Errorf("trade quantity: got %d, want 6", trade.Quantity)
	}
	if trade.BuyerID != bid.OwnerID || trade.SellerID != sell.OwnerID {
		t.Errorf("trade counterparties misassigned")
	}
	if sell.Status != book.OrderStatusFilled {
		t.Errorf("taker status: got %s, want filled", sell.Status)
	}

	// The bid keeps its unfilled remainder at the top of the book.
	price, qty, ok := b.BestBid()
	if !ok || price != 293000 || qty != 4 {
		t.Errorf("best bid: got (%d, %d, %v), want (293000, 4, true)", price, qty, ok)
	}
	if bid.Quantity != 4 || bid.Status != book.OrderStatusPartiallyFilled {
		t.Errorf("bid remainder: got qty %d status %s", bid.Quantity, bid.Status)
	}
}

func TestSubmit_NonCrossingLimitRests(t *testing.T) {
	b := newTestBook()

	mustSubmit(t, b, limit(book.SideBuy, 292000, 5))
	result := mustSubmit(t, b, limit(book.SideSell, 293000, 5))

	if len(result.Trades) != 0 {
		t.Fatalf("got %d trades, want 0", len(result.Trades))
	}
	if result.Resting == nil || result.Resting.Status != book.OrderStatusResting {
		t.Fatalf("sell did not rest")
	}

	bidPrice, _, _ := b.BestBid()
	askPrice, _, _ := b.BestAsk()
	if bidPrice != 292000 || askPrice != 293000 {
		t.Errorf("book: bid %d ask %d, want 292000/293000", bidPrice, askPrice)
	}
}

func TestSubmit_PricePriority(t *testing.T) {
	b := newTestBook()

	low := limit(book.SideBuy, 292000, 5)
	high := limit(book.SideBuy, 293000, 5)
	mustSubmit(t, b, low)
	mustSubmit(t, b, high)

	result := mustSubmit(t, b, limit(book.SideSell, 291000, 7))

	if len(result.Trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(result.Trades))
	}
	// Best-priced bid fills first, then the next level.
	if result.Trades[0].Price != 293000 || result.Trades[0].Quantity != 5 {
		t.Errorf("first trade: got (%d, %d), want (293000, 5)", result.Trades[0].Price, result.Trades[0].Quantity)
	}
	if result.Trades[1].Price != 292000 || result.Trades[1].Quantity != 2 {
		t.Errorf("second trade: got (%d, %d), want (292000, 2)", result.Trades[1].Price, result.Trades[1].Quantity)
	}
}

func TestSubmit_TimePriorityWithinLevel(t *testing.T) {
	b := newTestBook()

	first := limit(book.SideBuy, 293000, 5)
	second := limit(book.SideBuy, 293000, 5)
	mustSubmit(t, b, first)
	mustSubmit(t, b, second)

	result := mustSubmit(t, b, limit(book.SideSell, 293000, 5))

	if len(result.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(result.Trades))
	}
	if result.Trades[0].BuyOrderID != first.ID {
		t.Errorf("oldest order at the level did not fill first")
	}
	if first.Status != book.OrderStatusFilled {
		t.Errorf("first bid status: got %s, want filled", first.Status)
	}
	if second.Quantity != 5 {
		t.Errorf("second bid touched: quantity %d, want 5", second.Quantity)
	}
}

func TestSubmit_SweepsMultipleLevels(t *testing.T) {
	b := newTestBook()

	mustSubmit(t, b, limit(book.SideSell, 293000, 3))
	mustSubmit(t, b, limit(book.SideSell, 293500, 3))
	mustSubmit(t, b, limit(book.SideSell, 294000, 3))

	result := mustSubmit(t, b, limit(book.SideBuy, 293500, 8))

	// Crosses the first two levels only; remainder rests at 2935.00.
	if len(result.Trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(result.Trades))
	}
	var filled int64
	for _, trade := range result.Trades {
		filled += trade.Quantity
	}
	if filled != 6 {
		t.Errorf("filled: got %d, want 6", filled)
	}
	if result.Resting == nil || result.Resting.Quantity != 2 {
		t.Fatalf("remainder did not rest")
	}

	bidPrice, bidQty, _ := b.BestBid()
	if bidPrice != 293500 || bidQty != 2 {
		t.Errorf("best bid: got (%d, %d), want (293500, 2)", bidPrice, bidQty)
	}
	askPrice, _, _ := b.BestAsk()
	if askPrice != 294000 {
		t.Errorf("best ask: got %d, want 294000", askPrice)
	}
}

// ============================================================================
// Test: market and IOC orders
// ============================================================================

func TestSubmit_MarketOrderRemainderDiscarded(t *testing.T) {
	b := newTestBook()

	mustSubmit(t, b, limit(book.SideSell, 293000, 4))

	o := market(book.SideBuy, 10)
	result := mustSubmit(t, b, o)

	if len(result.Trades) != 1 || result.Trades[0].Quantity != 4 {
		t.Fatalf("market fill: got %d trades", len(result.Trades))
	}
	if result.Resting != nil {
		t.Errorf("market remainder rested")
	}
	if o.Status != book.OrderStatusPartiallyFilled {
		t.Errorf("status: got %s, want partially_filled", o.Status)
	}
	if b.RestingCount() != 0 {
		t.Errorf("resting count: got %d, want 0", b.RestingCount())
	}
}

func TestSubmit_MarketOrderEmptyBookCancelled(t *testing.T) {
	b := newTestBook()

	o := market(book.SideBuy, 10)
	result := mustSubmit(t, b, o)

	if len(result.Trades) != 0 || result.Resting != nil {
		t.Fatalf("expected no fills and no resting order")
	}
	if o.Status != book.OrderStatusCancelled {
		t.Errorf("status: got %s, want cancelled", o.Status)
	}
}

func TestSubmit_IOCRemainderDiscarded(t *testing.T) {
	b := newTestBook()

	mustSubmit(t, b, limit(book.SideSell, 293000, 4))

	o := limit(book.SideBuy, 293000, 10)
	o.Type = book.OrderTypeIOC
	result := mustSubmit(t, b, o)

	if len(result.Trades) != 1 || result.Trades[0].Quantity != 4 {
		t.Fatalf("ioc fill: got %d trades", len(result.Trades))
	}
	if result.Resting != nil || b.RestingCount() != 0 {
		t.Errorf("ioc remainder rested")
	}
}

// ============================================================================
// Test: validation
// ============================================================================

func TestSubmit_Validation(t *testing.T) {
	b := newTestBook()

	tests := []struct {
		name  string
		order *book.Order
	}{
		{"zero quantity", &book.Order{Symbol: "SILV092026", Type: book.OrderTypeLimit, Price: 293000, OwnerID: uuid.New()}},
		{"negative quantity", &book.Order{Symbol: "SILV092026", Type: book.OrderTypeLimit, Price: 293000, Quantity: -1, OwnerID: uuid.New()}},
		{"limit without price", &book.Order{Symbol: "SILV092026", Type: book.OrderTypeLimit, Quantity: 5, OwnerID: uuid.New()}},
		{"market with price", &book.Order{Symbol: "SILV092026", Type: book.OrderTypeMarket, Price: 293000, Quantity: 5, OwnerID: uuid.New()}},
		{"missing owner", &book.Order{Symbol: "SILV092026", Type: book.OrderTypeLimit, Price: 293000, Quantity: 5}},
	}

	for _, tc := range tests {
		if _, err := b.Submit(tc.order); !errors.Is(err, book.ErrInvalidOrder) {
			t.Errorf("%s: got %v, want ErrInvalidOrder", tc.name, err)
		}
	}
	if b.RestingCount() != 0 {
		t.Errorf("rejected orders mutated the book")
	}
}

func TestSubmit_InactiveContractRejected(t *testing.T) {
	b := newTestBook()
	b.SetContractStatus(contract.StatusSettlement)

	if _, err := b.Submit(limit(book.SideBuy, 293000, 5)); !errors.Is(err, book.ErrContractNotActive) {
		t.Errorf("got %v, want ErrContractNotActive", err)
	}
}

// ============================================================================
// Test: cancellation
// ============================================================================

func TestCancel(t *testing.T) {
	b := newTestBook()

	o := limit(book.SideBuy, 293000, 5)
	mustSubmit(t, b, o)

	if !b.Cancel(o.ID) {
		t.Fatalf("cancel returned false for a resting order")
	}
	if o.Status != book.OrderStatusCancelled {
		t.Errorf("status: got %s, want cancelled", o.Status)
	}
	if _, _, ok := b.BestBid(); ok {
		t.Errorf("cancelled level still present")
	}

	// Second cancel is a no-op.
	if b.Cancel(o.ID) {
		t.Errorf("double cancel returned true")
	}
	if b.Cancel(uuid.New()) {
		t.Errorf("cancel of unknown order returned true")
	}
}

// ============================================================================
// Test: snapshots and market data
// ============================================================================

func TestSnapshot(t *testing.T) {
	b := newTestBook()

	mustSubmit(t, b, limit(book.SideBuy, 293000, 5))
	mustSubmit(t, b, limit(book.SideBuy, 293000, 3))
	mustSubmit(t, b, limit(book.SideBuy, 292000, 4))
	mustSubmit(t, b, limit(book.SideSell, 294000, 7))

	bids, asks := b.Snapshot(1)
	if len(bids) != 1 || len(asks) != 1 {
		t.Fatalf("depth 1: got %d bids %d asks", len(bids), len(asks))
	}
	if bids[0].Price != 293000 || bids[0].AggregateQuantity != 8 || bids[0].Orders != 2 {
		t.Errorf("top bid level: %+v", bids[0])
	}

	bids, _ = b.Snapshot(10)
	if len(bids) != 2 {
		t.Errorf("depth 10: got %d bid levels, want 2", len(bids))
	}
}

func TestLastTradePriceAndVWAP(t *testing.T) {
	b := newTestBook()

	if _, ok := b.LastTradePrice(); ok {
		t.Errorf("fresh book reported a last trade")
	}
	if _, ok := b.VWAP(); ok {
		t.Errorf("fresh book reported a vwap")
	}

	mustSubmit(t, b, limit(book.SideSell, 293000, 4))
	mustSubmit(t, b, limit(book.SideBuy, 293000, 4)) // 4 @ 2930.00
	mustSubmit(t, b, limit(book.SideSell, 295000, 2))
	mustSubmit(t, b, limit(book.SideBuy, 295000, 2)) // 2 @ 2950.00

	last, ok := b.LastTradePrice()
	if !ok || last != 295000 {
		t.Errorf("last trade: got (%d, %v), want (295000, true)", last, ok)
	}

	// (4*293000 + 2*295000) / 6 = 293666 (integer division).
	vwap, ok := b.VWAP()
	if !ok || vwap != 293666 {
		t.Errorf("vwap: got (%d, %v), want (293666, true)", vwap, ok)
	}

	b.ResetDailyStats()
	if _, ok := b.VWAP(); ok {
		t.Errorf("vwap survived daily reset")
	}
	// Last trade price is not a daily statistic.
	if _, ok := b.LastTradePrice(); !ok {
		t.Errorf("last trade price lost on daily reset")
	}
}

func TestExecutionSequenceIncreases(t *testing.T) {
	b := newTestBook()

	mustSubmit(t, b, limit(book.SideSell, 293000, 1))
	mustSubmit(t, b, limit(book.SideSell, 293000, 1))
	r1 := mustSubmit(t, b, limit(book.SideBuy, 293000, 1))
	r2 := mustSubmit(t, b, limit(book.SideBuy, 293000, 1))

	if len(r1.Trades) != 1 || len(r2.Trades) != 1 {
		t.Fatalf("expected one trade per submission")
	}
	if r2.Trades[0].ExecutionSeq <= r1.Trades[0].ExecutionSeq {
		t.Errorf("execution sequence not increasing: %d then %d",
			r1.Trades[0].ExecutionSeq, r2.Trades[0].ExecutionSeq)
	}
}
