package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"FuturesEngine/internal/persistence"
	"FuturesEngine/internal/query"
	"FuturesEngine/internal/testutil"
)

// ============================================================================
// Integration: durable log round trip (requires Postgres)
// ============================================================================

func TestWriter_RoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := persistence.NewEventLogWriter(db)
	buyer := uuid.New()
	seller := uuid.New()
	tradeID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)
	symbol := "SILV092026"

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	err = writer.WriteEventBatch(ctx, tx, []persistence.EventRow{{
		Sequence:       1,
		EventType:      "TradeExecuted",
		IdempotencyKey: tradeID.String(),
		Symbol:         &symbol,
		Payload:        []byte(`{"price": 293000}`),
		Timestamp:      now,
	}})
	if err != nil {
		t.Fatalf("write events: %v", err)
	}

	err = writer.WriteTradeBatch(ctx, tx, []persistence.TradeRow{{
		TradeID:      tradeID.String(),
		Symbol:       symbol,
		Price:        293000,
		Quantity:     6,
		BuyOrderID:   uuid.NewString(),
		SellOrderID:  uuid.NewString(),
		BuyerID:      buyer.String(),
		SellerID:     seller.String(),
		ExecutionSeq: 1,
		Status:       "cleared",
		ExecutedAt:   now,
	}})
	if err != nil {
		t.Fatalf("write trades: %v", err)
	}

	err = writer.WriteCycleBatch(ctx, tx, []persistence.CycleRow{{
		Symbol:          symbol,
		SettlementDate:  "2026-09-01",
		SettlementPrice: 295000,
		Status:          "completed",
		PositionsMarked: 2,
		CompletedAt:     now,
	}})
	if err != nil {
		t.Fatalf("write cycles: %v", err)
	}

	// Cycle completion advances the day's cleared trades to settled.
	if err := writer.MarkTradesSettled(ctx, tx, symbol, now); err != nil {
		t.Fatalf("mark trades settled: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Replaying the same batch must be a no-op, not an error.
	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin replay: %v", err)
	}
	err = writer.WriteEventBatch(ctx, tx, []persistence.EventRow{{
		Sequence:       1,
		EventType:      "TradeExecuted",
		IdempotencyKey: tradeID.String(),
		Symbol:         &symbol,
		Payload:        []byte(`{"price": 293000}`),
		Timestamp:      now,
	}})
	if err != nil {
		t.Fatalf("replay events: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit replay: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM engine.events`).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Errorf("events after replay: got %d, want 1", count)
	}

	// Read the history back through the query service.
	history := query.NewService(db)

	trades, err := history.Trades(ctx, symbol, 10, nil)
	if err != nil {
		t.Fatalf("query trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	if trades[0].Price != 293000 || trades[0].Quantity != 6 {
		t.Errorf("trade: got (%d, %d), want (293000, 6)", trades[0].Price, trades[0].Quantity)
	}
	if trades[0].AsOfSequence != 1 {
		t.Errorf("as-of sequence: got %d, want 1", trades[0].AsOfSequence)
	}
	if trades[0].Status != "settled" {
		t.Errorf("trade status after cycle: got %q, want settled", trades[0].Status)
	}

	userTrades, err := history.UserTrades(ctx, buyer, &symbol, 10, nil)
	if err != nil {
		t.Fatalf("query user trades: %v", err)
	}
	if len(userTrades) != 1 {
		t.Errorf("got %d user trades, want 1", len(userTrades))
	}

	cycles, err := history.SettlementHistory(ctx, symbol, 10)
	if err != nil {
		t.Fatalf("query cycles: %v", err)
	}
	if len(cycles) != 1 || cycles[0].SettlementDate != "2026-09-01" {
		t.Errorf("cycles: got %+v", cycles)
	}
	if cycles[0].SettlementPrice != 295000 || cycles[0].Status != "completed" {
		t.Errorf("cycle fields: %+v", cycles[0])
	}
}

func TestWriter_MarginEventReplayIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := persistence.NewEventLogWriter(db)
	positionID := uuid.New()
	userID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	row := persistence.MarginEventRow{
		IdempotencyKey: positionID.String() + ":2026-09-01:margin_call",
		PositionID:     positionID.String(),
		UserID:         userID.String(),
		Symbol:         "SILV092026",
		Kind:           "margin_call",
		Amount:         66_500_000,
		Ratio:          685_921,
		OccurredAt:     now,
	}

	// A flush whose transaction committed may be retried after a crash;
	// the audit trail must not grow a second row.
	for i := 0; i < 2; i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := writer.WriteMarginEventBatch(ctx, tx, []persistence.MarginEventRow{row}); err != nil {
			t.Fatalf("write margin events (attempt %d): %v", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit (attempt %d): %v", i+1, err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM engine.margin_events`).Scan(&count); err != nil {
		t.Fatalf("count margin events: %v", err)
	}
	if count != 1 {
		t.Errorf("margin events after replay: got %d, want 1", count)
	}

	history := query.NewService(db)
	events, err := history.PositionMarginEvents(ctx, positionID, 10)
	if err != nil {
		t.Fatalf("query margin events: %v", err)
	}
	if len(events) != 1 || events[0].Kind != "margin_call" || events[0].Amount != 66_500_000 {
		t.Errorf("margin events: got %+v", events)
	}
}
