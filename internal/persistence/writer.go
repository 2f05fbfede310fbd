package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"FuturesEngine/internal/book"
)

// EventLogWriter writes the durable event log and its per-type projections
// to Postgres using multi-row INSERTs. Every insert carries an ON CONFLICT
// DO NOTHING clause, so replaying a batch after a crash is harmless.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in engine.events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Symbol         *string
	Payload        []byte // JSON-encoded event payload
	Timestamp      time.Time
}

// TradeRow represents a row in engine.trades. Status starts at cleared and
// advances to settled once the trade's settlement cycle completes.
type TradeRow struct {
	TradeID      string
	Symbol       string
	Price        int64
	Quantity     int64
	BuyOrderID   string
	SellOrderID  string
	BuyerID      string
	SellerID     string
	ExecutionSeq int64
	Status       string
	ExecutedAt   time.Time
}

// CycleRow represents a row in engine.settlement_cycles.
type CycleRow struct {
	Symbol          string
	SettlementDate  string
	SettlementPrice int64
	Status          string
	PositionsMarked int
	MarginCalls     int
	Liquidations    int
	TotalPnL        int64
	FailureReason   string
	CompletedAt     time.Time
}

// MarginEventRow represents a row in engine.margin_events, the audit trail
// of margin calls, top-ups, resolutions, and liquidations. IdempotencyKey
// is the source event's key, so a replayed flush cannot duplicate rows.
type MarginEventRow struct {
	IdempotencyKey string
	PositionID     string
	UserID         string
	Symbol         string
	Kind           string
	Amount         int64
	Ratio          int64
	OccurredAt     time.Time
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

func (w *EventLogWriter) DB() *sql.DB {
	return w.db
}

// WriteEventBatch writes a batch of envelopes to engine.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO engine.events
		(sequence, event_type, idempotency_key, symbol, payload, created_at)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*6)

	for i, e := range events {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Symbol, e.Payload, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (idempotency_key) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteTradeBatch writes a batch of executed trades to engine.trades.
func (w *EventLogWriter) WriteTradeBatch(ctx context.Context, tx *sql.Tx, trades []TradeRow) error {
	if len(trades) == 0 {
		return nil
	}

	query := `INSERT INTO engine.trades
		(trade_id, symbol, price, quantity, buy_order_id, sell_order_id, buyer_id, seller_id, execution_seq, status, executed_at)
		VALUES `

	values := make([]string, 0, len(trades))
	args := make([]interface{}, 0, len(trades)*11)

	for i, t := range trades {
		base := i * 11
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))
		args = append(args,
			t.TradeID, t.Symbol, t.Price, t.Quantity,
			t.BuyOrderID, t.SellOrderID, t.BuyerID, t.SellerID,
			t.ExecutionSeq, t.Status, t.ExecutedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (trade_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteCycleBatch upserts settlement cycle outcomes into
// engine.settlement_cycles. A re-run of a failed cycle overwrites the
// failed row with the completed one.
func (w *EventLogWriter) WriteCycleBatch(ctx context.Context, tx *sql.Tx, cycles []CycleRow) error {
	if len(cycles) == 0 {
		return nil
	}

	query := `INSERT INTO engine.settlement_cycles
		(symbol, settlement_date, settlement_price, status, positions_marked, margin_calls, liquidations, total_pnl, failure_reason, completed_at)
		VALUES `

	values := make([]string, 0, len(cycles))
	args := make([]interface{}, 0, len(cycles)*10)

	for i, c := range cycles {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			c.Symbol, c.SettlementDate, c.SettlementPrice, c.Status,
			c.PositionsMarked, c.MarginCalls, c.Liquidations, c.TotalPnL,
			c.FailureReason, c.CompletedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (symbol, settlement_date) DO UPDATE SET
		settlement_price = EXCLUDED.settlement_price,
		status = EXCLUDED.status,
		positions_marked = EXCLUDED.positions_marked,
		margin_calls = EXCLUDED.margin_calls,
		liquidations = EXCLUDED.liquidations,
		total_pnl = EXCLUDED.total_pnl,
		failure_reason = EXCLUDED.failure_reason,
		completed_at = EXCLUDED.completed_at`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// MarkTradesSettled advances a contract's cleared trades executed at or
// before the cycle's completion to settled. The update is idempotent, so a
// replayed flush re-settles nothing.
func (w *EventLogWriter) MarkTradesSettled(ctx context.Context, tx *sql.Tx, symbol string, asOf time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE engine.trades
		SET status = $3
		WHERE symbol = $1 AND executed_at <= $2 AND status = $4`,
		symbol, asOf, book.TradeStatusSettled.String(), book.TradeStatusCleared.String(),
	)
	return err
}

// WriteMarginEventBatch writes margin audit rows to engine.margin_events.
func (w *EventLogWriter) WriteMarginEventBatch(ctx context.Context, tx *sql.Tx, rows []MarginEventRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO engine.margin_events
		(idempotency_key, position_id, user_id, symbol, kind, amount, ratio, occurred_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)

	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.IdempotencyKey, r.PositionID, r.UserID, r.Symbol, r.Kind,
			r.Amount, r.Ratio, r.OccurredAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (idempotency_key) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
