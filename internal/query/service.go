package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const defaultLimit = 100

// Service serves history queries from the engine schema.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// watermark returns the highest event sequence written to the durable log.
// Responses read at or before this point.
func (s *Service) watermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM engine.events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query watermark: %w", err)
	}
	return seq.Int64, nil
}

// Trades returns executed trades for a contract, newest first. beforeSeq is
// a cursor: pass the last row's execution_seq to fetch the next page.
func (s *Service) Trades(ctx context.Context, symbol string, limit int, beforeSeq *int64) ([]TradeRecord, error) {
	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	query := `
		SELECT trade_id, symbol, price, quantity, buy_order_id, sell_order_id,
		       buyer_id, seller_id, execution_seq, status, executed_at
		FROM engine.trades
		WHERE symbol = $1
	`
	args := []interface{}{symbol}
	argIdx := 2

	if beforeSeq != nil {
		query += fmt.Sprintf(" AND execution_seq < $%d", argIdx)
		args = append(args, *beforeSeq)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY execution_seq DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows, asOfSeq)
}

// UserTrades returns trades where the user was on either side, newest first.
func (s *Service) UserTrades(ctx context.Context, userID uuid.UUID, symbol *string, limit int, beforeSeq *int64) ([]TradeRecord, error) {
	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	query := `
		SELECT trade_id, symbol, price, quantity, buy_order_id, sell_order_id,
		       buyer_id, seller_id, execution_seq, status, executed_at
		FROM engine.trades
		WHERE (buyer_id = $1 OR seller_id = $1)
	`
	args := []interface{}{userID}
	argIdx := 2

	if symbol != nil {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, *symbol)
		argIdx++
	}
	if beforeSeq != nil {
		query += fmt.Sprintf(" AND execution_seq < $%d", argIdx)
		args = append(args, *beforeSeq)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY execution_seq DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query user trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows, asOfSeq)
}

func scanTrades(rows *sql.Rows, asOfSeq int64) ([]TradeRecord, error) {
	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		t.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&t.TradeID, &t.Symbol, &t.Price, &t.Quantity,
			&t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID,
			&t.ExecutionSeq, &t.Status, &t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SettlementHistory returns a contract's persisted cycles, newest first.
func (s *Service) SettlementHistory(ctx context.Context, symbol string, limit int) ([]CycleRecord, error) {
	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, to_char(settlement_date, 'YYYY-MM-DD'), settlement_price, status,
		       positions_marked, margin_calls, liquidations, total_pnl,
		       failure_reason, completed_at
		FROM engine.settlement_cycles
		WHERE symbol = $1
		ORDER BY settlement_date DESC
		LIMIT $2
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query settlement history: %w", err)
	}
	defer rows.Close()

	var cycles []CycleRecord
	for rows.Next() {
		var c CycleRecord
		c.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&c.Symbol, &c.SettlementDate, &c.SettlementPrice, &c.Status,
			&c.PositionsMarked, &c.MarginCalls, &c.Liquidations, &c.TotalPnL,
			&c.FailureReason, &c.CompletedAt,
		); err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// UserMarginEvents returns a user's margin lifecycle events, newest first.
func (s *Service) UserMarginEvents(ctx context.Context, userID uuid.UUID, limit int) ([]MarginEventRecord, error) {
	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position_id, user_id, symbol, kind, amount, ratio, occurred_at
		FROM engine.margin_events
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query margin events: %w", err)
	}
	defer rows.Close()

	return scanMarginEvents(rows, asOfSeq)
}

// PositionMarginEvents returns one position's margin lifecycle, newest first.
func (s *Service) PositionMarginEvents(ctx context.Context, positionID uuid.UUID, limit int) ([]MarginEventRecord, error) {
	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position_id, user_id, symbol, kind, amount, ratio, occurred_at
		FROM engine.margin_events
		WHERE position_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, positionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query margin events: %w", err)
	}
	defer rows.Close()

	return scanMarginEvents(rows, asOfSeq)
}

func scanMarginEvents(rows *sql.Rows, asOfSeq int64) ([]MarginEventRecord, error) {
	var events []MarginEventRecord
	for rows.Next() {
		var e MarginEventRecord
		e.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&e.PositionID, &e.UserID, &e.Symbol, &e.Kind,
			&e.Amount, &e.Ratio, &e.OccurredAt,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
