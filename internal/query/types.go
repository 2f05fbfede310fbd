// Package query provides read-only access to the durable history tables.
// Live state (books, positions, balances) is served from memory by the
// engine; everything here reads what the persistence worker has already
// flushed, so responses carry an as-of sequence for freshness semantics.
package query

import (
	"time"

	"github.com/google/uuid"
)

// TradeRecord is one executed trade from the durable log.
type TradeRecord struct {
	TradeID      uuid.UUID `json:"trade_id"`
	Symbol       string    `json:"symbol"`
	Price        int64     `json:"price"`
	Quantity     int64     `json:"quantity"`
	BuyOrderID   uuid.UUID `json:"buy_order_id"`
	SellOrderID  uuid.UUID `json:"sell_order_id"`
	BuyerID      uuid.UUID `json:"buyer_id"`
	SellerID     uuid.UUID `json:"seller_id"`
	ExecutionSeq int64     `json:"execution_seq"`
	Status       string    `json:"status"`
	ExecutedAt   time.Time `json:"executed_at"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// CycleRecord is one persisted settlement cycle outcome.
type CycleRecord struct {
	Symbol          string    `json:"symbol"`
	SettlementDate  string    `json:"settlement_date"`
	SettlementPrice int64     `json:"settlement_price"`
	Status          string    `json:"status"`
	PositionsMarked int       `json:"positions_marked"`
	MarginCalls     int       `json:"margin_calls"`
	Liquidations    int       `json:"liquidations"`
	TotalPnL        int64     `json:"total_pnl"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// MarginEventRecord is one margin lifecycle event: a call, a top-up, a
// resolution, or a liquidation.
type MarginEventRecord struct {
	PositionID   uuid.UUID `json:"position_id"`
	UserID       uuid.UUID `json:"user_id"`
	Symbol       string    `json:"symbol"`
	Kind         string    `json:"kind"`
	Amount       int64     `json:"amount"`
	Ratio        int64     `json:"ratio"`
	OccurredAt   time.Time `json:"occurred_at"`
	AsOfSequence int64     `json:"as_of_sequence"`
}
