package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"FuturesEngine/internal/book"
	"FuturesEngine/internal/event"
	"FuturesEngine/internal/observability"
)

// Worker drains the persist channel and batch-writes the event log plus its
// per-type projection tables to Postgres. The engine sends on the persist
// channel with blocking semantics, so if this worker falls behind the
// matching path stalls rather than losing an event.
type Worker struct {
	writer       *EventLogWriter
	inputChan    <-chan event.Event
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics

	seq int64 // log sequence, assigned at enqueue into a batch
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan event.Event,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// batch accumulates rows between flushes.
type batch struct {
	events       []EventRow
	trades       []TradeRow
	cycles       []CycleRow
	marginEvents []MarginEventRow
	settleMarks  []settleMark
}

// settleMark advances a contract's cleared trades to settled once its
// settlement cycle completed.
type settleMark struct {
	symbol string
	asOf   time.Time
}

func (b *batch) reset() {
	b.events = b.events[:0]
	b.trades = b.trades[:0]
	b.cycles = b.cycles[:0]
	b.marginEvents = b.marginEvents[:0]
	b.settleMarks = b.settleMarks[:0]
}

// Run starts the worker loop. It batches incoming events and flushes either
// when the batch is full or the flush timeout expires. Blocks until ctx is
// cancelled or the input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	var b batch
	b.events = make([]EventRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(b.events) > 0 {
				if err := w.flush(context.Background(), &b); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case ev, ok := <-w.inputChan:
			if !ok {
				if len(b.events) > 0 {
					if err := w.flush(context.Background(), &b); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			w.append(&b, ev)

			if len(b.events) >= w.batchSize {
				if err := w.flushWithRetry(ctx, &b); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				b.reset()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(b.events) > 0 {
				if err := w.flushWithRetry(ctx, &b); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				b.reset()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// append converts one event into its envelope row plus any projection rows.
func (w *Worker) append(b *batch, ev event.Event) {
	w.seq++
	b.events = append(b.events, EventRow{
		Sequence:       w.seq,
		EventType:      ev.EventType().String(),
		IdempotencyKey: ev.IdempotencyKey(),
		Symbol:         ev.Symbol(),
		Payload:        MarshalPayload(ev),
		Timestamp:      time.Now(),
	})

	switch e := ev.(type) {
	case *event.TradeExecuted:
		b.trades = append(b.trades, TradeRow{
			TradeID:      e.TradeID.String(),
			Symbol:       e.Contract,
			Price:        e.Price,
			Quantity:     e.Quantity,
			BuyOrderID:   e.BuyOrderID.String(),
			SellOrderID:  e.SellOrderID.String(),
			BuyerID:      e.BuyerID.String(),
			SellerID:     e.SellerID.String(),
			ExecutionSeq: e.ExecutionSeq,
			Status:       book.TradeStatusCleared.String(),
			ExecutedAt:   e.ExecutedAt,
		})

	case *event.SettlementCompleted:
		b.cycles = append(b.cycles, CycleRow{
			Symbol:          e.Contract,
			SettlementDate:  e.SettlementDate,
			SettlementPrice: e.SettlementPrice,
			Status:          "completed",
			PositionsMarked: e.PositionsMarked,
			MarginCalls:     e.MarginCalls,
			Liquidations:    e.Liquidations,
			TotalPnL:        e.TotalPnL,
			CompletedAt:     e.CompletedAt,
		})
		b.settleMarks = append(b.settleMarks, settleMark{symbol: e.Contract, asOf: e.CompletedAt})

	case *event.SettlementFailed:
		b.cycles = append(b.cycles, CycleRow{
			Symbol:         e.Contract,
			SettlementDate: e.SettlementDate,
			Status:         "failed",
			FailureReason:  e.Reason,
			CompletedAt:    e.FailedAt,
		})

	case *event.MarginCallIssued:
		b.marginEvents = append(b.marginEvents, MarginEventRow{
			IdempotencyKey: e.IdempotencyKey(),
			PositionID:     e.PositionID.String(),
			UserID:         e.UserID.String(),
			Symbol:         e.Contract,
			Kind:           "margin_call",
			Amount:         e.MarginReserved,
			Ratio:          e.MarginRatio,
			OccurredAt:     e.IssuedAt,
		})

	case *event.MarginToppedUp:
		b.marginEvents = append(b.marginEvents, MarginEventRow{
			IdempotencyKey: e.IdempotencyKey(),
			PositionID:     e.PositionID.String(),
			UserID:         e.UserID.String(),
			Symbol:         e.Contract,
			Kind:           "top_up",
			Amount:         e.Amount,
			OccurredAt:     e.ToppedUpAt,
		})

	case *event.MarginCallResolved:
		b.marginEvents = append(b.marginEvents, MarginEventRow{
			IdempotencyKey: e.IdempotencyKey(),
			PositionID:     e.PositionID.String(),
			UserID:         e.UserID.String(),
			Symbol:         e.Contract,
			Kind:           "resolved",
			Ratio:          e.MarginRatio,
			OccurredAt:     e.ResolvedAt,
		})

	case *event.LiquidationExecuted:
		b.marginEvents = append(b.marginEvents, MarginEventRow{
			IdempotencyKey: e.IdempotencyKey(),
			PositionID:     e.PositionID.String(),
			UserID:         e.UserID.String(),
			Symbol:         e.Contract,
			Kind:           "liquidation",
			Amount:         e.RealizedPnL,
			Ratio:          e.MarginRatio,
			OccurredAt:     e.LiquidatedAt,
		})
	}
}

// flushWithRetry retries failed flushes with exponential backoff. The worker
// never drops a batch: it retries until the write succeeds or shutdown
// forces one final attempt.
func (w *Worker) flushWithRetry(ctx context.Context, b *batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, events=%d)",
				attempt, backoff, len(b.events))
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if finalErr := w.flush(context.Background(), b); finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, b)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

// flush writes the whole batch in a single transaction.
func (w *Worker) flush(ctx context.Context, b *batch) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, b.events); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}
	if err := w.writer.WriteTradeBatch(ctx, tx, b.trades); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_trades").Inc()
		}
		return err
	}
	if err := w.writer.WriteCycleBatch(ctx, tx, b.cycles); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_cycles").Inc()
		}
		return err
	}
	if err := w.writer.WriteMarginEventBatch(ctx, tx, b.marginEvents); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_margin_events").Inc()
		}
		return err
	}
	for _, m := range b.settleMarks {
		if err := w.writer.MarkTradesSettled(ctx, tx, m.symbol, m.asOf); err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("mark_trades_settled").Inc()
			}
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(b.events)))
		w.metrics.PersistEventsWritten.Add(float64(len(b.events)))
		if len(b.events) > 0 {
			w.metrics.PersistLastSequence.Set(float64(b.events[len(b.events)-1].Sequence))
		}
	}
	return nil
}

// GetWriter returns the underlying writer.
func (w *Worker) GetWriter() *EventLogWriter {
	return w.writer
}

// MarshalPayload is a convenience wrapper for JSON-encoding event payloads.
func MarshalPayload(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("WARN: failed to marshal payload: %v", err)
		return []byte("{}")
	}
	return data
}
