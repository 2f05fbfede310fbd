package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"FuturesEngine/internal/contract"
	"FuturesEngine/internal/event"
	"FuturesEngine/internal/fpmath"
	"FuturesEngine/internal/margin"
	"FuturesEngine/internal/position"
)

var (
	ErrAlreadySettled  = errors.New("settlement: cycle already completed")
	ErrCycleInProgress = errors.New("settlement: cycle already in progress")
)

// commitRetries bounds replans when a concurrent trade lands between the
// position snapshot and the commit.
const commitRetries = 3

// RetryPolicy bounds the settlement price fetch. Delay doubles per attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// Engine runs daily mark-to-market settlement cycles. Each (symbol, date)
// pair settles exactly once; re-runs of a completed cycle are rejected and
// failed cycles may be retried.
type Engine struct {
	registry   *contract.Registry
	ledger     *position.Ledger
	thresholds margin.Thresholds
	source     PriceSource
	retry      RetryPolicy
	emit       func(event.Event)
	logger     zerolog.Logger

	mu     sync.Mutex
	cycles map[cycleKey]*Cycle
}

type cycleKey struct {
	symbol string
	date   string
}

func NewEngine(
	registry *contract.Registry,
	ledger *position.Ledger,
	thresholds margin.Thresholds,
	source PriceSource,
	retry RetryPolicy,
	emit func(event.Event),
	logger zerolog.Logger,
) *Engine {
	if emit == nil {
		emit = func(event.Event) {}
	}
	return &Engine{
		registry:   registry,
		ledger:     ledger,
		thresholds: thresholds,
		source:     source,
		retry:      retry,
		emit:       emit,
		logger:     logger.With().Str("component", "settlement").Logger(),
		cycles:     make(map[cycleKey]*Cycle),
	}
}

// Run executes the settlement cycle for one contract and date. It blocks
// until the cycle completes or fails; callers serialize it against trading
// on the same contract.
func (e *Engine) Run(ctx context.Context, symbol, date string) (*Cycle, error) {
	c, err := e.registry.Get(symbol)
	if err != nil {
		return nil, err
	}

	cycle, err := e.beginCycle(symbol, date)
	if err != nil {
		return cycle, err
	}

	e.emit(&event.SettlementStarted{
		Contract:       symbol,
		SettlementDate: date,
		StartedAt:      cycle.StartedAt,
	})
	e.logger.Info().
		Str("symbol", symbol).
		Str("date", date).
		Msg("settlement cycle started")

	price, attempts, err := e.fetchPrice(ctx, symbol)
	if err != nil {
		return e.failCycle(cycle, attempts, err)
	}

	updates, summary, err := e.markToMarket(c, price, date)
	if err != nil {
		return e.failCycle(cycle, attempts, err)
	}

	e.mu.Lock()
	if err := cycle.transition(CycleStatusCompleted); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	cycle.SettlementPrice = price
	cycle.Attempts = attempts
	cycle.PositionsMarked = len(updates)
	cycle.MarginCalls = summary.marginCalls
	cycle.Liquidations = summary.liquidations
	cycle.TotalPnL = summary.totalPnL
	cycle.CompletedAt = time.Now()
	done := cycle.Clone()
	e.mu.Unlock()

	for _, ev := range summary.events {
		e.emit(ev)
	}
	e.emit(&event.SettlementCompleted{
		Contract:        symbol,
		SettlementDate:  date,
		SettlementPrice: price,
		PositionsMarked: done.PositionsMarked,
		MarginCalls:     done.MarginCalls,
		Liquidations:    done.Liquidations,
		TotalPnL:        done.TotalPnL,
		CompletedAt:     done.CompletedAt,
	})
	e.logger.Info().
		Str("symbol", symbol).
		Str("date", date).
		Int64("price", price).
		Int("positions", done.PositionsMarked).
		Int("margin_calls", done.MarginCalls).
		Int("liquidations", done.Liquidations).
		Msg("settlement cycle completed")

	return done, nil
}

func (e *Engine) beginCycle(symbol, date string) (*Cycle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := cycleKey{symbol: symbol, date: date}
	if existing, ok := e.cycles[key]; ok {
		switch existing.Status {
		case CycleStatusCompleted:
			return existing.Clone(), fmt.Errorf("%w: %s on %s", ErrAlreadySettled, symbol, date)
		case CycleStatusInProgress:
			return existing.Clone(), fmt.Errorf("%w: %s on %s", ErrCycleInProgress, symbol, date)
		case CycleStatusFailed:
			// Retryable: a failed cycle re-enters pending, then restarts.
			if err := existing.transition(CycleStatusPending); err != nil {
				return existing.Clone(), err
			}
			if err := existing.transition(CycleStatusInProgress); err != nil {
				return existing.Clone(), err
			}
			existing.FailureReason = ""
			existing.StartedAt = time.Now()
			return existing, nil
		}
	}

	cycle := &Cycle{
		ID:             uuid.New(),
		Symbol:         symbol,
		SettlementDate: date,
		Status:         CycleStatusPending,
		StartedAt:      time.Now(),
	}
	if err := cycle.transition(CycleStatusInProgress); err != nil {
		return nil, err
	}
	e.cycles[key] = cycle
	return cycle, nil
}

func (e *Engine) failCycle(cycle *Cycle, attempts int, cause error) (*Cycle, error) {
	e.mu.Lock()
	if err := cycle.transition(CycleStatusFailed); err != nil {
		stuck := cycle.Clone()
		e.mu.Unlock()
		return stuck, err
	}
	cycle.Attempts = attempts
	cycle.FailureReason = cause.Error()
	cycle.CompletedAt = time.Now()
	done := cycle.Clone()
	e.mu.Unlock()

	e.emit(&event.SettlementFailed{
		Contract:       done.Symbol,
		SettlementDate: done.SettlementDate,
		Reason:         done.FailureReason,
		Attempts:       attempts,
		FailedAt:       done.CompletedAt,
	})
	e.logger.Error().
		Err(cause).
		Str("symbol", done.Symbol).
		Str("date", done.SettlementDate).
		Int("attempts", attempts).
		Msg("settlement cycle failed")

	return done, cause
}

// fetchPrice resolves the settlement price, retrying unavailability with
// exponential backoff up to the policy's attempt bound.
func (e *Engine) fetchPrice(ctx context.Context, symbol string) (int64, int, error) {
	attempts := 0
	delay := e.retry.BaseDelay
	for {
		attempts++
		price, err := e.source.Price(ctx, symbol)
		if err == nil {
			return price, attempts, nil
		}
		if !errors.Is(err, ErrPriceUnavailable) || attempts >= e.retry.MaxAttempts {
			return 0, attempts, err
		}

		e.logger.Warn().
			Str("symbol", symbol).
			Int("attempt", attempts).
			Dur("backoff", delay).
			Msg("settlement price unavailable, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, attempts, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

type markSummary struct {
	marginCalls  int
	liquidations int
	totalPnL     int64
	events       []event.Event
}

// markToMarket plans every position's settlement outcome against a snapshot,
// then commits the whole plan atomically. A concurrent position change
// invalidates the plan and forces a replan.
func (e *Engine) markToMarket(c *contract.Contract, price int64, date string) ([]position.SettlementUpdate, markSummary, error) {
	var lastErr error
	for attempt := 0; attempt < commitRetries; attempt++ {
		snapshot := e.ledger.SymbolPositions(c.Symbol)
		now := time.Now()

		updates, summary := e.plan(c, snapshot, price, date, now)
		if err := e.ledger.CommitSettlement(updates, now); err != nil {
			if errors.Is(err, position.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, markSummary{}, err
		}
		return updates, summary, nil
	}
	return nil, markSummary{}, lastErr
}

// plan computes each position's variation PnL at the settlement price,
// settles it into reserved margin, and classifies the resulting ratio. The
// ratio is taken before negative margin is clamped to zero, so a deeply
// underwater position classifies as liquidatable rather than merely called.
func (e *Engine) plan(c *contract.Contract, snapshot []*position.Position, price int64, date string, now time.Time) ([]position.SettlementUpdate, markSummary) {
	var summary markSummary
	updates := make([]position.SettlementUpdate, 0, len(snapshot))

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].UserID.String() < snapshot[j].UserID.String()
	})

	for _, pos := range snapshot {
		pnl := fpmath.ComputeRealizedPnL(pos.SideSign(), price, pos.EntryPrice, pos.AbsQuantity(), c.ContractSize)
		marked := pos.MarginReserved + pnl
		newMaint := margin.MaintenanceMargin(c, margin.Notional(c, pos.AbsQuantity(), price))
		ratio := margin.Ratio(marked, newMaint)

		clamped := marked
		if clamped < 0 {
			clamped = 0
		}

		u := position.SettlementUpdate{
			PositionID:             pos.ID,
			ExpectVersion:          pos.Version,
			NewEntryPrice:          price,
			NewMarginReserved:      clamped,
			NewMaintenanceRequired: newMaint,
		}

		switch e.thresholds.Classify(ratio) {
		case margin.HealthLiquidatable:
			u.Liquidate = true
			u.BalanceCredit = clamped
			summary.liquidations++
			summary.events = append(summary.events, &event.LiquidationExecuted{
				PositionID:      pos.ID,
				UserID:          pos.UserID,
				Contract:        c.Symbol,
				SettlementDate:  date,
				MarginRatio:     ratio,
				ClosePrice:      price,
				ClosedQuantity:  pos.AbsQuantity(),
				RealizedPnL:     pnl,
				RemainingMargin: clamped,
				LiquidatedAt:    now,
			})

		case margin.HealthMarginCall:
			u.NewStatus = position.StatusMarginCall
			summary.marginCalls++
			summary.events = append(summary.events, &event.MarginCallIssued{
				PositionID:          pos.ID,
				UserID:              pos.UserID,
				Contract:            c.Symbol,
				SettlementDate:      date,
				MarginRatio:         ratio,
				MarginReserved:      clamped,
				MaintenanceRequired: newMaint,
				IssuedAt:            now,
			})

		default:
			u.NewStatus = position.StatusActive
		}

		summary.totalPnL += pnl
		updates = append(updates, u)
	}

	return updates, summary
}

// Liquidate force-closes a single position at the current settlement price,
// regardless of its margin ratio. Operator override; the position is marked
// and closed through the same commit path an automatic liquidation uses.
func (e *Engine) Liquidate(ctx context.Context, positionID uuid.UUID) error {
	pos, ok := e.ledger.GetByID(positionID)
	if !ok {
		return fmt.Errorf("%w: %s", position.ErrUnknownPosition, positionID)
	}
	if pos.Status == position.StatusLiquidated {
		return fmt.Errorf("%w: %s", position.ErrPositionLiquidated, positionID)
	}

	c, err := e.registry.Get(pos.Symbol)
	if err != nil {
		return err
	}

	price, _, err := e.fetchPrice(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	date := time.Now().UTC().Format("2006-01-02")

	for attempt := 0; attempt < commitRetries; attempt++ {
		cur, ok := e.ledger.GetByID(positionID)
		if !ok {
			return fmt.Errorf("%w: %s", position.ErrUnknownPosition, positionID)
		}
		if cur.Status == position.StatusLiquidated {
			return fmt.Errorf("%w: %s", position.ErrPositionLiquidated, positionID)
		}

		now := time.Now()
		pnl := fpmath.ComputeRealizedPnL(cur.SideSign(), price, cur.EntryPrice, cur.AbsQuantity(), c.ContractSize)
		marked := cur.MarginReserved + pnl
		newMaint := margin.MaintenanceMargin(c, margin.Notional(c, cur.AbsQuantity(), price))
		ratio := margin.Ratio(marked, newMaint)

		clamped := marked
		if clamped < 0 {
			clamped = 0
		}

		u := position.SettlementUpdate{
			PositionID:             cur.ID,
			ExpectVersion:          cur.Version,
			NewEntryPrice:          price,
			NewMarginReserved:      clamped,
			NewMaintenanceRequired: newMaint,
			Liquidate:              true,
			BalanceCredit:          clamped,
		}
		if err := e.ledger.CommitSettlement([]position.SettlementUpdate{u}, now); err != nil {
			if errors.Is(err, position.ErrVersionConflict) {
				continue
			}
			return err
		}

		e.emit(&event.LiquidationExecuted{
			PositionID:      cur.ID,
			UserID:          cur.UserID,
			Contract:        c.Symbol,
			SettlementDate:  date,
			MarginRatio:     ratio,
			ClosePrice:      price,
			ClosedQuantity:  cur.AbsQuantity(),
			RealizedPnL:     pnl,
			RemainingMargin: clamped,
			LiquidatedAt:    now,
		})
		e.logger.Warn().
			Str("symbol", c.Symbol).
			Str("position_id", cur.ID.String()).
			Int64("price", price).
			Int64("margin_ratio", ratio).
			Msg("position liquidated by operator override")
		return nil
	}
	return position.ErrVersionConflict
}

// GetCycle returns the recorded cycle for a (symbol, date) pair.
func (e *Engine) GetCycle(symbol, date string) (*Cycle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cycle, ok := e.cycles[cycleKey{symbol: symbol, date: date}]
	if !ok {
		return nil, false
	}
	return cycle.Clone(), true
}

// ListCycles returns all recorded cycles for a contract, newest first.
func (e *Engine) ListCycles(symbol string) []*Cycle {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make([]*Cycle, 0)
	for key, cycle := range e.cycles {
		if key.symbol == symbol {
			result = append(result, cycle.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SettlementDate > result[j].SettlementDate
	})
	return result
}
