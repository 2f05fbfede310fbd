package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"FuturesEngine/internal/book"
	"FuturesEngine/internal/contract"
	"FuturesEngine/internal/event"
	"FuturesEngine/internal/margin"
	"FuturesEngine/internal/observability"
	"FuturesEngine/internal/position"
	"FuturesEngine/internal/settlement"
)

var (
	ErrNoMarket      = errors.New("engine: no market for contract")
	ErrEngineClosed  = errors.New("engine: closed")
	ErrOrderNotFound = errors.New("engine: order not found")
)

// atomicSequencer hands out globally unique, monotonically increasing
// execution sequence numbers across every contract's book.
type atomicSequencer struct {
	n atomic.Int64
}

func (s *atomicSequencer) Next() int64 {
	return s.n.Add(1)
}

// Engine owns one worker goroutine per contract. All mutation of a
// contract's book happens on its worker, so the book needs no locking and
// every operation on one contract observes a total order. Settlement runs
// as a worker command, which freezes matching for exactly that contract
// while positions are marked.
type Engine struct {
	registry   *contract.Registry
	ledger     *position.Ledger
	thresholds margin.Thresholds
	settler    *settlement.Engine
	metrics    *observability.Metrics
	logger     zerolog.Logger

	persistCh chan<- event.Event
	publishCh chan<- event.Event

	execSeq atomicSequencer

	mu      sync.RWMutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

type worker struct {
	symbol string
	book   *book.Book
	cmds   chan task
}

type task struct {
	fn   func(*worker)
	done chan struct{}
}

const workerQueueDepth = 1024

func New(
	registry *contract.Registry,
	ledger *position.Ledger,
	thresholds margin.Thresholds,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	persistCh, publishCh chan<- event.Event,
) *Engine {
	return &Engine{
		registry:   registry,
		ledger:     ledger,
		thresholds: thresholds,
		metrics:    metrics,
		logger:     logger.With().Str("component", "engine").Logger(),
		persistCh:  persistCh,
		publishCh:  publishCh,
		workers:    make(map[string]*worker),
	}
}

// AttachSettler wires the settlement engine in after construction; the
// settlement price sources read market data back out of this engine.
func (e *Engine) AttachSettler(s *settlement.Engine) {
	e.settler = s
}

// Emit pushes an event to the durable log and the outbound publisher.
// Persistence is never dropped; the publish path sheds load instead of
// backpressuring the matching path.
func (e *Engine) Emit(ev event.Event) {
	if e.persistCh != nil {
		select {
		case e.persistCh <- ev:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistCh <- ev
		}
	}
	if e.publishCh != nil {
		select {
		case e.publishCh <- ev:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
}

// --- Contract lifecycle ---

// AddContract registers a new contract and starts its market.
func (e *Engine) AddContract(c *contract.Contract) error {
	if err := e.registry.Create(c); err != nil {
		return err
	}
	registered, err := e.registry.Get(c.Symbol)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	w := &worker{
		symbol: registered.Symbol,
		book:   book.New(registered, &e.execSeq),
		cmds:   make(chan task, workerQueueDepth),
	}
	e.workers[registered.Symbol] = w
	e.wg.Add(1)
	go e.runWorker(w)

	e.logger.Info().Str("symbol", registered.Symbol).Msg("market started")
	return nil
}

// TransitionContract advances a contract's lifecycle and propagates the new
// status into its book, serialized with matching.
func (e *Engine) TransitionContract(ctx context.Context, symbol string, next contract.Status) error {
	prev, err := e.registry.Get(symbol)
	if err != nil {
		return err
	}
	if err := e.registry.Transition(symbol, next); err != nil {
		return err
	}

	err = e.do(ctx, symbol, func(w *worker) {
		w.book.SetContractStatus(next)
	})
	if err != nil {
		return err
	}

	e.Emit(&event.ContractTransitioned{
		Contract:       symbol,
		FromStatus:     prev.Status.String(),
		ToStatus:       next.String(),
		TransitionedAt: time.Now(),
	})
	return nil
}

// ArchiveContract removes an expired contract and stops its market.
func (e *Engine) ArchiveContract(symbol string) error {
	if err := e.registry.Archive(symbol, e.ledger); err != nil {
		return err
	}

	e.mu.Lock()
	w, ok := e.workers[symbol]
	if ok {
		delete(e.workers, symbol)
		close(w.cmds)
	}
	e.mu.Unlock()

	e.logger.Info().Str("symbol", symbol).Msg("market archived")
	return nil
}

// --- Worker dispatch ---

func (e *Engine) runWorker(w *worker) {
	defer e.wg.Done()
	for t := range w.cmds {
		t.fn(w)
		close(t.done)
	}
}

// do runs fn on the contract's worker goroutine and waits for it.
func (e *Engine) do(ctx context.Context, symbol string, fn func(*worker)) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrEngineClosed
	}
	w, ok := e.workers[symbol]
	if !ok {
		e.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrNoMarket, symbol)
	}

	t := task{fn: fn, done: make(chan struct{})}
	select {
	case w.cmds <- t:
		e.mu.RUnlock()
	case <-ctx.Done():
		e.mu.RUnlock()
		return ctx.Err()
	}

	<-t.done
	return nil
}

// --- Trading ---

// SubmitOrder runs the full admission and matching path for one order:
// margin check, match, position updates for every resulting trade.
func (e *Engine) SubmitOrder(ctx context.Context, o *book.Order) (*book.SubmitResult, error) {
	var (
		result *book.SubmitResult
		subErr error
	)
	err := e.do(ctx, o.Symbol, func(w *worker) {
		start := time.Now()
		result, subErr = e.submitOnWorker(w, o)
		if e.metrics != nil {
			e.metrics.MatchDuration.WithLabelValues(o.Symbol).Observe(time.Since(start).Seconds())
		}
	})
	if err != nil {
		return nil, err
	}
	return result, subErr
}

func (e *Engine) submitOnWorker(w *worker, o *book.Order) (*book.SubmitResult, error) {
	c, err := e.registry.Get(o.Symbol)
	if err != nil {
		return nil, err
	}

	if price, ok := e.marginRefPrice(w, o); ok {
		if err := e.ledger.EnsureMargin(o.OwnerID, c, o.Side, o.Quantity, price); err != nil {
			e.rejectOrder(o, err)
			return nil, err
		}
	}

	result, err := w.book.Submit(o)
	if err != nil {
		e.rejectOrder(o, err)
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.OrdersSubmitted.WithLabelValues(o.Symbol, o.Side.String(), o.Type.String()).Inc()
		e.metrics.RestingOrders.WithLabelValues(o.Symbol).Set(float64(w.book.RestingCount()))
	}

	for _, t := range result.Trades {
		if _, _, err := e.ledger.ApplyTrade(t); err != nil {
			// The fill already happened in the book; the position update
			// must be reconciled, not silently lost.
			e.logger.Error().
				Err(err).
				Str("trade_id", t.ID.String()).
				Str("symbol", t.Symbol).
				Msg("trade failed to clear")
			if e.metrics != nil && errors.Is(err, position.ErrVersionConflict) {
				e.metrics.VersionConflicts.Inc()
			}
			continue
		}

		if e.metrics != nil {
			e.metrics.TradesExecuted.WithLabelValues(t.Symbol).Inc()
			e.metrics.TradedVolume.WithLabelValues(t.Symbol).Add(float64(t.Quantity))
		}
		e.Emit(&event.TradeExecuted{
			TradeID:      t.ID,
			Contract:     t.Symbol,
			Price:        t.Price,
			Quantity:     t.Quantity,
			BuyOrderID:   t.BuyOrderID,
			SellOrderID:  t.SellOrderID,
			BuyerID:      t.BuyerID,
			SellerID:     t.SellerID,
			ExecutionSeq: t.ExecutionSeq,
			ExecutedAt:   t.ExecutedAt,
		})
	}

	return result, nil
}

// marginRefPrice picks the price the admission margin check is computed at:
// the limit price when there is one, otherwise the best opposing quote. A
// market order into an empty book cannot fill, so no check is needed.
func (e *Engine) marginRefPrice(w *worker, o *book.Order) (int64, bool) {
	if o.Type != book.OrderTypeMarket {
		return o.Price, true
	}
	if o.Side == book.SideBuy {
		if price, _, ok := w.book.BestAsk(); ok {
			return price, true
		}
	} else {
		if price, _, ok := w.book.BestBid(); ok {
			return price, true
		}
	}
	return 0, false
}

func (e *Engine) rejectOrder(o *book.Order, cause error) {
	if e.metrics != nil {
		e.metrics.OrdersRejected.WithLabelValues(o.Symbol, rejectReason(cause)).Inc()
	}
	e.Emit(&event.OrderRejected{
		OrderID:  o.ID,
		Contract: o.Symbol,
		OwnerID:  o.OwnerID,
		Reason:   cause.Error(),
	})
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, position.ErrInsufficientMargin):
		return "insufficient_margin"
	case errors.Is(err, book.ErrContractNotActive):
		return "contract_not_active"
	case errors.Is(err, book.ErrInvalidOrder):
		return "invalid_order"
	default:
		return "other"
	}
}

// CancelOrder removes a resting order. Returns false when the order is
// unknown or already fully filled.
func (e *Engine) CancelOrder(ctx context.Context, symbol string, orderID uuid.UUID) (bool, error) {
	var cancelled bool
	err := e.do(ctx, symbol, func(w *worker) {
		cancelled = w.book.Cancel(orderID)
		if cancelled && e.metrics != nil {
			e.metrics.OrdersCancelled.WithLabelValues(symbol).Inc()
			e.metrics.RestingOrders.WithLabelValues(symbol).Set(float64(w.book.RestingCount()))
		}
	})
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// GetOrder returns a resting order by ID.
func (e *Engine) GetOrder(ctx context.Context, symbol string, orderID uuid.UUID) (*book.Order, error) {
	var (
		found *book.Order
		ok    bool
	)
	err := e.do(ctx, symbol, func(w *worker) {
		found, ok = w.book.GetOrder(orderID)
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return found, nil
}

// Depth returns an aggregated book snapshot to the requested depth.
func (e *Engine) Depth(ctx context.Context, symbol string, depth int) (bids, asks []book.DepthLevel, err error) {
	err = e.do(ctx, symbol, func(w *worker) {
		bids, asks = w.book.Snapshot(depth)
	})
	return bids, asks, err
}

// --- Settlement ---

// RunSettlement executes the daily settlement cycle for one contract on its
// worker. Order submissions queued behind it observe the post-settlement
// state; nothing interleaves with the mark-to-market pass.
func (e *Engine) RunSettlement(ctx context.Context, symbol, date string) (*settlement.Cycle, error) {
	if e.settler == nil {
		return nil, errors.New("engine: no settlement engine attached")
	}

	var (
		cycle  *settlement.Cycle
		runErr error
	)
	start := time.Now()
	err := e.do(ctx, symbol, func(w *worker) {
		cycle, runErr = e.settler.Run(ctx, symbol, date)
		if runErr == nil {
			w.book.ResetDailyStats()
		}
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.SettlementDuration.WithLabelValues(symbol).Observe(time.Since(start).Seconds())
		if runErr == nil && cycle != nil {
			e.metrics.SettlementsCompleted.WithLabelValues(symbol).Inc()
			e.metrics.SettlementPositions.WithLabelValues(symbol).Add(float64(cycle.PositionsMarked))
			e.metrics.MarginCallsIssued.WithLabelValues(symbol).Add(float64(cycle.MarginCalls))
			e.metrics.Liquidations.WithLabelValues(symbol).Add(float64(cycle.Liquidations))
		} else if runErr != nil && !errors.Is(runErr, settlement.ErrAlreadySettled) {
			e.metrics.SettlementsFailed.WithLabelValues(symbol, "price_unavailable").Inc()
		}
	}
	return cycle, runErr
}

// LastTradePrice implements settlement.MarketData. Only called from inside
// a settlement run, which executes on the contract's worker.
func (e *Engine) LastTradePrice(symbol string) (int64, bool) {
	e.mu.RLock()
	w, ok := e.workers[symbol]
	e.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return w.book.LastTradePrice()
}

// VWAP implements settlement.MarketData.
func (e *Engine) VWAP(symbol string) (int64, bool) {
	e.mu.RLock()
	w, ok := e.workers[symbol]
	e.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return w.book.VWAP()
}

// --- Collateral and margin workflow ---

// Deposit credits a user's free collateral.
func (e *Engine) Deposit(userID uuid.UUID, amount int64) error {
	if err := e.ledger.Deposit(userID, amount); err != nil {
		return err
	}
	e.Emit(&event.CollateralDeposited{
		TransferID:  uuid.New(),
		UserID:      userID,
		Amount:      amount,
		DepositedAt: time.Now(),
	})
	return nil
}

// Withdraw debits a user's free collateral.
func (e *Engine) Withdraw(userID uuid.UUID, amount int64) error {
	if err := e.ledger.Withdraw(userID, amount); err != nil {
		return err
	}
	e.Emit(&event.CollateralWithdrawn{
		TransferID:  uuid.New(),
		UserID:      userID,
		Amount:      amount,
		WithdrawnAt: time.Now(),
	})
	return nil
}

// TopUpMargin moves free collateral into a position's reserved margin.
func (e *Engine) TopUpMargin(positionID uuid.UUID, amount int64) error {
	if err := e.ledger.TopUpMargin(positionID, amount); err != nil {
		return err
	}
	pos, _ := e.ledger.GetByID(positionID)
	e.Emit(&event.MarginToppedUp{
		PositionID: positionID,
		UserID:     pos.UserID,
		Contract:   pos.Symbol,
		Amount:     amount,
		ToppedUpAt: time.Now(),
	})
	return nil
}

// LiquidatePosition force-closes a position at the current settlement price
// by operator request. It runs on the contract's worker so nothing trades
// against the position mid-liquidation.
func (e *Engine) LiquidatePosition(ctx context.Context, positionID uuid.UUID) error {
	if e.settler == nil {
		return errors.New("engine: no settlement engine attached")
	}
	pos, ok := e.ledger.GetByID(positionID)
	if !ok {
		return fmt.Errorf("%w: %s", position.ErrUnknownPosition, positionID)
	}

	var liqErr error
	err := e.do(ctx, pos.Symbol, func(w *worker) {
		liqErr = e.settler.Liquidate(ctx, positionID)
	})
	if err != nil {
		return err
	}
	if liqErr == nil && e.metrics != nil {
		e.metrics.Liquidations.WithLabelValues(pos.Symbol).Inc()
	}
	return liqErr
}

// ResolveMarginCall returns a margin-called position to active, provided the
// top-up actually restored its ratio.
func (e *Engine) ResolveMarginCall(positionID uuid.UUID) error {
	if err := e.ledger.ResolveMarginCall(positionID, e.thresholds); err != nil {
		return err
	}
	pos, _ := e.ledger.GetByID(positionID)
	if e.metrics != nil {
		e.metrics.MarginCallsResolved.WithLabelValues(pos.Symbol).Inc()
	}
	e.Emit(&event.MarginCallResolved{
		PositionID:  positionID,
		UserID:      pos.UserID,
		Contract:    pos.Symbol,
		MarginRatio: margin.Ratio(pos.MarginReserved, pos.MaintenanceMarginRequired),
		ResolvedAt:  time.Now(),
	})
	return nil
}

// --- Shutdown ---

// Close stops all market workers and waits for in-flight commands to drain.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, w := range e.workers {
		close(w.cmds)
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info().Msg("engine stopped")
}
