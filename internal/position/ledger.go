package position

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"FuturesEngine/internal/book"
	"FuturesEngine/internal/contract"
	"FuturesEngine/internal/fpmath"
	"FuturesEngine/internal/margin"
)

var (
	ErrInsufficientMargin   = errors.New("position: insufficient margin")
	ErrInsufficientBalance  = errors.New("position: insufficient balance")
	ErrPositionLiquidated   = errors.New("position: position is liquidated")
	ErrUnknownPosition      = errors.New("position: unknown position")
	ErrVersionConflict      = errors.New("position: version conflict")
	ErrMarginNotRestored    = errors.New("position: margin not restored above call threshold")
	ErrNotInMarginCall      = errors.New("position: position is not in margin call")
)

// Ledger owns all positions and collateral accounts. A user can hold
// positions in many contracts at once, so unlike the per-contract books the
// ledger is shared mutable state: every mutation happens under the ledger
// lock and bumps the position version.
type Ledger struct {
	mu        sync.Mutex
	positions map[Key]*Position
	byID      map[uuid.UUID]*Position // includes liquidated tombstones
	accounts  map[uuid.UUID]*Account
	registry  *contract.Registry
}

func NewLedger(registry *contract.Registry) *Ledger {
	return &Ledger{
		positions: make(map[Key]*Position),
		byID:      make(map[uuid.UUID]*Position),
		accounts:  make(map[uuid.UUID]*Account),
		registry:  registry,
	}
}

// --- Collateral accounts ---

func (l *Ledger) account(userID uuid.UUID) *Account {
	acct, ok := l.accounts[userID]
	if !ok {
		acct = &Account{UserID: userID}
		l.accounts[userID] = acct
	}
	return acct
}

// Deposit credits free collateral.
func (l *Ledger) Deposit(userID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("position: deposit amount must be > 0, got %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account(userID).Balance += amount
	return nil
}

// Withdraw debits free collateral. Reserved margin cannot be withdrawn.
func (l *Ledger) Withdraw(userID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("position: withdrawal amount must be > 0, got %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.account(userID)
	if acct.Balance < amount {
		return fmt.Errorf("%w: have %d, want %d", ErrInsufficientBalance, acct.Balance, amount)
	}
	acct.Balance -= amount
	return nil
}

// Balance returns a user's free collateral.
func (l *Ledger) Balance(userID uuid.UUID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(userID).Balance
}

// --- Margin admission ---

// EnsureMargin rejects a submission up front if opening or increasing
// exposure would require more initial margin than the user's free collateral
// covers. Reducing orders need no additional margin.
func (l *Ledger) EnsureMargin(userID uuid.UUID, c *contract.Contract, side book.Side, quantity, price int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.positions[Key{UserID: userID, Symbol: c.Symbol}]

	opening := quantity
	if pos != nil && !pos.IsFlat() && pos.SideSign() != side.Sign() {
		// Reducing exposure; only a flip's excess opens new exposure.
		opening = quantity - pos.AbsQuantity()
		if opening <= 0 {
			return nil
		}
	}

	required := margin.InitialMargin(c, margin.Notional(c, opening, price))
	free := l.account(userID).Balance
	if free < required {
		return fmt.Errorf("%w: need %d, have %d (%s %d lots of %s)",
			ErrInsufficientMargin, required, free, side, quantity, c.Symbol)
	}
	return nil
}

// --- Trade application ---

// ApplyTrade applies one trade to both counterparties' positions atomically:
// the buyer receives a long fill and the seller a short fill, or neither side
// is touched. On success the trade advances to cleared.
func (l *Ledger) ApplyTrade(t *book.Trade) (buyer, seller *Position, err error) {
	c, err := l.registry.Get(t.Symbol)
	if err != nil {
		return nil, nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	buyer, seller, err = l.applyFills(c, t)
	if err != nil {
		return nil, nil, err
	}
	t.AdvanceStatus(book.TradeStatusCleared)
	return buyer, seller, nil
}

// applyFills computes both fills on copies, then commits both. If either
// side fails, neither position is touched. Runs under the ledger mutex, so
// nothing mutates the positions between compute and commit.
func (l *Ledger) applyFills(c *contract.Contract, t *book.Trade) (*Position, *Position, error) {
	buyKey := Key{UserID: t.BuyerID, Symbol: t.Symbol}
	sellKey := Key{UserID: t.SellerID, Symbol: t.Symbol}

	buyNext, buyDelta, err := l.computeFill(c, l.positions[buyKey], t.BuyerID, t.Quantity, t.Price)
	if err != nil {
		return nil, nil, fmt.Errorf("buyer %s: %w", t.BuyerID, err)
	}
	sellNext, sellDelta, err := l.computeFill(c, l.positions[sellKey], t.SellerID, -t.Quantity, t.Price)
	if err != nil {
		return nil, nil, fmt.Errorf("seller %s: %w", t.SellerID, err)
	}

	l.commitFill(buyKey, buyNext, buyDelta)
	l.commitFill(sellKey, sellNext, sellDelta)

	return buyNext.Clone(), sellNext.Clone(), nil
}

// balanceDelta is the net change to the user's free collateral from one
// fill: released margin plus realized PnL minus newly reserved margin.
type balanceDelta struct {
	userID uuid.UUID
	amount int64
}

// computeFill derives the post-fill position (a fresh copy) for one side.
// signedQty is positive for a buy fill, negative for a sell fill.
func (l *Ledger) computeFill(c *contract.Contract, cur *Position, userID uuid.UUID, signedQty, price int64) (*Position, balanceDelta, error) {
	delta := balanceDelta{userID: userID}

	var pos *Position
	if cur == nil {
		pos = &Position{
			ID:     uuid.New(),
			UserID: userID,
			Symbol: c.Symbol,
			Status: StatusActive,
		}
	} else {
		if cur.Status == StatusLiquidated {
			return nil, delta, ErrPositionLiquidated
		}
		pos = cur.Clone()
	}

	tradeQty := signedQty
	if tradeQty < 0 {
		tradeQty = -tradeQty
	}

	switch {
	case pos.IsFlat() || pos.SideSign() == sign(signedQty):
		// Open or increase: weighted-average re-pricing, reserve IM on the
		// added notional.
		pos.EntryPrice = fpmath.ComputeAvgEntryPrice(pos.AbsQuantity(), pos.EntryPrice, tradeQty, price)
		pos.NetQuantity += signedQty

		reserve := margin.InitialMargin(c, margin.Notional(c, tradeQty, price))
		pos.MarginReserved += reserve
		delta.amount -= reserve

	case tradeQty < pos.AbsQuantity():
		// Partial reduce: realize PnL on the reduced portion and release
		// margin proportionally.
		pnl := fpmath.ComputeRealizedPnL(pos.SideSign(), price, pos.EntryPrice, tradeQty, c.ContractSize)
		release := pos.MarginReserved * tradeQty / pos.AbsQuantity()

		pos.NetQuantity += signedQty
		pos.MarginReserved -= release
		pos.RealizedPnL += pnl
		delta.amount += release + pnl

	case tradeQty == pos.AbsQuantity():
		// Full close: realize all PnL, release all margin.
		pnl := fpmath.ComputeRealizedPnL(pos.SideSign(), price, pos.EntryPrice, tradeQty, c.ContractSize)
		delta.amount += pos.MarginReserved + pnl

		pos.NetQuantity = 0
		pos.EntryPrice = 0
		pos.MarginReserved = 0
		pos.RealizedPnL += pnl

	default:
		// Flip: close the existing position, then open the excess in the
		// opposite direction at the trade price.
		closeQty := pos.AbsQuantity()
		pnl := fpmath.ComputeRealizedPnL(pos.SideSign(), price, pos.EntryPrice, closeQty, c.ContractSize)
		delta.amount += pos.MarginReserved + pnl

		openQty := tradeQty - closeQty
		reserve := margin.InitialMargin(c, margin.Notional(c, openQty, price))
		delta.amount -= reserve

		pos.NetQuantity = sign(signedQty) * openQty
		pos.EntryPrice = price
		pos.MarginReserved = reserve
		pos.RealizedPnL += pnl
	}

	pos.MaintenanceMarginRequired = margin.MaintenanceMargin(c, margin.Notional(c, pos.AbsQuantity(), pos.EntryPrice))
	pos.Version++

	return pos, delta, nil
}

// commitFill installs the post-fill position and applies the balance delta.
// A position closed back to flat is removed from the ledger.
func (l *Ledger) commitFill(key Key, pos *Position, delta balanceDelta) {
	l.account(delta.userID).Balance += delta.amount

	if pos.IsFlat() {
		delete(l.positions, key)
		delete(l.byID, pos.ID)
		return
	}

	l.positions[key] = pos
	l.byID[pos.ID] = pos
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	if v > 0 {
		return 1
	}
	return 0
}

// --- Queries ---

// Get returns a copy of the position for (user, symbol).
func (l *Ledger) Get(userID uuid.UUID, symbol string) (*Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[Key{UserID: userID, Symbol: symbol}]
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

// GetByID returns a copy of a position (including liquidated tombstones).
func (l *Ledger) GetByID(id uuid.UUID) (*Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.byID[id]
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

// UserPositions returns copies of all of a user's open positions, sorted by
// symbol for stable output.
func (l *Ledger) UserPositions(userID uuid.UUID) []*Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]*Position, 0)
	for key, pos := range l.positions {
		if key.UserID == userID {
			result = append(result, pos.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result
}

// HasOpenPositions reports whether any open position references the symbol.
// Satisfies contract.OpenPositionChecker.
func (l *Ledger) HasOpenPositions(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.positions {
		if key.Symbol == symbol {
			return true
		}
	}
	return false
}

// --- Settlement access ---

// SymbolPositions returns clones of all live positions in one contract,
// sorted by user ID for deterministic processing order.
func (l *Ledger) SymbolPositions(symbol string) []*Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]*Position, 0)
	for key, pos := range l.positions {
		if key.Symbol == symbol {
			result = append(result, pos.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UserID.String() < result[j].UserID.String()
	})
	return result
}

// SettlementUpdate is one position's planned mark-to-market outcome,
// computed against a snapshot and applied atomically by CommitSettlement.
type SettlementUpdate struct {
	PositionID             uuid.UUID
	ExpectVersion          int64
	NewEntryPrice          int64
	NewMarginReserved      int64
	NewMaintenanceRequired int64
	NewStatus              Status
	BalanceCredit          int64
	Liquidate              bool
}

// CommitSettlement applies a full settlement plan under the ledger lock.
// Either every update lands or none do: if any position was modified since
// the snapshot the plan was computed from, the whole commit fails with
// ErrVersionConflict and the caller replans against a fresh snapshot.
func (l *Ledger) CommitSettlement(updates []SettlementUpdate, settledAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, u := range updates {
		pos, ok := l.byID[u.PositionID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPosition, u.PositionID)
		}
		if pos.Version != u.ExpectVersion {
			return fmt.Errorf("%w: position %s at version %d, plan expects %d",
				ErrVersionConflict, u.PositionID, pos.Version, u.ExpectVersion)
		}
		if pos.Status == StatusLiquidated {
			return fmt.Errorf("%w: %s", ErrPositionLiquidated, u.PositionID)
		}
	}

	for _, u := range updates {
		pos := l.byID[u.PositionID]

		l.account(pos.UserID).Balance += u.BalanceCredit

		if u.Liquidate {
			// The forced close realizes everything: the tombstone holds no
			// quantity, no margin, and no maintenance requirement.
			pos.Status = StatusLiquidated
			pos.NetQuantity = 0
			pos.EntryPrice = 0
			pos.MarginReserved = 0
			pos.MaintenanceMarginRequired = 0
			pos.LastSettledAt = settledAt
			pos.Version++
			delete(l.positions, Key{UserID: pos.UserID, Symbol: pos.Symbol})
			continue
		}

		pos.EntryPrice = u.NewEntryPrice
		pos.MarginReserved = u.NewMarginReserved
		pos.MaintenanceMarginRequired = u.NewMaintenanceRequired
		pos.Status = u.NewStatus
		pos.LastSettledAt = settledAt
		pos.Version++
	}
	return nil
}

// --- Margin-call workflow ---

// TopUpMargin moves free collateral into a position's reserved margin. This
// is the external "margin was topped up" action that precedes margin-call
// resolution.
func (l *Ledger) TopUpMargin(positionID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("position: top-up amount must be > 0, got %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.byID[positionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPosition, positionID)
	}
	if pos.Status == StatusLiquidated {
		return ErrPositionLiquidated
	}

	acct := l.account(pos.UserID)
	if acct.Balance < amount {
		return fmt.Errorf("%w: have %d, want %d", ErrInsufficientBalance, acct.Balance, amount)
	}

	acct.Balance -= amount
	pos.MarginReserved += amount
	pos.Version++
	return nil
}

// ResolveMarginCall moves margin_call → active, but only after verifying the
// top-up actually restored the margin ratio above the call threshold. It is
// never automatic.
func (l *Ledger) ResolveMarginCall(positionID uuid.UUID, thresholds margin.Thresholds) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.byID[positionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPosition, positionID)
	}
	if pos.Status == StatusLiquidated {
		return ErrPositionLiquidated
	}
	if pos.Status != StatusMarginCall {
		return fmt.Errorf("%w: %s is %s", ErrNotInMarginCall, positionID, pos.Status)
	}

	ratio := margin.Ratio(pos.MarginReserved, pos.MaintenanceMarginRequired)
	if thresholds.Classify(ratio) != margin.HealthOK {
		return fmt.Errorf("%w: ratio %d below call threshold %d", ErrMarginNotRestored, ratio, thresholds.MarginCall)
	}

	pos.Status = StatusActive
	pos.Version++
	return nil
}
