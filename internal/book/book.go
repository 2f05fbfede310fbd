package book

import (
	"container/list"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"FuturesEngine/internal/contract"
)

var (
	ErrInvalidOrder      = errors.New("book: invalid order")
	ErrContractNotActive = errors.New("book: contract not active")
)

// level is a FIFO queue of resting orders at one price.
type level struct {
	price  int64
	orders *list.List // of *Order
}

func newLevel(price int64) *level {
	return &level{price: price, orders: list.New()}
}

func (l *level) aggregateQuantity() int64 {
	var total int64
	for el := l.orders.Front(); el != nil; el = el.Next() {
		total += el.Value.(*Order).Quantity
	}
	return total
}

// restingRef indexes a resting order for O(1) cancellation.
type restingRef struct {
	order *Order
	level *level
	elem  *list.Element
}

// ExecSequencer hands out globally increasing execution sequence numbers.
// The engine shares one sequencer across all books.
type ExecSequencer interface {
	Next() int64
}

// Book is the order book for one contract. It is a single-writer structure:
// all Submit/Cancel calls must be serialized by the caller (the engine runs
// one worker goroutine per contract).
type Book struct {
	contract *contract.Contract

	bids []*level // strictly price-descending
	asks []*level // strictly price-ascending

	bidIndex map[int64]*level
	askIndex map[int64]*level
	resting  map[uuid.UUID]*restingRef

	seq     int64 // submission sequence, tie-break within a price level
	execSeq ExecSequencer

	lastTradePrice int64
	hasLastTrade   bool
	dayVolume      int64 // lots traded since last reset
	dayNotionalPx  int64 // Σ price*qty since last reset, price scale
}

func New(c *contract.Contract, execSeq ExecSequencer) *Book {
	return &Book{
		contract: c,
		bidIndex: make(map[int64]*level),
		askIndex: make(map[int64]*level),
		resting:  make(map[uuid.UUID]*restingRef),
		execSeq:  execSeq,
	}
}

// Symbol returns the contract symbol this book trades.
func (b *Book) Symbol() string {
	return b.contract.Symbol
}

// SetContractStatus updates the book's view of the contract lifecycle. Must
// only be called from the goroutine that owns the book.
func (b *Book) SetContractStatus(s contract.Status) {
	b.contract.Status = s
}

// Submit validates, matches, and rests an incoming order. Validation happens
// before any book mutation, so a rejected submission leaves no partial state.
func (b *Book) Submit(o *Order) (*SubmitResult, error) {
	if err := b.validate(o); err != nil {
		return nil, err
	}

	b.seq++
	o.Seq = b.seq
	o.OriginalQuantity = o.Quantity
	o.Status = OrderStatusResting
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}

	result := &SubmitResult{}
	b.match(o, result)

	if o.Quantity > 0 {
		switch o.Type {
		case OrderTypeLimit:
			b.rest(o)
			result.Resting = o
		default:
			// Market and IOC remainders are discarded.
			if o.Filled() > 0 {
				o.Status = OrderStatusPartiallyFilled
			} else {
				o.Status = OrderStatusCancelled
			}
		}
	}

	return result, nil
}

func (b *Book) validate(o *Order) error {
	if !b.contract.IsTradable() {
		return fmt.Errorf("%w: %s is %s", ErrContractNotActive, b.contract.Symbol, b.contract.Status)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be > 0, got %d", ErrInvalidOrder, o.Quantity)
	}
	switch o.Type {
	case OrderTypeLimit, OrderTypeIOC:
		if o.Price <= 0 {
			return fmt.Errorf("%w: limit price must be > 0, got %d", ErrInvalidOrder, o.Price)
		}
	case OrderTypeMarket:
		if o.Price != 0 {
			return fmt.Errorf("%w: market order must not carry a price", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unknown order type %d", ErrInvalidOrder, o.Type)
	}
	if o.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: missing owner", ErrInvalidOrder)
	}
	return nil
}

// match walks the opposing side while the incoming order crosses, filling
// strictly oldest-first within each level.
func (b *Book) match(o *Order, result *SubmitResult) {
	for o.Quantity > 0 {
		opp := b.bestOpposing(o.Side)
		if opp == nil {
			break
		}
		if !crosses(o, opp.price) {
			break
		}

		for o.Quantity > 0 && opp.orders.Len() > 0 {
			el := opp.orders.Front()
			maker := el.Value.(*Order)

			qty := o.Quantity
			if maker.Quantity < qty {
				qty = maker.Quantity
			}

			trade := b.execute(o, maker, opp.price, qty)
			result.Trades = append(result.Trades, trade)

			if maker.Quantity == 0 {
				maker.Status = OrderStatusFilled
				opp.orders.Remove(el)
				delete(b.resting, maker.ID)
			} else {
				maker.Status = OrderStatusPartiallyFilled
			}
		}

		if opp.orders.Len() == 0 {
			b.removeLevel(o.Side.Opposite(), opp.price)
		}
	}

	if o.Quantity == 0 {
		o.Status = OrderStatusFilled
	} else if o.Filled() > 0 {
		o.Status = OrderStatusPartiallyFilled
	}
}

// execute records one match at the maker price and decrements both orders.
func (b *Book) execute(taker, maker *Order, price, qty int64) *Trade {
	taker.Quantity -= qty
	maker.Quantity -= qty

	trade := &Trade{
		ID:           uuid.New(),
		Symbol:       b.contract.Symbol,
		Price:        price,
		Quantity:     qty,
		ExecutionSeq: b.execSeq.Next(),
		Status:       TradeStatusCompleted,
		ExecutedAt:   time.Now().UTC(),
	}

	if taker.Side == SideBuy {
		trade.BuyOrderID = taker.ID
		trade.SellOrderID = maker.ID
		trade.BuyerID = taker.OwnerID
		trade.SellerID = maker.OwnerID
	} else {
		trade.BuyOrderID = maker.ID
		trade.SellOrderID = taker.ID
		trade.BuyerID = maker.OwnerID
		trade.SellerID = taker.OwnerID
	}

	b.lastTradePrice = price
	b.hasLastTrade = true
	b.dayVolume += qty
	b.dayNotionalPx += price * qty

	return trade
}

func crosses(o *Order, oppPrice int64) bool {
	if o.Type == OrderTypeMarket {
		return true
	}
	if o.Side == SideBuy {
		return oppPrice <= o.Price
	}
	return oppPrice >= o.Price
}

// rest appends the remainder to the tail of its price level's FIFO queue.
// New orders never jump ahead of existing same-price orders.
func (b *Book) rest(o *Order) {
	lvl := b.getOrCreateLevel(o.Side, o.Price)
	elem := lvl.orders.PushBack(o)
	b.resting[o.ID] = &restingRef{order: o, level: lvl, elem: elem}
	if o.Filled() == 0 {
		o.Status = OrderStatusResting
	}
}

// Cancel removes a resting order. Cancelling an unknown or already-filled
// order returns false with no side effect.
func (b *Book) Cancel(orderID uuid.UUID) bool {
	ref, ok := b.resting[orderID]
	if !ok {
		return false
	}

	ref.level.orders.Remove(ref.elem)
	delete(b.resting, orderID)
	ref.order.Status = OrderStatusCancelled

	if ref.level.orders.Len() == 0 {
		b.removeLevel(ref.order.Side, ref.level.price)
	}

	return true
}

// GetOrder returns a resting order by ID.
func (b *Book) GetOrder(orderID uuid.UUID) (*Order, bool) {
	ref, ok := b.resting[orderID]
	if !ok {
		return nil, false
	}
	return ref.order, true
}

func (b *Book) bestOpposing(side Side) *level {
	if side == SideBuy {
		if len(b.asks) == 0 {
			return nil
		}
		return b.asks[0]
	}
	if len(b.bids) == 0 {
		return nil
	}
	return b.bids[0]
}

// BestBid returns the highest resting bid price and its aggregate quantity.
func (b *Book) BestBid() (price, qty int64, ok bool) {
	if len(b.bids) == 0 {
		return 0, 0, false
	}
	return b.bids[0].price, b.bids[0].aggregateQuantity(), true
}

// BestAsk returns the lowest resting ask price and its aggregate quantity.
func (b *Book) BestAsk() (price, qty int64, ok bool) {
	if len(b.asks) == 0 {
		return 0, 0, false
	}
	return b.asks[0].price, b.asks[0].aggregateQuantity(), true
}

func (b *Book) getOrCreateLevel(side Side, price int64) *level {
	if side == SideBuy {
		if lvl, ok := b.bidIndex[price]; ok {
			return lvl
		}
		lvl := newLevel(price)
		b.bidIndex[price] = lvl
		// bids sorted descending
		i := sort.Search(len(b.bids), func(i int) bool { return b.bids[i].price < price })
		b.bids = append(b.bids, nil)
		copy(b.bids[i+1:], b.bids[i:])
		b.bids[i] = lvl
		return lvl
	}

	if lvl, ok := b.askIndex[price]; ok {
		return lvl
	}
	lvl := newLevel(price)
	b.askIndex[price] = lvl
	// asks sorted ascending
	i := sort.Search(len(b.asks), func(i int) bool { return b.asks[i].price > price })
	b.asks = append(b.asks, nil)
	copy(b.asks[i+1:], b.asks[i:])
	b.asks[i] = lvl
	return lvl
}

func (b *Book) removeLevel(side Side, price int64) {
	if side == SideBuy {
		if _, ok := b.bidIndex[price]; !ok {
			return
		}
		delete(b.bidIndex, price)
		for i, lvl := range b.bids {
			if lvl.price == price {
				b.bids = append(b.bids[:i], b.bids[i+1:]...)
				return
			}
		}
		return
	}

	if _, ok := b.askIndex[price]; !ok {
		return
	}
	delete(b.askIndex, price)
	for i, lvl := range b.asks {
		if lvl.price == price {
			b.asks = append(b.asks[:i], b.asks[i+1:]...)
			return
		}
	}
}

// Snapshot returns up to depth aggregated levels per side.
func (b *Book) Snapshot(depth int) (bids, asks []DepthLevel) {
	for i, lvl := range b.bids {
		if i >= depth {
			break
		}
		bids = append(bids, DepthLevel{
			Price:             lvl.price,
			AggregateQuantity: lvl.aggregateQuantity(),
			Orders:            lvl.orders.Len(),
		})
	}
	for i, lvl := range b.asks {
		if i >= depth {
			break
		}
		asks = append(asks, DepthLevel{
			Price:             lvl.price,
			AggregateQuantity: lvl.aggregateQuantity(),
			Orders:            lvl.orders.Len(),
		})
	}
	return bids, asks
}

// LastTradePrice returns the most recent execution price.
func (b *Book) LastTradePrice() (int64, bool) {
	return b.lastTradePrice, b.hasLastTrade
}

// VWAP returns the volume-weighted average price since the last daily reset.
func (b *Book) VWAP() (int64, bool) {
	if b.dayVolume == 0 {
		return 0, false
	}
	return b.dayNotionalPx / b.dayVolume, true
}

// ResetDailyStats clears the per-day VWAP accumulators. Called by the
// settlement engine at the start of each trading day.
func (b *Book) ResetDailyStats() {
	b.dayVolume = 0
	b.dayNotionalPx = 0
}

// RestingCount returns the number of resting orders (both sides).
func (b *Book) RestingCount() int {
	return len(b.resting)
}
