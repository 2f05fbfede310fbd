package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrPriceUnavailable = errors.New("settlement: price unavailable")

// PriceSource resolves the settlement price for a contract. Implementations
// return ErrPriceUnavailable (possibly wrapped) when no usable price exists;
// the engine treats that as retryable.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (int64, error)
}

// MarketData is the view of live books the price sources need.
type MarketData interface {
	LastTradePrice(symbol string) (int64, bool)
	VWAP(symbol string) (int64, bool)
}

// TickCache holds the most recent external reference price per contract,
// fed by the price feed subscriber. Ticks older than maxAge are ignored.
type TickCache struct {
	mu     sync.RWMutex
	ticks  map[string]tick
	maxAge time.Duration
}

type tick struct {
	price      int64
	observedAt time.Time
}

func NewTickCache(maxAge time.Duration) *TickCache {
	return &TickCache{
		ticks:  make(map[string]tick),
		maxAge: maxAge,
	}
}

func (c *TickCache) Set(symbol string, price int64, observedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Out-of-order ticks must not overwrite newer ones.
	if cur, ok := c.ticks[symbol]; ok && observedAt.Before(cur.observedAt) {
		return
	}
	c.ticks[symbol] = tick{price: price, observedAt: observedAt}
}

func (c *TickCache) Get(symbol string, now time.Time) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.ticks[symbol]
	if !ok {
		return 0, false
	}
	if c.maxAge > 0 && now.Sub(t.observedAt) > c.maxAge {
		return 0, false
	}
	return t.price, true
}

// LastTradedSource settles at the day's last traded price, falling back to
// the freshest external tick when the contract did not trade.
type LastTradedSource struct {
	Market MarketData
	Ticks  *TickCache
}

func (s *LastTradedSource) Price(_ context.Context, symbol string) (int64, error) {
	if price, ok := s.Market.LastTradePrice(symbol); ok {
		return price, nil
	}
	if s.Ticks != nil {
		if price, ok := s.Ticks.Get(symbol, time.Now()); ok {
			return price, nil
		}
	}
	return 0, fmt.Errorf("%w: no trades and no fresh tick for %s", ErrPriceUnavailable, symbol)
}

// VWAPSource settles at the day's volume-weighted average trade price,
// falling back to the last traded price for thin days.
type VWAPSource struct {
	Market MarketData
	Ticks  *TickCache
}

func (s *VWAPSource) Price(ctx context.Context, symbol string) (int64, error) {
	if price, ok := s.Market.VWAP(symbol); ok {
		return price, nil
	}
	fallback := &LastTradedSource{Market: s.Market, Ticks: s.Ticks}
	return fallback.Price(ctx, symbol)
}

// ManualSource settles at operator-supplied prices, for delivery-month
// contracts and incident recovery.
type ManualSource struct {
	mu     sync.RWMutex
	prices map[string]int64
}

func NewManualSource() *ManualSource {
	return &ManualSource{prices: make(map[string]int64)}
}

func (s *ManualSource) SetPrice(symbol string, price int64) error {
	if price <= 0 {
		return fmt.Errorf("settlement: manual price must be > 0, got %d", price)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	return nil
}

func (s *ManualSource) Price(_ context.Context, symbol string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: no manual price set for %s", ErrPriceUnavailable, symbol)
	}
	return price, nil
}
