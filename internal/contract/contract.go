// Package contract holds immutable-per-version commodity futures contract
// specifications and their lifecycle state machine.
package contract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Status is the contract lifecycle state.
type Status int32

const (
	StatusActive Status = iota
	StatusDelivery
	StatusSettlement
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusDelivery:
		return "delivery"
	case StatusSettlement:
		return "settlement"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// CanTransitionTo validates lifecycle transitions. The lifecycle is
// monotonic: active → delivery|settlement → expired.
func (s Status) CanTransitionTo(next Status) bool {
	validTransitions := map[Status][]Status{
		StatusActive: {
			StatusDelivery,
			StatusSettlement,
		},
		StatusDelivery: {
			StatusExpired,
		},
		StatusSettlement: {
			StatusExpired,
		},
		StatusExpired: {},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, next2 := range allowed {
		if next == next2 {
			return true
		}
	}

	return false
}

// Contract is a futures contract specification. All fields except Status are
// immutable after creation.
type Contract struct {
	Symbol                string
	ContractSize          int64 // units of the commodity per lot
	Unit                  string
	ExpiryMonth           int
	ExpiryYear            int
	InitialMarginFrac     int64 // fpmath.FractionConfig scale (100_000 = 10%)
	MaintenanceMarginFrac int64 // fpmath.FractionConfig scale
	Status                Status
}

// symbolRegex matches: {ROOT}{MM}{YYYY}
// Example: SILV092026 (silver, September 2026)
var symbolRegex = regexp.MustCompile(`^([A-Z]{2,6})(\d{2})(\d{4})$`)

var (
	ErrInvalidSymbol   = errors.New("contract: invalid symbol format")
	ErrUnknownContract = errors.New("contract: unknown symbol")
	ErrDuplicateSymbol = errors.New("contract: symbol already registered")
	ErrBadTransition   = errors.New("contract: invalid status transition")
	ErrOpenPositions   = errors.New("contract: open positions reference contract")
)

// ParseSymbol validates a contract symbol and extracts its expiry.
func ParseSymbol(symbol string) (month, year int, err error) {
	matches := symbolRegex.FindStringSubmatch(symbol)
	if matches == nil {
		return 0, 0, fmt.Errorf("%w: %s (expected {ROOT}{MM}{YYYY})", ErrInvalidSymbol, symbol)
	}

	month, _ = strconv.Atoi(matches[2])
	year, _ = strconv.Atoi(matches[3])

	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("%w: month %02d out of range", ErrInvalidSymbol, month)
	}

	return month, year, nil
}

// Validate checks the specification fields.
// mm > 0, im > mm, im < 1.0, size > 0.
func (c *Contract) Validate() error {
	if _, _, err := ParseSymbol(c.Symbol); err != nil {
		return err
	}
	if c.ContractSize <= 0 {
		return fmt.Errorf("contract %s: contract_size must be > 0, got %d", c.Symbol, c.ContractSize)
	}
	if c.MaintenanceMarginFrac <= 0 {
		return fmt.Errorf("contract %s: maintenance_margin_frac must be > 0, got %d", c.Symbol, c.MaintenanceMarginFrac)
	}
	if c.InitialMarginFrac <= c.MaintenanceMarginFrac {
		return fmt.Errorf("contract %s: initial_margin_frac (%d) must be > maintenance_margin_frac (%d)",
			c.Symbol, c.InitialMarginFrac, c.MaintenanceMarginFrac)
	}
	if c.InitialMarginFrac >= 1_000_000 {
		return fmt.Errorf("contract %s: initial_margin_frac must be < 1_000_000, got %d", c.Symbol, c.InitialMarginFrac)
	}
	return nil
}

// IsTradable reports whether new orders may be accepted.
func (c *Contract) IsTradable() bool {
	return c.Status == StatusActive
}
