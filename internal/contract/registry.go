package contract

import (
	"fmt"
	"sort"
	"sync"
)

// OpenPositionChecker reports whether any open position references a symbol.
// Satisfied by the position ledger; kept as an interface to avoid a cycle.
type OpenPositionChecker interface {
	HasOpenPositions(symbol string) bool
}

// Registry is the authoritative store of contract specifications.
// Reads vastly outnumber writes; a RWMutex is sufficient.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]*Contract
	archived  map[string]*Contract
}

func NewRegistry() *Registry {
	return &Registry{
		contracts: make(map[string]*Contract),
		archived:  make(map[string]*Contract),
	}
}

// Create registers a new contract. The specification is validated and the
// contract starts in active status.
func (r *Registry) Create(c *Contract) error {
	if err := c.Validate(); err != nil {
		return err
	}

	month, year, _ := ParseSymbol(c.Symbol)
	c.ExpiryMonth = month
	c.ExpiryYear = year
	c.Status = StatusActive

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.contracts[c.Symbol]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSymbol, c.Symbol)
	}

	r.contracts[c.Symbol] = c
	return nil
}

// Get returns a copy of the contract for a symbol. Copies keep callers from
// observing a status transition mid-flight.
func (r *Registry) Get(symbol string) (*Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.contracts[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, symbol)
	}
	cp := *c
	return &cp, nil
}

// List returns copies of all registered contracts sorted by symbol.
func (r *Registry) List() []*Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Contract, 0, len(r.contracts))
	for _, c := range r.contracts {
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})
	return result
}

// Transition advances a contract's lifecycle status.
func (r *Registry) Transition(symbol string, next Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.contracts[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, symbol)
	}

	if !c.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s to %s for %s", ErrBadTransition, c.Status, next, symbol)
	}

	c.Status = next
	return nil
}

// Archive removes an expired contract from the active set. A contract with
// open positions is never archived.
func (r *Registry) Archive(symbol string, positions OpenPositionChecker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.contracts[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, symbol)
	}

	if c.Status != StatusExpired {
		return fmt.Errorf("%w: %s is %s, only expired contracts are archived", ErrBadTransition, symbol, c.Status)
	}

	if positions != nil && positions.HasOpenPositions(symbol) {
		return fmt.Errorf("%w: %s", ErrOpenPositions, symbol)
	}

	delete(r.contracts, symbol)
	r.archived[symbol] = c
	return nil
}
