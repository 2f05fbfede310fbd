package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"FuturesEngine/internal/book"
	"FuturesEngine/internal/contract"
	"FuturesEngine/internal/engine"
	"FuturesEngine/internal/position"
	"FuturesEngine/internal/settlement"
)

// --- Request/Response types ---

// CreateContractRequest is the JSON body for contract creation. Margin
// fractions use the engine's fraction scale (1e6 = 100%).
type CreateContractRequest struct {
	Symbol                string `json:"symbol"`
	ContractSize          int64  `json:"contract_size"`
	Unit                  string `json:"unit"`
	InitialMarginFrac     int64  `json:"initial_margin_frac"`
	MaintenanceMarginFrac int64  `json:"maintenance_margin_frac"`
}

// SubmitOrderRequest is the JSON body for POST /orders. Prices use the
// price scale (cents); quantity is whole lots.
type SubmitOrderRequest struct {
	Symbol   string `json:"symbol"`
	OwnerID  string `json:"owner_id"`
	Side     string `json:"side"` // "buy" or "sell"
	Type     string `json:"type"` // "limit", "market", or "ioc"
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

// SubmitOrderResponse reports the outcome of a submission.
type SubmitOrderResponse struct {
	OrderID string       `json:"order_id"`
	Status  string       `json:"status"`
	Trades  []TradeView  `json:"trades"`
	Resting *RestingView `json:"resting,omitempty"`
}

type TradeView struct {
	TradeID      string `json:"trade_id"`
	Price        int64  `json:"price"`
	Quantity     int64  `json:"quantity"`
	ExecutionSeq int64  `json:"execution_seq"`
}

type RestingView struct {
	Price     int64 `json:"price"`
	Remaining int64 `json:"remaining"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

type settlementRequest struct {
	Date string `json:"date"` // YYYY-MM-DD; empty means today
}

type manualPriceRequest struct {
	Price int64 `json:"price"`
}

// --- Handlers ---

func (s *Server) createContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c := &contract.Contract{
		Symbol:                req.Symbol,
		ContractSize:          req.ContractSize,
		Unit:                  req.Unit,
		InitialMarginFrac:     req.InitialMarginFrac,
		MaintenanceMarginFrac: req.MaintenanceMarginFrac,
	}
	if err := s.engine.AddContract(c); err != nil {
		s.writeDomainError(w, err)
		return
	}

	created, err := s.registry.Get(req.Symbol)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listContracts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) getContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.registry.Get(chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) transitionContract(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	next, ok := parseStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}

	symbol := chi.URLParam(r, "symbol")
	if err := s.engine.TransitionContract(r.Context(), symbol, next); err != nil {
		s.writeDomainError(w, err)
		return
	}
	c, _ := s.registry.Get(symbol)
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) archiveContract(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ArchiveContract(chi.URLParam(r, "symbol")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner_id")
		return
	}
	side, ok := parseSide(req.Side)
	if !ok {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	orderType, ok := parseOrderType(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, "type must be limit, market, or ioc")
		return
	}

	o := &book.Order{
		Symbol:   req.Symbol,
		OwnerID:  ownerID,
		Side:     side,
		Type:     orderType,
		Price:    req.Price,
		Quantity: req.Quantity,
	}
	result, err := s.engine.SubmitOrder(r.Context(), o)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := SubmitOrderResponse{
		OrderID: o.ID.String(),
		Status:  o.Status.String(),
		Trades:  make([]TradeView, 0, len(result.Trades)),
	}
	for _, t := range result.Trades {
		resp.Trades = append(resp.Trades, TradeView{
			TradeID:      t.ID.String(),
			Price:        t.Price,
			Quantity:     t.Quantity,
			ExecutionSeq: t.ExecutionSeq,
		})
	}
	if result.Resting != nil {
		resp.Resting = &RestingView{
			Price:     result.Resting.Price,
			Remaining: result.Resting.Quantity,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := s.engine.GetOrder(r.Context(), chi.URLParam(r, "symbol"), orderID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":  o.ID.String(),
		"symbol":    o.Symbol,
		"side":      o.Side.String(),
		"type":      o.Type.String(),
		"price":     o.Price,
		"remaining": o.Quantity,
		"original":  o.OriginalQuantity,
		"status":    o.Status.String(),
	})
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	cancelled, err := s.engine.CancelOrder(r.Context(), chi.URLParam(r, "symbol"), orderID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !cancelled {
		writeError(w, http.StatusNotFound, "order not found or already filled")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) bookSnapshot(w http.ResponseWriter, r *http.Request) {
	depth := 10
	if d := r.URL.Query().Get("depth"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "depth must be a positive integer")
			return
		}
		depth = parsed
	}

	bids, asks, err := s.engine.Depth(r.Context(), chi.URLParam(r, "symbol"), depth)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bids": bids,
		"asks": asks,
	})
}

func (s *Server) userPositions(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.UserPositions(userID))
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	pos, ok := s.ledger.Get(userID, chi.URLParam(r, "symbol"))
	if !ok {
		writeError(w, http.StatusNotFound, "no open position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) topUpMargin(w http.ResponseWriter, r *http.Request) {
	positionID, err := uuid.Parse(chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.engine.TopUpMargin(positionID, req.Amount); err != nil {
		s.writeDomainError(w, err)
		return
	}
	pos, _ := s.ledger.GetByID(positionID)
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) resolveMarginCall(w http.ResponseWriter, r *http.Request) {
	positionID, err := uuid.Parse(chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	if err := s.engine.ResolveMarginCall(positionID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	pos, _ := s.ledger.GetByID(positionID)
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) liquidatePosition(w http.ResponseWriter, r *http.Request) {
	positionID, err := uuid.Parse(chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	if err := s.engine.LiquidatePosition(r.Context(), positionID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	pos, _ := s.ledger.GetByID(positionID)
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID.String(),
		"balance": s.ledger.Balance(userID),
	})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	s.adjustBalance(w, r, s.engine.Deposit)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.adjustBalance(w, r, s.engine.Withdraw)
}

func (s *Server) adjustBalance(w http.ResponseWriter, r *http.Request, apply func(uuid.UUID, int64) error) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := apply(userID, req.Amount); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID.String(),
		"balance": s.ledger.Balance(userID),
	})
}

func (s *Server) runSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	date := req.Date
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	cycle, err := s.engine.RunSettlement(r.Context(), chi.URLParam(r, "symbol"), date)
	if err != nil {
		if cycle != nil {
			// Cycle state is still useful on failure and duplicate runs.
			writeJSON(w, domainStatus(err), cycleView(cycle))
			return
		}
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cycleView(cycle))
}

func (s *Server) listCycles(w http.ResponseWriter, r *http.Request) {
	cycles := s.settler.ListCycles(chi.URLParam(r, "symbol"))
	views := make([]map[string]interface{}, 0, len(cycles))
	for _, c := range cycles {
		views = append(views, cycleView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getCycle(w http.ResponseWriter, r *http.Request) {
	cycle, ok := s.settler.GetCycle(chi.URLParam(r, "symbol"), chi.URLParam(r, "date"))
	if !ok {
		writeError(w, http.StatusNotFound, "no settlement cycle recorded")
		return
	}
	writeJSON(w, http.StatusOK, cycleView(cycle))
}

func (s *Server) setManualPrice(w http.ResponseWriter, r *http.Request) {
	if s.manual == nil {
		writeError(w, http.StatusNotFound, "manual price source not enabled")
		return
	}
	var req manualPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	symbol := chi.URLParam(r, "symbol")
	if _, err := s.registry.Get(symbol); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.manual.SetPrice(symbol, req.Price); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func cycleView(c *settlement.Cycle) map[string]interface{} {
	return map[string]interface{}{
		"symbol":           c.Symbol,
		"settlement_date":  c.SettlementDate,
		"settlement_price": c.SettlementPrice,
		"status":           c.Status.String(),
		"attempts":         c.Attempts,
		"positions_marked": c.PositionsMarked,
		"margin_calls":     c.MarginCalls,
		"liquidations":     c.Liquidations,
		"total_pnl":        c.TotalPnL,
		"failure_reason":   c.FailureReason,
	}
}

func parseSide(s string) (book.Side, bool) {
	switch s {
	case "buy":
		return book.SideBuy, true
	case "sell":
		return book.SideSell, true
	}
	return 0, false
}

func parseOrderType(s string) (book.OrderType, bool) {
	switch s {
	case "limit":
		return book.OrderTypeLimit, true
	case "market":
		return book.OrderTypeMarket, true
	case "ioc":
		return book.OrderTypeIOC, true
	}
	return 0, false
}

func parseStatus(s string) (contract.Status, bool) {
	switch s {
	case "active":
		return contract.StatusActive, true
	case "delivery":
		return contract.StatusDelivery, true
	case "settlement":
		return contract.StatusSettlement, true
	case "expired":
		return contract.StatusExpired, true
	}
	return 0, false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain errors onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, domainStatus(err), err.Error())
}

func domainStatus(err error) int {
	switch {
	case errors.Is(err, contract.ErrUnknownContract),
		errors.Is(err, engine.ErrNoMarket),
		errors.Is(err, engine.ErrOrderNotFound),
		errors.Is(err, position.ErrUnknownPosition):
		return http.StatusNotFound

	case errors.Is(err, contract.ErrDuplicateSymbol),
		errors.Is(err, settlement.ErrAlreadySettled),
		errors.Is(err, settlement.ErrCycleInProgress),
		errors.Is(err, position.ErrVersionConflict):
		return http.StatusConflict

	case errors.Is(err, position.ErrInsufficientMargin),
		errors.Is(err, position.ErrInsufficientBalance),
		errors.Is(err, position.ErrMarginNotRestored),
		errors.Is(err, position.ErrNotInMarginCall),
		errors.Is(err, position.ErrPositionLiquidated),
		errors.Is(err, book.ErrContractNotActive),
		errors.Is(err, contract.ErrBadTransition),
		errors.Is(err, contract.ErrOpenPositions):
		return http.StatusUnprocessableEntity

	case errors.Is(err, settlement.ErrPriceUnavailable):
		return http.StatusServiceUnavailable

	case errors.Is(err, book.ErrInvalidOrder),
		errors.Is(err, contract.ErrInvalidSymbol):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}
