package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// History endpoints read the durable tables the persistence worker fills,
// not live engine state; right after a trade the log may trail by one flush
// interval.

func (s *Server) tradeHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}

	symbol := chi.URLParam(r, "symbol")
	limit := queryInt(r, "limit")
	beforeSeq := queryInt64Ptr(r, "before_seq")

	trades, err := s.history.Trades(r.Context(), symbol, limit, beforeSeq)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("trade history query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

func (s *Server) userTradeHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var symbol *string
	if v := r.URL.Query().Get("symbol"); v != "" {
		symbol = &v
	}
	limit := queryInt(r, "limit")
	beforeSeq := queryInt64Ptr(r, "before_seq")

	trades, err := s.history.UserTrades(r.Context(), userID, symbol, limit, beforeSeq)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("user trade history query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

func (s *Server) settlementHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}

	symbol := chi.URLParam(r, "symbol")
	cycles, err := s.history.SettlementHistory(r.Context(), symbol, queryInt(r, "limit"))
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("settlement history query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cycles": cycles})
}

func (s *Server) userMarginEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	events, err := s.history.UserMarginEvents(r.Context(), userID, queryInt(r, "limit"))
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("margin event query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"margin_events": events})
}

func (s *Server) positionMarginEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured")
		return
	}

	positionID, err := uuid.Parse(chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	events, err := s.history.PositionMarginEvents(r.Context(), positionID, queryInt(r, "limit"))
	if err != nil {
		s.logger.Error().Err(err).Str("position_id", positionID.String()).Msg("margin event query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"margin_events": events})
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

func queryInt64Ptr(r *http.Request, key string) *int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
