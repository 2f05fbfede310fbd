package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"FuturesEngine/internal/contract"
	"FuturesEngine/internal/engine"
	"FuturesEngine/internal/observability"
	"FuturesEngine/internal/position"
	"FuturesEngine/internal/query"
	"FuturesEngine/internal/settlement"
)

// Server exposes the trading, clearing, and settlement API over HTTP.
type Server struct {
	engine   *engine.Engine
	registry *contract.Registry
	ledger   *position.Ledger
	settler  *settlement.Engine
	manual   *settlement.ManualSource
	history  *query.Service
	health   *observability.HealthChecker
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func New(
	eng *engine.Engine,
	registry *contract.Registry,
	ledger *position.Ledger,
	settler *settlement.Engine,
	manual *settlement.ManualSource,
	history *query.Service,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	return &Server{
		engine:   eng,
		registry: registry,
		ledger:   ledger,
		settler:  settler,
		manual:   manual,
		history:  history,
		health:   health,
		metrics:  metrics,
		logger:   logger.With().Str("component", "server").Logger(),
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.instrument)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/contracts", func(r chi.Router) {
			r.Post("/", s.createContract)
			r.Get("/", s.listContracts)
			r.Get("/{symbol}", s.getContract)
			r.Post("/{symbol}/transition", s.transitionContract)
			r.Post("/{symbol}/archive", s.archiveContract)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", s.submitOrder)
			r.Get("/{symbol}/{orderID}", s.getOrder)
			r.Delete("/{symbol}/{orderID}", s.cancelOrder)
		})

		r.Get("/book/{symbol}", s.bookSnapshot)

		r.Route("/positions", func(r chi.Router) {
			r.Get("/{userID}", s.userPositions)
			r.Get("/{userID}/{symbol}", s.getPosition)
			r.Post("/{positionID}/topup", s.topUpMargin)
			r.Post("/{positionID}/resolve", s.resolveMarginCall)
			r.Post("/{positionID}/liquidate", s.liquidatePosition)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{userID}", s.getAccount)
			r.Post("/{userID}/deposit", s.deposit)
			r.Post("/{userID}/withdraw", s.withdraw)
		})

		r.Route("/settlement", func(r chi.Router) {
			r.Post("/{symbol}/run", s.runSettlement)
			r.Get("/{symbol}", s.listCycles)
			r.Get("/{symbol}/{date}", s.getCycle)
			r.Post("/prices/{symbol}", s.setManualPrice)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/trades/{symbol}", s.tradeHistory)
			r.Get("/trades/user/{userID}", s.userTradeHistory)
			r.Get("/settlements/{symbol}", s.settlementHistory)
			r.Get("/margin/user/{userID}", s.userMarginEvents)
			r.Get("/margin/position/{positionID}", s.positionMarginEvents)
		})
	})

	return r
}

// instrument records request counts and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		s.metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(ww.Status())).Inc()
		s.metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	})
}

// ListenAndServe runs the HTTP server until it fails or is shut down.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("http server listening")
	return srv.ListenAndServe()
}
