package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the futures engine.
type Metrics struct {
	// --- Matching ---
	OrdersSubmitted *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	OrdersCancelled *prometheus.CounterVec
	TradesExecuted  *prometheus.CounterVec
	TradedVolume    *prometheus.CounterVec
	MatchDuration   *prometheus.HistogramVec
	RestingOrders   *prometheus.GaugeVec

	// --- Positions & margin ---
	OpenPositions      *prometheus.GaugeVec
	MarginCallsIssued  *prometheus.CounterVec
	MarginCallsResolved *prometheus.CounterVec
	Liquidations       *prometheus.CounterVec
	VersionConflicts   prometheus.Counter

	// --- Settlement ---
	SettlementsCompleted *prometheus.CounterVec
	SettlementsFailed    *prometheus.CounterVec
	SettlementDuration   *prometheus.HistogramVec
	SettlementPositions  *prometheus.CounterVec
	SettlementPriceRetry *prometheus.CounterVec

	// --- Channels & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDrops       prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Price feed ---
	FeedTicksReceived *prometheus.CounterVec
	FeedTicksRejected *prometheus.CounterVec

	// --- HTTP API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	matchBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Matching
		OrdersSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_orders_submitted_total",
			Help: "Orders accepted into the matching path",
		}, []string{"symbol", "side", "type"}),

		OrdersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_orders_rejected_total",
			Help: "Orders rejected before matching (validation, margin)",
		}, []string{"symbol", "reason"}),

		OrdersCancelled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_orders_cancelled_total",
			Help: "Resting orders cancelled",
		}, []string{"symbol"}),

		TradesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_trades_executed_total",
			Help: "Trades executed",
		}, []string{"symbol"}),

		TradedVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_traded_volume_lots_total",
			Help: "Total lots traded",
		}, []string{"symbol"}),

		MatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fut_match_duration_seconds",
			Help:    "Time to match one submission end to end",
			Buckets: matchBuckets,
		}, []string{"symbol"}),

		RestingOrders: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fut_resting_orders",
			Help: "Orders currently resting in the book",
		}, []string{"symbol"}),

		// Positions & margin
		OpenPositions: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fut_open_positions",
			Help: "Open positions per contract",
		}, []string{"symbol"}),

		MarginCallsIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_margin_calls_issued_total",
			Help: "Margin calls issued at settlement",
		}, []string{"symbol"}),

		MarginCallsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_margin_calls_resolved_total",
			Help: "Margin calls resolved after top-up",
		}, []string{"symbol"}),

		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_liquidations_total",
			Help: "Positions force-closed at settlement",
		}, []string{"symbol"}),

		VersionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fut_position_version_conflicts_total",
			Help: "Optimistic concurrency conflicts on position updates",
		}),

		// Settlement
		SettlementsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_settlements_completed_total",
			Help: "Settlement cycles completed",
		}, []string{"symbol"}),

		SettlementsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_settlements_failed_total",
			Help: "Settlement cycles failed",
		}, []string{"symbol", "reason"}),

		SettlementDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fut_settlement_duration_seconds",
			Help:    "Settlement cycle wall time",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"symbol"}),

		SettlementPositions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_settlement_positions_marked_total",
			Help: "Positions marked to market",
		}, []string{"symbol"}),

		SettlementPriceRetry: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_settlement_price_retries_total",
			Help: "Settlement price fetch retries",
		}, []string{"symbol"}),

		// Channels & backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fut_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fut_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fut_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fut_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fut_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fut_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fut_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fut_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fut_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fut_persist_last_sequence",
			Help: "Last persisted event sequence",
		}),

		// Price feed
		FeedTicksReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_feed_ticks_received_total",
			Help: "Price ticks accepted from the feed",
		}, []string{"symbol"}),

		FeedTicksRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_feed_ticks_rejected_total",
			Help: "Price ticks rejected (malformed, unknown contract)",
		}, []string{"reason"}),

		// HTTP API
		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fut_api_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fut_api_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
