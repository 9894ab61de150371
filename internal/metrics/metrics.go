// Package metrics provides Prometheus metrics collection for the trading
// bot. It covers the exit-management cycle, order placement, the signal
// pipeline and the market-data feed, exposed via the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the trading bot.
type Metrics struct {
	// Exit-management metrics
	PollCyclesTotal      prometheus.Counter   // Completed exit-manager poll cycles
	StopUpdatesTotal     prometheus.Counter   // Successful stop-loss ratchets
	BreakevenMovesTotal  prometheus.Counter   // Stops pulled to break-even
	TierExecutionsTotal  prometheus.Counter   // Staged take-profit tiers filled
	PriceUnavailable     prometheus.Counter   // Positions skipped for missing mark price
	CycleDuration        prometheus.Histogram // Duration of one poll cycle
	ActivePositions      prometheus.Gauge     // Positions currently tracked
	DailyRealizedPnL     prometheus.Gauge     // Realized P&L accumulated today

	// Order metrics
	OrdersTotal            prometheus.Counter   // Orders and mutations sent to the exchange
	OrderFailures          prometheus.Counter   // Rejected or failed exchange mutations
	OrderExecutionDuration prometheus.Histogram // Duration of exchange mutations

	// Signal pipeline metrics
	SignalsReceived prometheus.Counter // Proposals produced by all sources
	SignalsApproved prometheus.Counter // Proposals the gate approved
	SignalsRejected prometheus.Counter // Proposals the gate rejected

	// Market data metrics
	WSReconnects  prometheus.Counter // Ticker stream reconnections
	TicksReceived prometheus.Counter // Ticker updates consumed

	// Calculator metrics
	PnLCalculations prometheus.Counter // P&L percentage computations
	CalcErrors      prometheus.Counter // Calculator input errors

	// System metrics
	ErrorsTotal prometheus.Counter // Total errors encountered
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for
// testing, where the default registry would collide across cases).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PollCyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "exit_poll_cycles_total",
			Help: "Completed exit-manager poll cycles",
		}),
		StopUpdatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "stop_updates_total",
			Help: "Successful stop-loss ratchets",
		}),
		BreakevenMovesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "breakeven_moves_total",
			Help: "Stops pulled to break-even",
		}),
		TierExecutionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tier_executions_total",
			Help: "Staged take-profit tiers filled",
		}),
		PriceUnavailable: factory.NewCounter(prometheus.CounterOpts{
			Name: "price_unavailable_total",
			Help: "Positions skipped because no mark price was available",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "exit_cycle_duration_seconds",
			Help:    "Duration of one exit-manager poll cycle",
			Buckets: prometheus.DefBuckets,
		}),
		ActivePositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_positions",
			Help: "Positions currently tracked by the exit manager",
		}),
		DailyRealizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "daily_realized_pnl",
			Help: "Realized P&L accumulated today in quote currency",
		}),
		OrdersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_total",
			Help: "Orders and mutations sent to the exchange",
		}),
		OrderFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "order_failures_total",
			Help: "Rejected or failed exchange mutations",
		}),
		OrderExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "order_execution_duration_seconds",
			Help:    "Duration of exchange mutations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		SignalsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "signals_received_total",
			Help: "Trade proposals produced by all sources",
		}),
		SignalsApproved: factory.NewCounter(prometheus.CounterOpts{
			Name: "signals_approved_total",
			Help: "Trade proposals approved by the entry gate",
		}),
		SignalsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "signals_rejected_total",
			Help: "Trade proposals rejected by the entry gate",
		}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_reconnects_total",
			Help: "Ticker stream reconnections",
		}),
		TicksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticks_received_total",
			Help: "Ticker updates consumed from the stream",
		}),
		PnLCalculations: factory.NewCounter(prometheus.CounterOpts{
			Name: "pnl_calculations_total",
			Help: "P&L percentage computations",
		}),
		CalcErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "calc_errors_total",
			Help: "Calculator input errors",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}
