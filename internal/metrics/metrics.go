package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PassesTotal tracks monitor passes by outcome
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battled_passes_total",
			Help: "The total number of monitor passes",
		},
		[]string{"outcome"}, // completed, skipped, locked, failed
	)

	// PassDuration tracks time taken by a full pass
	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "battled_pass_duration_seconds",
		Help:    "Time taken by a monitor pass in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// BattlesProcessed tracks per-battle outcomes within passes
	BattlesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battled_battles_processed_total",
			Help: "The total number of battles processed",
		},
		[]string{"outcome"}, // ok, skipped, failed
	)

	// BattleTransitions tracks status transitions
	BattleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battled_battle_transitions_total",
			Help: "The total number of battle status transitions",
		},
		[]string{"to"},
	)

	// OpenBattles tracks the number of open battles seen by the last pass
	OpenBattles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battled_open_battles",
		Help: "The number of open battles loaded by the last pass",
	})

	// Resolutions tracks pool resolutions by protocol and status
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battled_resolutions_total",
			Help: "The total number of pool resolutions",
		},
		[]string{"protocol", "status"},
	)

	// Settlements tracks settlement outcomes
	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battled_settlements_total",
			Help: "The total number of settlements",
		},
		[]string{"outcome"}, // completed, partial, noop, failed
	)

	// LiquidityRemoved tracks quote lamports withdrawn from loser pools
	LiquidityRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battled_liquidity_removed_lamports_total",
		Help: "Quote-side lamports withdrawn from loser pools",
	})

	// RPCRequestsTotal tracks RPC requests by status
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battled_rpc_requests_total",
			Help: "The total number of RPC requests",
		},
		[]string{"status"},
	)

	// RPCEndpointHealth tracks RPC endpoint health
	RPCEndpointHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "battled_rpc_endpoint_health",
			Help: "Health status of RPC endpoints (1 = healthy, 0 = unhealthy)",
		},
		[]string{"endpoint"},
	)

	// SOLPrice tracks the last SOL/USD price used
	SOLPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battled_sol_price_usd",
		Help: "SOL/USD price used for valuations",
	})

	// DatabaseOperations tracks database operations
	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battled_database_operations_total",
			Help: "The total number of database operations",
		},
		[]string{"operation", "status"},
	)
)

// RecordPass records a finished pass
func RecordPass(outcome string, duration float64) {
	PassesTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		PassDuration.Observe(duration)
	}
}

// RecordBattle records the outcome of processing one battle
func RecordBattle(outcome string) {
	BattlesProcessed.WithLabelValues(outcome).Inc()
}

// RecordTransition records a battle moving to a new status
func RecordTransition(to string) {
	BattleTransitions.WithLabelValues(to).Inc()
}

// RecordResolution records a pool resolution attempt
func RecordResolution(protocol, status string) {
	Resolutions.WithLabelValues(protocol, status).Inc()
}

// RecordSettlement records a settlement outcome
func RecordSettlement(outcome string) {
	Settlements.WithLabelValues(outcome).Inc()
}

// RecordLiquidityRemoved adds withdrawn quote lamports
func RecordLiquidityRemoved(lamports uint64) {
	LiquidityRemoved.Add(float64(lamports))
}

// RecordRPCRequest records an RPC request with the given status
func RecordRPCRequest(status string) {
	RPCRequestsTotal.WithLabelValues(status).Inc()
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string) {
	DatabaseOperations.WithLabelValues(operation, status).Inc()
}

// SetRPCEndpointHealth sets the health status of an RPC endpoint
func SetRPCEndpointHealth(endpoint string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	RPCEndpointHealth.WithLabelValues(endpoint).Set(value)
}

// SetSOLPrice records the SOL/USD price in use
func SetSOLPrice(price float64) {
	SOLPrice.Set(price)
}
