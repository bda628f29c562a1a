// Package metrics provides Prometheus metrics for tally: counters, gauges
// and histograms covering providers, stake, tasks, consensus rounds and
// settlement money flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Providers & Stake ──────────────────────────────────────────────────────

// ProvidersActive tracks the number of providers in Active status.
var ProvidersActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "tally",
	Name:      "providers_active",
	Help:      "Number of providers currently in Active status.",
})

// StakeLocked tracks total provider collateral plus pending withdrawals.
var StakeLocked = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "tally",
	Name:      "stake_locked_microunits",
	Help:      "Total provider collateral and pending withdrawals in micro-units.",
})

// AmountSlashed tracks total collateral confiscated from rejected providers.
var AmountSlashed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tally",
	Name:      "amount_slashed_total",
	Help:      "Total collateral slashed in micro-units.",
})

// ─── Tasks & Consensus ──────────────────────────────────────────────────────

// TasksOpen tracks tasks currently accepting submissions.
var TasksOpen = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "tally",
	Name:      "tasks_open",
	Help:      "Number of tasks currently open for submissions.",
})

// TasksFinalized tracks terminal transitions by outcome.
var TasksFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tally",
	Name:      "tasks_finalized_total",
	Help:      "Total tasks reaching a terminal state, by outcome.",
}, []string{"outcome"})

// SubmissionsTotal tracks accepted provider submissions.
var SubmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tally",
	Name:      "submissions_total",
	Help:      "Total submissions stored.",
})

// ConsensusRounds tracks evaluated rounds by task kind and result.
var ConsensusRounds = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tally",
	Name:      "consensus_rounds_total",
	Help:      "Total consensus evaluations, by kind and outcome.",
}, []string{"kind", "outcome"})

// FinalizeDuration tracks how long a finalize call takes end to end.
var FinalizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "tally",
	Name:      "finalize_duration_seconds",
	Help:      "Duration of finalize calls including settlement commit.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
})

// ─── Money Flow ─────────────────────────────────────────────────────────────

// RewardsPaid tracks total rewards credited to accepted providers.
var RewardsPaid = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tally",
	Name:      "rewards_paid_total",
	Help:      "Total rewards paid to accepted providers in micro-units.",
})

// ProtocolFees tracks fees and remainders collected by the protocol pool.
var ProtocolFees = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tally",
	Name:      "protocol_fees_total",
	Help:      "Total protocol fees collected in micro-units.",
})

// ─── Operations ─────────────────────────────────────────────────────────────

// OperationsTotal tracks engine operations by name and outcome class.
var OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tally",
	Name:      "operations_total",
	Help:      "Total engine operations, by operation and outcome.",
}, []string{"operation", "outcome"})

// SweeperRuns tracks background sweep iterations.
var SweeperRuns = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tally",
	Name:      "sweeper_runs_total",
	Help:      "Total background finalize sweep iterations.",
})

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "tally",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})
