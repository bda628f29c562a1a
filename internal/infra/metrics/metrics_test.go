package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestProviderMetrics(t *testing.T) {
	ProvidersActive.Set(4)
	StakeLocked.Set(1_500_000_000)
	AmountSlashed.Add(10_000_000)

	names := gatherNames(t)
	for _, name := range []string{
		"tally_providers_active",
		"tally_stake_locked_microunits",
		"tally_amount_slashed_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestTaskMetrics(t *testing.T) {
	TasksOpen.Set(2)
	TasksFinalized.WithLabelValues("COMPLETED").Inc()
	TasksFinalized.WithLabelValues("FAILED").Inc()
	SubmissionsTotal.Inc()
	ConsensusRounds.WithLabelValues("NUMERIC", "reached").Inc()
	FinalizeDuration.Observe(0.004)

	names := gatherNames(t)
	for _, name := range []string{
		"tally_tasks_open",
		"tally_tasks_finalized_total",
		"tally_submissions_total",
		"tally_consensus_rounds_total",
		"tally_finalize_duration_seconds",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestMoneyFlowMetrics(t *testing.T) {
	RewardsPaid.Add(125_000_000)
	ProtocolFees.Add(7_000_000)

	names := gatherNames(t)
	if !names["tally_rewards_paid_total"] {
		t.Error("tally_rewards_paid_total not found")
	}
	if !names["tally_protocol_fees_total"] {
		t.Error("tally_protocol_fees_total not found")
	}
}

func TestOperationalMetrics(t *testing.T) {
	OperationsTotal.WithLabelValues("FinalizeTask", "OK").Inc()
	OperationsTotal.WithLabelValues("Deposit", "VALIDATION").Inc()
	SweeperRuns.Inc()
	HealthCheckStatus.WithLabelValues("database").Set(1)
	HealthCheckStatus.WithLabelValues("ledger_balanced").Set(0)

	names := gatherNames(t)
	for _, name := range []string{
		"tally_operations_total",
		"tally_sweeper_runs_total",
		"tally_health_check_status",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestAllMetricsGatherable(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	tallyMetrics := 0
	for _, f := range families {
		if len(f.GetName()) > 6 && f.GetName()[:6] == "tally_" {
			tallyMetrics++
		}
	}
	if tallyMetrics < 12 {
		t.Errorf("expected at least 12 tally_ metric families, got %d", tallyMetrics)
	}
}
