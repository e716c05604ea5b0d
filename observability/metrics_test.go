package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"capstack/core"
	"capstack/core/events"
	"capstack/cover"
	"capstack/tranche"
)

func metricValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			switch {
			case metric.Counter != nil:
				return metric.Counter.GetValue()
			case metric.Gauge != nil:
				return metric.Gauge.GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	seen := make(map[string]string, len(metric.Label))
	for _, pair := range metric.Label {
		seen[pair.GetName()] = pair.GetValue()
	}
	for key, value := range want {
		if seen[key] != value {
			return false
		}
	}
	return true
}

func TestPoolRecorderMirrorsProfitEvent(t *testing.T) {
	seniorBefore := metricValue(t, "capstack_ledger_distributed_amount_total", map[string]string{"destination": "senior"})
	feeBefore := metricValue(t, "capstack_ledger_distributed_amount_total", map[string]string{"destination": "fee"})
	eventsBefore := metricValue(t, "capstack_ledger_events_total", map[string]string{"type": events.TypeProfitDistributed})

	NewPoolRecorder().RecordEvent(events.Record{
		Sequence: 7,
		Type:     events.TypeProfitDistributed,
		Attributes: map[string]string{
			"gross":        "100",
			"poolProfit":   "95",
			"seniorProfit": "61",
			"juniorProfit": "34",
			"coverProfit":  "0",
		},
	})

	if got := metricValue(t, "capstack_ledger_events_total", map[string]string{"type": events.TypeProfitDistributed}); got != eventsBefore+1 {
		t.Fatalf("event counter = %.0f, want %.0f", got, eventsBefore+1)
	}
	if got := metricValue(t, "capstack_ledger_distributed_amount_total", map[string]string{"destination": "senior"}); got != seniorBefore+61 {
		t.Fatalf("senior distributed = %.0f, want %.0f", got, seniorBefore+61)
	}
	if got := metricValue(t, "capstack_ledger_distributed_amount_total", map[string]string{"destination": "fee"}); got != feeBefore+5 {
		t.Fatalf("fee distributed = %.0f, want %.0f", got, feeBefore+5)
	}
}

func TestPoolRecorderMirrorsSettlement(t *testing.T) {
	sharesBefore := metricValue(t, "capstack_ledger_settled_shares_total", map[string]string{"tranche": "senior"})
	amountBefore := metricValue(t, "capstack_ledger_settled_amount_total", map[string]string{"tranche": "junior"})

	NewPoolRecorder().RecordEvent(events.Record{
		Sequence: 8,
		Type:     events.TypeEpochClosed,
		Attributes: map[string]string{
			"epochId":      "1",
			"seniorShares": "150",
			"seniorAmount": "155",
			"juniorShares": "600",
			"juniorAmount": "595",
			"unmetDemand":  "0",
		},
	})

	if got := metricValue(t, "capstack_ledger_settled_shares_total", map[string]string{"tranche": "senior"}); got != sharesBefore+150 {
		t.Fatalf("senior settled shares = %.0f, want %.0f", got, sharesBefore+150)
	}
	if got := metricValue(t, "capstack_ledger_settled_amount_total", map[string]string{"tranche": "junior"}); got != amountBefore+595 {
		t.Fatalf("junior settled amount = %.0f, want %.0f", got, amountBefore+595)
	}
}

func TestPoolRecorderSnapshotSetsGauges(t *testing.T) {
	snap := core.Snapshot{
		Assets:            tranche.NewAssets(big.NewInt(800), big.NewInt(200)),
		Losses:            tranche.NewLosses(big.NewInt(0), big.NewInt(25)),
		Covers:            []cover.Cover{{Name: "insurance", Assets: big.NewInt(40)}},
		CurrentEpoch:      3,
		ReservationTarget: big.NewInt(75),
		SeniorSupply:      big.NewInt(790),
		JuniorSupply:      big.NewInt(210),
		ReserveBalance:    big.NewInt(500),
		EscrowBalance:     big.NewInt(60),
	}
	NewPoolRecorder().RecordSnapshot(snap)

	checks := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"capstack_pool_tranche_assets", map[string]string{"tranche": "senior"}, 800},
		{"capstack_pool_tranche_assets", map[string]string{"tranche": "junior"}, 200},
		{"capstack_pool_tranche_losses", map[string]string{"tranche": "junior"}, 25},
		{"capstack_pool_share_supply", map[string]string{"tranche": "senior"}, 790},
		{"capstack_pool_share_supply", map[string]string{"tranche": "junior"}, 210},
		{"capstack_pool_cover_assets", map[string]string{"cover": "insurance"}, 40},
		{"capstack_pool_account_balance", map[string]string{"account": "reserve"}, 500},
		{"capstack_pool_account_balance", map[string]string{"account": "escrow"}, 60},
		{"capstack_pool_pending_demand", nil, 75},
		{"capstack_pool_current_epoch", nil, 3},
	}
	for _, check := range checks {
		if got := metricValue(t, check.name, check.labels); got != check.want {
			t.Fatalf("%s%v = %.0f, want %.0f", check.name, check.labels, got, check.want)
		}
	}
}

func TestRPCMetricsObserve(t *testing.T) {
	okBefore := metricValue(t, "capstack_rpc_requests_total", map[string]string{"method": "pool_getState", "outcome": "success"})
	errBefore := metricValue(t, "capstack_rpc_errors_total", map[string]string{"method": "pool_deposit", "code": "-32602"})

	RPC().Observe("pool_getState", 0, 5*time.Millisecond)
	RPC().Observe("pool_deposit", -32602, 2*time.Millisecond)
	RPC().RecordThrottle("rate_limit")

	if got := metricValue(t, "capstack_rpc_requests_total", map[string]string{"method": "pool_getState", "outcome": "success"}); got != okBefore+1 {
		t.Fatalf("success counter = %.0f, want %.0f", got, okBefore+1)
	}
	if got := metricValue(t, "capstack_rpc_errors_total", map[string]string{"method": "pool_deposit", "code": "-32602"}); got != errBefore+1 {
		t.Fatalf("error counter = %.0f, want %.0f", got, errBefore+1)
	}
	if got := metricValue(t, "capstack_rpc_throttles_total", map[string]string{"reason": "rate_limit"}); got < 1 {
		t.Fatalf("throttle counter = %.0f, want at least 1", got)
	}
}
