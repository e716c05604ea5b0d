package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type ledgerMetrics struct {
	events        *prometheus.CounterVec
	distributions *prometheus.CounterVec
	distributed   *prometheus.CounterVec
	epochCloses   *prometheus.CounterVec
	epochLatency  prometheus.Histogram
	settledShares *prometheus.CounterVec
	settledAmount *prometheus.CounterVec
	redemptions   *prometheus.CounterVec
}

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type poolGauges struct {
	assets        *prometheus.GaugeVec
	losses        *prometheus.GaugeVec
	shareSupply   *prometheus.GaugeVec
	coverAssets   *prometheus.GaugeVec
	balances      *prometheus.GaugeVec
	pendingDemand prometheus.Gauge
	currentEpoch  prometheus.Gauge
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	poolGaugesOnce sync.Once
	poolRegistry   *poolGauges
)

// Ledger returns the lazily-initialised counters tracking pool operations.
func Ledger() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstack",
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "Total committed ledger events segmented by event type.",
			}, []string{"type"}),
			distributions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstack",
				Subsystem: "ledger",
				Name:      "distributions_total",
				Help:      "Count of profit, loss, and recovery distributions by outcome.",
			}, []string{"kind", "outcome"}),
			distributed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstack",
				Subsystem: "ledger",
				Name:      "distributed_amount_total",
				Help:      "Cumulative distributed amounts segmented by destination.",
			}, []string{"destination"}),
			epochCloses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstack",
				Subsystem: "ledger",
				Name:      "epoch_closes_total",
				Help:      "Count of epoch close runs segmented by outcome.",
			}, []string{"outcome"}),
			epochLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "capstack",
				Subsystem: "ledger",
				Name:      "epoch_close_duration_seconds",
				Help:      "Latency distribution for epoch close runs.",
				Buckets:   prometheus.DefBuckets,
			}),
			settledShares: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstack",
				Subsystem: "ledger",
				Name:      "settled_shares_total",
				Help:      "Cumulative shares retired by epoch settlement per tranche.",
			}, []string{"tranche"}),
			settledAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstack",
				Subsystem: "ledger",
				Name:      "settled_amount_total",
				Help:      "Cumulative amounts escrowed by epoch settlement per tranche.",
			}, []string{"tranche"}),
			redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstack",
				Subsystem: "ledger",
				Name:      "redemptions_total",
				Help:      "Count of redemption queue operations segmented by outcome.",
			}, []string{"operation", "outcome"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.events,
			ledgerRegistry.distributions,
			ledgerRegistry.distributed,
			ledgerRegistry.epochCloses,
			ledgerRegistry.epochLatency,
			ledgerRegistry.settledShares,
			ledgerRegistry.settledAmount,
			ledgerRegistry.redemptions,
		)
	})
	return ledgerRegistry
}

// RecordEventType increments the committed-event counter for the type.
func (m *ledgerMetrics) RecordEventType(evType string) {
	if m == nil {
		return
	}
	if evType = strings.TrimSpace(evType); evType == "" {
		evType = "unknown"
	}
	m.events.WithLabelValues(evType).Inc()
}

// ObserveDistribution records the outcome of a profit, loss, or recovery run.
func (m *ledgerMetrics) ObserveDistribution(kind string, err error) {
	if m == nil {
		return
	}
	if kind = strings.TrimSpace(kind); kind == "" {
		kind = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.distributions.WithLabelValues(kind, outcome).Inc()
}

// RecordDistributed adds a distributed amount under the destination label.
// Destinations should be stable strings such as "senior", "junior", "cover",
// or "fee" so dashboards stay consistent.
func (m *ledgerMetrics) RecordDistributed(destination string, amount *big.Int) {
	if m == nil {
		return
	}
	value := bigToFloat(amount)
	if value <= 0 {
		return
	}
	if destination = strings.TrimSpace(destination); destination == "" {
		destination = "unknown"
	}
	m.distributed.WithLabelValues(destination).Add(value)
}

// ObserveEpochClose records one close run. Outcomes should be "closed",
// "deferred", or "failed".
func (m *ledgerMetrics) ObserveEpochClose(duration time.Duration, outcome string) {
	if m == nil {
		return
	}
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		outcome = "unknown"
	}
	m.epochCloses.WithLabelValues(outcome).Inc()
	m.epochLatency.Observe(duration.Seconds())
}

// RecordSettlement accumulates the shares and amount processed for a tranche
// during an epoch close.
func (m *ledgerMetrics) RecordSettlement(trancheName string, shares, amount *big.Int) {
	if m == nil {
		return
	}
	label := labelTranche(trancheName)
	if v := bigToFloat(shares); v > 0 {
		m.settledShares.WithLabelValues(label).Add(v)
	}
	if v := bigToFloat(amount); v > 0 {
		m.settledAmount.WithLabelValues(label).Add(v)
	}
}

// ObserveRedemption records a redemption queue operation such as "request",
// "cancel", or "disburse".
func (m *ledgerMetrics) ObserveRedemption(operation string, err error) {
	if m == nil {
		return
	}
	if operation = strings.TrimSpace(operation); operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.redemptions.WithLabelValues(operation, outcome).Inc()
}

// RPC returns the lazily-initialised metrics tracking JSON-RPC activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstack",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstack",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "capstack",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstack",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected before dispatch.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of one JSON-RPC request. A zero code means the
// request succeeded; any other value is the JSON-RPC error code written to
// the response.
func (m *rpcMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method = strings.TrimSpace(method); method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the rejection counter. Reasons should be stable
// strings such as "rate_limit" or "unauthorized".
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// PoolGauges returns the gauges mirroring the latest committed pool snapshot.
func PoolGauges() *poolGauges {
	poolGaugesOnce.Do(func() {
		poolRegistry = &poolGauges{
			assets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "capstack",
				Subsystem: "pool",
				Name:      "tranche_assets",
				Help:      "Current tranche assets in integer ledger units.",
			}, []string{"tranche"}),
			losses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "capstack",
				Subsystem: "pool",
				Name:      "tranche_losses",
				Help:      "Outstanding unrecovered losses per tranche.",
			}, []string{"tranche"}),
			shareSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "capstack",
				Subsystem: "pool",
				Name:      "share_supply",
				Help:      "Outstanding tranche shares.",
			}, []string{"tranche"}),
			coverAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "capstack",
				Subsystem: "pool",
				Name:      "cover_assets",
				Help:      "Current first-loss cover assets per cover.",
			}, []string{"cover"}),
			balances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "capstack",
				Subsystem: "pool",
				Name:      "account_balance",
				Help:      "Cash balances of the pool module accounts.",
			}, []string{"account"}),
			pendingDemand: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "capstack",
				Subsystem: "pool",
				Name:      "pending_demand",
				Help:      "Unmet redemption demand carried from the last epoch close.",
			}),
			currentEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "capstack",
				Subsystem: "pool",
				Name:      "current_epoch",
				Help:      "Identifier of the currently open redemption epoch.",
			}),
		}
		prometheus.MustRegister(
			poolRegistry.assets,
			poolRegistry.losses,
			poolRegistry.shareSupply,
			poolRegistry.coverAssets,
			poolRegistry.balances,
			poolRegistry.pendingDemand,
			poolRegistry.currentEpoch,
		)
	})
	return poolRegistry
}

func labelTranche(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
