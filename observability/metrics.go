package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics bundles the collectors describing lending daemon activity.
type LendingMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	fees      *prometheus.GaugeVec
	paused    prometheus.Gauge
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// Lending returns the lazily-initialised lending metrics registry.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = NewLendingMetrics(prometheus.DefaultRegisterer)
	})
	return lendingRegistry
}

// NewLendingMetrics builds a metrics set registered on reg. Lending should be
// preferred in the daemon; a private registry suits tests and embedders.
func NewLendingMetrics(reg prometheus.Registerer) *LendingMetrics {
	m := newLendingMetrics()
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func newLendingMetrics() *LendingMetrics {
	return &LendingMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftlend",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total lending operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftlend",
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Total failed lending operations segmented by operation and error kind.",
		}, []string{"operation", "kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nftlend",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for lending operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nftlend",
			Subsystem: "http",
			Name:      "throttles_total",
			Help:      "Count of requests rejected due to throttling policies.",
		}, []string{"reason"}),
		fees: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nftlend",
			Subsystem: "engine",
			Name:      "fee_balance",
			Help:      "Accrued protocol fees in base units segmented by asset kind.",
		}, []string{"asset"}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nftlend",
			Subsystem: "engine",
			Name:      "pause_engaged",
			Help:      "Set to 1 while the lending module is paused.",
		}),
	}
}

func (m *LendingMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.errors, m.latency, m.throttles, m.fees, m.paused}
}

// Observe records one engine operation. kind is the error kind of a failed
// operation and empty on success.
func (m *LendingMetrics) Observe(operation, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if kind = strings.TrimSpace(kind); kind != "" {
		outcome = "error"
		m.errors.WithLabelValues(op, kind).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards remain consistent.
func (m *LendingMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// RecordFees updates the accrued fee gauge for an asset kind.
func (m *LendingMetrics) RecordFees(asset string, balance *big.Int) {
	if m == nil {
		return
	}
	m.fees.WithLabelValues(labelAsset(asset)).Set(bigToFloat(balance))
}

// SetPause toggles the pause_engaged gauge.
func (m *LendingMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
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
