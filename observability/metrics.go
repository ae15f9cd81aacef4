package observability

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type ledgerMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	exchangeRate *prometheus.GaugeVec
	borrowIndex  *prometheus.GaugeVec
	totalBorrows *prometheus.GaugeVec
}

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

// Ledger returns the lazily-initialised registry tracking state transitions
// applied to the market ledger.
func Ledger() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "alcove",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Count of ledger operations segmented by operation, asset, and outcome.",
			}, []string{"operation", "asset", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "alcove",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger state transitions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			exchangeRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "alcove",
				Subsystem: "ledger",
				Name:      "exchange_rate",
				Help:      "Stored exchange rate per market (underlying per share).",
			}, []string{"asset"}),
			borrowIndex: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "alcove",
				Subsystem: "ledger",
				Name:      "borrow_index",
				Help:      "Cumulative borrow index per market.",
			}, []string{"asset"}),
			totalBorrows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "alcove",
				Subsystem: "ledger",
				Name:      "total_borrows",
				Help:      "Outstanding borrowed underlying per market in whole tokens.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.exchangeRate,
			ledgerRegistry.borrowIndex,
			ledgerRegistry.totalBorrows,
		)
	})
	return ledgerRegistry
}

// Observe records one completed ledger operation.
func (m *ledgerMetrics) Observe(operation, asset string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, labelAsset(asset), outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordMarket updates the per-market gauges from stored figures. Values
// are scaled down from 1e18 mantissas; precision loss is acceptable for
// dashboards.
func (m *ledgerMetrics) RecordMarket(asset string, exchangeRate, borrowIndex, totalBorrows *uint256.Int) {
	if m == nil {
		return
	}
	label := labelAsset(asset)
	m.exchangeRate.WithLabelValues(label).Set(mantissaToFloat(exchangeRate))
	m.borrowIndex.WithLabelValues(label).Set(mantissaToFloat(borrowIndex))
	m.totalBorrows.WithLabelValues(label).Set(mantissaToFloat(totalBorrows))
}

// RPC returns the lazily-initialised registry tracking JSON-RPC activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "alcove",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "alcove",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "alcove",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "alcove",
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

// Observe records the outcome of one JSON-RPC call. A zero code means the
// call succeeded.
func (m *rpcMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
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

// RecordThrottle counts a request rejected before reaching a handler.
// Reasons should be stable strings such as "rate_limit" or "body_too_large"
// so dashboards stay consistent.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

func labelAsset(asset string) string {
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}

var mantissaScale = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// mantissaToFloat converts an 1e18 fixed-point value to a float for gauge
// export.
func mantissaToFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	scaled := new(big.Float).SetInt(v.ToBig())
	scaled.Quo(scaled, mantissaScale)
	out, _ := scaled.Float64()
	return out
}
