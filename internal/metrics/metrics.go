// Package metrics exposes ledger telemetry to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "perpledger"

// Ledger holds the collectors for one ledger process on a private registry.
type Ledger struct {
	registry *prometheus.Registry

	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	balance       prometheus.Gauge
	openPositions prometheus.Gauge
	oracleAge     *prometheus.GaugeVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// NewLedger registers the ledger collectors plus the Go runtime and process
// collectors. An empty namespace selects DefaultNamespace.
func NewLedger(namespace string) *Ledger {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()

	m := &Ledger{
		registry: registry,

		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by name and outcome",
		}, []string{"op", "result"}),

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation latency",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),

		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance",
			Help:      "Pooled ledger balance in base units",
		}),

		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Positions opened and not yet closed by this process",
		}),

		oracleAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "oracle_price_age_seconds",
			Help:      "Age of the latest oracle price per asset",
		}, []string{"asset"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),

		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		m.operations,
		m.latency,
		m.balance,
		m.openPositions,
		m.oracleAge,
		m.httpRequests,
		m.httpLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOperation counts one ledger call. An empty kind is a success.
func (m *Ledger) ObserveOperation(op string, kind domain.ErrorKind, elapsed time.Duration) {
	result := "ok"
	if kind != "" {
		result = string(kind)
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Ledger) SetBalance(balance int64) {
	m.balance.Set(float64(balance))
}

func (m *Ledger) AddOpenPositions(delta int) {
	m.openPositions.Add(float64(delta))
}

// SetOracleAge records how old the latest price for asset is.
func (m *Ledger) SetOracleAge(asset string, age time.Duration) {
	m.oracleAge.WithLabelValues(asset).Set(age.Seconds())
}

// ObserveHTTP records one served request. route should be the mux pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Ledger) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Registry returns the private registry.
func (m *Ledger) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Ledger) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
