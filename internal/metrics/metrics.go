// Package metrics exposes Prometheus collectors for the HTTP surface and the
// drop lifecycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "droplink"

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	dropsCreated *prometheus.CounterVec
	claims       *prometheus.CounterVec
	reclaims     *prometheus.CounterVec
	rollbacks    *prometheus.CounterVec
	gasUsed      *prometheus.HistogramVec
	reclaimable  prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"service", "method", "path"}),
		dropsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drops_created_total",
			Help:      "Drop creation attempts by result.",
		}, []string{"result"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim attempts by authorization path and result.",
		}, []string{"path", "result"}),
		reclaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaims_total",
			Help:      "Reclaim attempts by result.",
		}, []string{"result"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Invocations rolled back after mutating state.",
		}, []string{"op"}),
		gasUsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gas_used",
			Help:      "Resource units consumed per invocation.",
			Buckets:   prometheus.ExponentialBuckets(1000, 2, 10),
		}, []string{"op"}),
		reclaimable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reclaimable_drops",
			Help:      "Active drops whose expiry has passed.",
		}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.dropsCreated,
		m.claims,
		m.reclaims,
		m.rollbacks,
		m.gasUsed,
		m.reclaimable,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registered collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// =============================================================================
// HTTP
// =============================================================================

// IncrementInFlight marks a request as started.
func (m *Metrics) IncrementInFlight() {
	if m == nil {
		return
	}
	m.httpInFlight.Inc()
}

// DecrementInFlight marks a request as finished.
func (m *Metrics) DecrementInFlight() {
	if m == nil {
		return
	}
	m.httpInFlight.Dec()
}

// RecordHTTPRequest records one handled request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// =============================================================================
// Drop lifecycle
// =============================================================================

// RecordCreate records a create attempt. result is "ok" or an error code.
func (m *Metrics) RecordCreate(result string) {
	if m == nil {
		return
	}
	m.dropsCreated.WithLabelValues(result).Inc()
}

// RecordClaim records a claim attempt. path is empty when authorization
// never completed.
func (m *Metrics) RecordClaim(path, result string) {
	if m == nil {
		return
	}
	if path == "" {
		path = "none"
	}
	m.claims.WithLabelValues(path, result).Inc()
}

// RecordReclaim records a reclaim attempt.
func (m *Metrics) RecordReclaim(result string) {
	if m == nil {
		return
	}
	m.reclaims.WithLabelValues(result).Inc()
}

// RecordRollback counts an invocation whose staged mutations were discarded
// or compensated.
func (m *Metrics) RecordRollback(op string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(op).Inc()
}

// ObserveGas records the budget consumed by op.
func (m *Metrics) ObserveGas(op string, used uint64) {
	if m == nil {
		return
	}
	m.gasUsed.WithLabelValues(op).Observe(float64(used))
}

// SetReclaimable publishes the number of active, expired drops.
func (m *Metrics) SetReclaimable(n int) {
	if m == nil {
		return
	}
	m.reclaimable.Set(float64(n))
}
