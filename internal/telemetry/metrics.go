// Package telemetry exposes Prometheus metrics for key lifecycle events and
// HTTP traffic. All collectors live on a private registry owned by Metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Validation results.
const (
	ResultValid   = "valid"
	ResultUnknown = "unknown"
	ResultRevoked = "revoked"
	ResultExpired = "expired"
	ResultError   = "error"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	validations   *prometheus.CounterVec
	usageWrites   *prometheus.CounterVec
	usageDropped  prometheus.Counter
	keysIssued    prometheus.Counter
	keysRevoked   prometheus.Counter
	keysRenewed   prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := factory{reg}

	m := &Metrics{
		registry: reg,
		validations: f.counterVec(prometheus.CounterOpts{
			Name: "keygate_validations_total",
			Help: "API key validations by result.",
		}, "result"),
		usageWrites: f.counterVec(prometheus.CounterOpts{
			Name: "keygate_usage_writes_total",
			Help: "Background usage accounting writes by result.",
		}, "result"),
		usageDropped: f.counter(prometheus.CounterOpts{
			Name: "keygate_usage_writes_dropped_total",
			Help: "Usage accounting writes dropped because too many were in flight.",
		}),
		keysIssued: f.counter(prometheus.CounterOpts{
			Name: "keygate_keys_issued_total",
			Help: "API keys issued.",
		}),
		keysRevoked: f.counter(prometheus.CounterOpts{
			Name: "keygate_keys_revoked_total",
			Help: "Revoke operations on existing keys.",
		}),
		keysRenewed: f.counter(prometheus.CounterOpts{
			Name: "keygate_keys_renewed_total",
			Help: "Renew operations on existing keys.",
		}),
		httpRequests: f.counterVec(prometheus.CounterOpts{
			Name: "keygate_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		}, "method", "path", "status"),
		httpDurations: f.histogramVec(prometheus.HistogramOpts{
			Name:    "keygate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, "method", "path"),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveValidation counts one validation with the given result.
func (m *Metrics) ObserveValidation(result string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(result).Inc()
}

// ObserveUsageWrite counts one background usage write.
func (m *Metrics) ObserveUsageWrite(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = ResultError
	}
	m.usageWrites.WithLabelValues(result).Inc()
}

// UsageWriteDropped counts a usage write that was never started.
func (m *Metrics) UsageWriteDropped() {
	if m == nil {
		return
	}
	m.usageDropped.Inc()
}

func (m *Metrics) KeyIssued() {
	if m != nil {
		m.keysIssued.Inc()
	}
}

func (m *Metrics) KeyRevoked() {
	if m != nil {
		m.keysRevoked.Inc()
	}
}

func (m *Metrics) KeyRenewed() {
	if m != nil {
		m.keysRenewed.Inc()
	}
}

// ObserveHTTP records one served request. path should be the route pattern,
// not the raw URL, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDurations.WithLabelValues(method, path).Observe(d.Seconds())
}

type factory struct {
	reg prometheus.Registerer
}

func (f factory) counter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	f.reg.MustRegister(c)
	return c
}

func (f factory) counterVec(opts prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	f.reg.MustRegister(c)
	return c
}

func (f factory) histogramVec(opts prometheus.HistogramOpts, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	f.reg.MustRegister(h)
	return h
}
