// Package telemetry exposes Prometheus metrics for authentication, sessions
// and HTTP traffic.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Auth outcomes recorded by ObserveAuth.
const (
	OutcomeSuccess  = "success"
	OutcomeMissing  = "missing"
	OutcomeInvalid  = "invalid"
	OutcomeExpired  = "expired"
	OutcomeInactive = "inactive"
	OutcomeError    = "error"
)

// Metrics holds every collector on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	authAttempts  *prometheus.CounterVec
	sessionEvents *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	httpInFlight  prometheus.Gauge
}

// New creates and registers the collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portico_auth_attempts_total",
			Help: "Authentication attempts by scheme and outcome.",
		}, []string{"scheme", "outcome"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portico_session_events_total",
			Help: "Session lifecycle events.",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portico_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portico_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portico_http_in_flight_requests",
			Help: "HTTP requests currently being served.",
		}),
	}
	m.registry.MustRegister(
		m.authAttempts, m.sessionEvents,
		m.httpRequests, m.httpDuration, m.httpInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAuth counts one authentication attempt.
func (m *Metrics) ObserveAuth(scheme, outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(scheme, outcome).Inc()
}

// ObserveSession counts a session event such as created, refreshed,
// invalidated or swept. n is the number of sessions affected.
func (m *Metrics) ObserveSession(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionEvents.WithLabelValues(event).Add(float64(n))
}

// Instrument wraps next with request count, latency and in-flight metrics.
// route is called after next has run so routers can report the matched
// pattern instead of the raw path.
func (m *Metrics) Instrument(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.httpInFlight.Inc()
			defer m.httpInFlight.Dec()

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, r)

			label := route(r)
			if label == "" {
				label = "unmatched"
			}
			m.httpDuration.WithLabelValues(r.Method, label).Observe(time.Since(start).Seconds())
			m.httpRequests.WithLabelValues(r.Method, label, strconv.Itoa(sw.code)).Inc()
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
