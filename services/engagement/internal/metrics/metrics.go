// Package metrics holds the Prometheus collectors of the engagement service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	reg prometheus.Gatherer

	ActionsTotal      *prometheus.CounterVec
	AdmissionRejected *prometheus.CounterVec
	DedupHits         *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RequestsInFlight  prometheus.Gauge
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_actions_total",
			Help: "Mutating actions handled, by operation and outcome.",
		}, []string{"op", "outcome"}),
		AdmissionRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_admission_rejected_total",
			Help: "Requests refused by the rate limiter, by operation.",
		}, []string{"op"}),
		DedupHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_dedup_hits_total",
			Help: "Requests answered from the duplicate suppressor, by operation.",
		}, []string{"op"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engagement_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by route, method and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engagement_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_answer_cache_hits_total",
			Help: "Answer cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_answer_cache_misses_total",
			Help: "Answer cache misses.",
		}),
	}
	reg.MustRegister(
		m.ActionsTotal,
		m.AdmissionRejected,
		m.DedupHits,
		m.RequestDuration,
		m.RequestsInFlight,
		m.CacheHits,
		m.CacheMisses,
	)
	return m
}

func (m *Metrics) Action(op, outcome string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) Rejected(op string) {
	if m == nil {
		return
	}
	m.AdmissionRejected.WithLabelValues(op).Inc()
}

func (m *Metrics) Deduped(op string) {
	if m == nil {
		return
	}
	m.DedupHits.WithLabelValues(op).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
		return
	}
	m.CacheMisses.Inc()
}

// Middleware records request duration and in-flight count. The route label
// is the chi pattern so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
