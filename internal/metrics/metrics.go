// Package metrics defines the Prometheus instrumentation for the service:
// HTTP latency by route, retrieval pass outcomes, generation latency, and
// cache effectiveness.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors on a private registry, so tests can create
// instances freely without collision panics.
type Metrics struct {
	registry *prometheus.Registry

	httpDuration       *prometheus.HistogramVec
	retrievalPasses    *prometheus.CounterVec
	generationDuration prometheus.Histogram
	generationTotal    *prometheus.CounterVec
	cacheRequests      *prometheus.CounterVec
}

// New creates the collector set.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hansard",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route, method, and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
		retrievalPasses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hansard",
			Subsystem: "retrieval",
			Name:      "passes_total",
			Help:      "Retrieval passes executed, by pass name and outcome.",
		}, []string{"pass", "outcome"}),
		generationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hansard",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Wall time of generator calls.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		generationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hansard",
			Subsystem: "generation",
			Name:      "requests_total",
			Help:      "Generator calls by outcome.",
		}, []string{"outcome"}),
		cacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hansard",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by cache name and outcome.",
		}, []string{"cache", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request duration labeled with the chi route pattern,
// so /document/{doc_id} stays one series regardless of the id.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		m.httpDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}

// ObserveRetrievalPass counts one retrieval pass execution.
func (m *Metrics) ObserveRetrievalPass(pass string, err error) {
	m.retrievalPasses.WithLabelValues(pass, outcome(err)).Inc()
}

// ObserveGeneration records one generator call.
func (m *Metrics) ObserveGeneration(seconds float64, err error) {
	m.generationDuration.Observe(seconds)
	m.generationTotal.WithLabelValues(outcome(err)).Inc()
}

// ObserveCache counts one cache lookup.
func (m *Metrics) ObserveCache(name string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(name, result).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
