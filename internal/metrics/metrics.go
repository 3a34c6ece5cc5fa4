// Package metrics exposes Prometheus collectors for the HTTP surface and the
// registry.
package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sydlexius/alldbs/internal/event"
)

const namespace = "alldbs"

// EntryCounter reports how many keys are registered.
type EntryCounter interface {
	Count(ctx context.Context) (int, error)
}

// Metrics holds the collectors on a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	EventsTotal     *prometheus.CounterVec
	StorageFailures prometheus.Counter
}

// New creates the collectors. When entries is non-nil the registry size is
// sampled on every scrape.
func New(entries EntryCounter) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		EventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Database lifecycle events by type",
			},
			[]string{"type"},
		),
		StorageFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_storage_failures_total",
				Help:      "Registry operations that failed in storage",
			},
		),
	}

	if entries != nil {
		f.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_entries",
				Help:      "Number of registered database keys",
			},
			func() float64 {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				n, err := entries.Count(ctx)
				if err != nil {
					return math.NaN()
				}
				return float64(n)
			},
		)
	}
	return m
}

// Gatherer returns the registry the collectors live on.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HandleEvent is an event.Handler counting lifecycle events.
func (m *Metrics) HandleEvent(e event.Event) {
	m.EventsTotal.WithLabelValues(string(e.Type)).Inc()
}

// ObserveStorageFailure counts one failed registry operation.
func (m *Metrics) ObserveStorageFailure() {
	m.StorageFailures.Inc()
}

// Middleware records request counts and latency labeled by the matched
// route pattern rather than the raw path, so database names do not explode
// label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
