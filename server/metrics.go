package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TFMV/flowboard/graph"
)

const metricsNamespace = "flowboard"

// Metrics holds the server's collectors on a private registry, so several
// servers can live in one process (and one test binary).
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	changes      *prometheus.CounterVec
	reloads      *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors. counts reports the current
// node and link totals and streams the open update streams, both at scrape
// time.
func NewMetrics(counts func() (nodes, links int), streams func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "model_changes_total",
			Help:      "Change-sets applied to the diagram, by kind and transaction.",
		}, []string{"kind", "transaction"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dataset_reloads_total",
			Help:      "Dataset file reloads, by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.changes,
		m.reloads,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "update_streams",
			Help:      "Open live-update streams.",
		}, func() float64 { return float64(streams()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "nodes",
			Help:      "Nodes in the diagram.",
		}, func() float64 {
			n, _ := counts()
			return float64(n)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "links",
			Help:      "Links in the diagram.",
		}, func() float64 {
			_, l := counts()
			return float64(l)
		}),
	)
	return m
}

// ObserveChange counts one applied change-set.
func (m *Metrics) ObserveChange(cs graph.ChangeSet) {
	m.changes.WithLabelValues(string(cs.Kind), cs.Transaction).Inc()
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
