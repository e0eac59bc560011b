package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the instrumentation for sync and import operations on a
// private registry so tests can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	SyncTotal       *prometheus.CounterVec
	EventsCollected prometheus.Counter
	SyncWarnings    prometheus.Counter
	SyncDuration    prometheus.Histogram
	CrashesImported prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.SyncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_sync_total",
		Help: "Sync operations by outcome.",
	}, []string{"outcome"})
	m.EventsCollected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hermes_events_collected_total",
		Help: "Events collected from host log sources.",
	})
	m.SyncWarnings = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hermes_sync_warnings_total",
		Help: "Collector warnings surfaced alongside successful syncs.",
	})
	m.SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hermes_sync_duration_seconds",
		Help:    "Wall time of sync operations.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
	m.CrashesImported = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hermes_crashes_imported_total",
		Help: "Crash records imported from host artifacts.",
	})

	m.registry.MustRegister(
		m.SyncTotal,
		m.EventsCollected,
		m.SyncWarnings,
		m.SyncDuration,
		m.CrashesImported,
	)
	return m
}

// Handler serves the registry in the standard exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
