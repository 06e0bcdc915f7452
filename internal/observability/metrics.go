package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the ingestion pipeline.
type Metrics struct {
	Requests        *prometheus.CounterVec   // labels: granularity={daily,monthly}, outcome={success,error}
	StageDuration   *prometheus.HistogramVec // labels: stage={resolve,fetch,extract,parse}
	RecordsProduced prometheus.Counter

	// Upstream metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: endpoint={listing,data,archive}, outcome={success,error,breaker_open}
	UpstreamDuration *prometheus.HistogramVec // labels: endpoint
	BreakerOpen      prometheus.Gauge

	// Archive metrics.
	ArchiveEntries *prometheus.CounterVec // labels: kind={data,discarded}

	// Publisher metrics.
	RecordsPublished prometheus.Counter
	PublishErrors    prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bom_stat",
			Name:      "requests_total",
			Help:      "Observation requests by granularity and outcome.",
		}, []string{"granularity", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bom_stat",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		RecordsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bom_stat",
			Name:      "records_produced_total",
			Help:      "Total normalized records returned to callers.",
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bom_stat",
			Name:      "upstream_requests_total",
			Help:      "BOM HTTP requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bom_stat",
			Name:      "upstream_duration_seconds",
			Help:      "BOM HTTP request duration until response headers.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		BreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bom_stat",
			Name:      "upstream_breaker_open",
			Help:      "1 while the upstream circuit breaker is open, 0 otherwise.",
		}),
		ArchiveEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bom_stat",
			Name:      "archive_entries_total",
			Help:      "Archive entries seen, by whether they were written as data or discarded.",
		}, []string{"kind"}),
		RecordsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bom_stat",
			Name:      "records_published_total",
			Help:      "Total records written to the sink topic.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bom_stat",
			Name:      "publish_errors_total",
			Help:      "Total failed batch publishes.",
		}),
	}

	prometheus.MustRegister(
		m.Requests,
		m.StageDuration,
		m.RecordsProduced,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.BreakerOpen,
		m.ArchiveEntries,
		m.RecordsPublished,
		m.PublishErrors,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		Requests:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "bom_stat", Name: "requests_total"}, []string{"granularity", "outcome"}),
		StageDuration:    prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "bom_stat", Name: "stage_duration_seconds"}, []string{"stage"}),
		RecordsProduced:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "bom_stat", Name: "records_produced_total"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "bom_stat", Name: "upstream_requests_total"}, []string{"endpoint", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "bom_stat", Name: "upstream_duration_seconds"}, []string{"endpoint"}),
		BreakerOpen:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "bom_stat", Name: "upstream_breaker_open"}),
		ArchiveEntries:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "bom_stat", Name: "archive_entries_total"}, []string{"kind"}),
		RecordsPublished: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "bom_stat", Name: "records_published_total"}),
		PublishErrors:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "bom_stat", Name: "publish_errors_total"}),
	}
}
