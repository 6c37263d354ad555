package ui

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the archive server.
type Metrics struct {
	RunsListed    prometheus.Counter   // archive listings served
	RunsFetched   prometheus.Counter   // single-run lookups served
	ReportViews   prometheus.Counter   // report pages served
	RenderSeconds prometheus.Histogram // report page render duration
	ArchiveErrors prometheus.Counter   // archive reads that failed
}

// NewMetrics registers the instruments on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers on a custom registry, which keeps tests
// isolated from the global one.
func NewMetricsWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		RunsListed: factory.NewCounter(prometheus.CounterOpts{
			Name: "archive_runs_listed_total",
			Help: "Total number of archive listing requests served",
		}),
		RunsFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "archive_runs_fetched_total",
			Help: "Total number of single-run lookups served",
		}),
		ReportViews: factory.NewCounter(prometheus.CounterOpts{
			Name: "report_views_total",
			Help: "Total number of report pages served",
		}),
		RenderSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "report_render_seconds",
			Help:    "Time spent rendering report pages",
			Buckets: prometheus.DefBuckets,
		}),
		ArchiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "archive_errors_total",
			Help: "Total number of archive reads that failed",
		}),
	}
}
