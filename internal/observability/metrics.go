package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	ResourcesDiscovered prometheus.Counter
	ResourcesFetched    *prometheus.CounterVec // labels: kind, outcome={success,skipped,error}
	FetchRetries        prometheus.Counter
	ParseErrors         prometheus.Counter
	ReconcileErrors     *prometheus.CounterVec // labels: field={geography,category,count,period}
	UnmappedLabels      prometheus.Counter
	RecordsReconciled   prometheus.Counter
	RecordsMerged       *prometheus.CounterVec // labels: outcome={inserted,replaced,unchanged,conflict}
	RecordsWritten      prometheus.Gauge
	PipelineRunning     prometheus.Gauge

	RunDuration  prometheus.Histogram
	LastRunTime  prometheus.Gauge
	LastRunOK    prometheus.Gauge
	RenderActive prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ResourcesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crime_etl",
			Name:      "resources_discovered_total",
			Help:      "Total candidate resources found on the dataset listing page.",
		}),
		ResourcesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crime_etl",
			Name:      "resources_fetched_total",
			Help:      "Resource downloads by source kind and outcome.",
		}, []string{"kind", "outcome"}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crime_etl",
			Name:      "fetch_retries_total",
			Help:      "Total retried download attempts.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crime_etl",
			Name:      "parse_errors_total",
			Help:      "Resources whose layout could not be recognized.",
		}),
		ReconcileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crime_etl",
			Name:      "reconcile_errors_total",
			Help:      "Rows skipped during reconciliation, by failing field.",
		}, []string{"field"}),
		UnmappedLabels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crime_etl",
			Name:      "unmapped_labels_total",
			Help:      "Distinct source labels with no alias-map entry.",
		}),
		RecordsReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crime_etl",
			Name:      "records_reconciled_total",
			Help:      "Canonical records produced from parsed rows.",
		}),
		RecordsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crime_etl",
			Name:      "records_merged_total",
			Help:      "Merge decisions against the stored series, by outcome.",
		}, []string{"outcome"}),
		RecordsWritten: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crime_etl",
			Name:      "records_written",
			Help:      "Rows in the combined table of the last published database.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crime_etl",
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crime_etl",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete discover-fetch-reconcile-write run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		LastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crime_etl",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		LastRunOK: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crime_etl",
			Name:      "last_run_success",
			Help:      "1 when the last run published a database, 0 otherwise.",
		}),
		RenderActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crime_etl",
			Name:      "render_enabled",
			Help:      "1 when a rendering command is configured, 0 otherwise.",
		}),
	}

	prometheus.MustRegister(
		m.ResourcesDiscovered,
		m.ResourcesFetched,
		m.FetchRetries,
		m.ParseErrors,
		m.ReconcileErrors,
		m.UnmappedLabels,
		m.RecordsReconciled,
		m.RecordsMerged,
		m.RecordsWritten,
		m.PipelineRunning,
		m.RunDuration,
		m.LastRunTime,
		m.LastRunOK,
		m.RenderActive,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		ResourcesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "crime_etl", Name: "resources_discovered_total"}),
		ResourcesFetched:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "crime_etl", Name: "resources_fetched_total"}, []string{"kind", "outcome"}),
		FetchRetries:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "crime_etl", Name: "fetch_retries_total"}),
		ParseErrors:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "crime_etl", Name: "parse_errors_total"}),
		ReconcileErrors:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "crime_etl", Name: "reconcile_errors_total"}, []string{"field"}),
		UnmappedLabels:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "crime_etl", Name: "unmapped_labels_total"}),
		RecordsReconciled:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "crime_etl", Name: "records_reconciled_total"}),
		RecordsMerged:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "crime_etl", Name: "records_merged_total"}, []string{"outcome"}),
		RecordsWritten:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "crime_etl", Name: "records_written"}),
		PipelineRunning:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "crime_etl", Name: "pipeline_running"}),
		RunDuration:         prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "crime_etl", Name: "run_duration_seconds"}),
		LastRunTime:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "crime_etl", Name: "last_run_timestamp_seconds"}),
		LastRunOK:           prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "crime_etl", Name: "last_run_success"}),
		RenderActive:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "crime_etl", Name: "render_enabled"}),
	}
}
