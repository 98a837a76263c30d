// Package metrics defines the Prometheus metric collectors used across the
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	QuestionsIngested    prometheus.Counter
	QuestionsQuarantined *prometheus.CounterVec
	QuestionsRetracted   prometheus.Counter
	LabelsAssigned       *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	QueryResultsCount    prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	ExportsTotal         *prometheus.CounterVec
	SnapshotsTotal       *prometheus.CounterVec
	ShardQuestionCount   *prometheus.GaugeVec
	IndexRebuildsTotal   prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		QuestionsIngested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "questions_ingested_total",
				Help: "Total questions accepted by the ingestion pipeline.",
			},
		),
		QuestionsQuarantined: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questions_quarantined_total",
				Help: "Total raw records quarantined, by reason code.",
			},
			[]string{"reason"},
		),
		QuestionsRetracted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "questions_retracted_total",
				Help: "Total questions removed by explicit retraction.",
			},
		),
		LabelsAssigned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labels_assigned_total",
				Help: "Total classification labels assigned, by axis and label.",
			},
			[]string{"axis", "label"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "query_latency_seconds",
				Help:    "Faceted query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		QueryResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "query_results_count",
				Help:    "Number of matches per faceted query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500, 1000},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		ExportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exports_total",
				Help: "Total export operations by format and status.",
			},
			[]string{"format", "status"},
		),
		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_snapshots_total",
				Help: "Total store snapshot operations by status.",
			},
			[]string{"status"},
		),
		ShardQuestionCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shard_question_count",
				Help: "Number of questions per store shard.",
			},
			[]string{"shard_id"},
		),
		IndexRebuildsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_rebuilds_total",
				Help: "Total facet index rebuilds triggered by consistency checks.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.QuestionsIngested,
		m.QuestionsQuarantined,
		m.QuestionsRetracted,
		m.LabelsAssigned,
		m.QueryLatency,
		m.QueryResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ExportsTotal,
		m.SnapshotsTotal,
		m.ShardQuestionCount,
		m.IndexRebuildsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
