package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	VisitsRecorded        prometheus.Counter
	VisitLogFailures      prometheus.Counter
	VisitLogDropped       prometheus.Counter
	SummaryUpsertFailures prometheus.Counter
	RecordFailures        prometheus.Counter

	AggregateFailures *prometheus.CounterVec
	CacheRequests     *prometheus.CounterVec

	SummaryDriftDays prometheus.Gauge
}

// New creates the collectors and registers them on registry. A nil registry
// leaves them unregistered, which is what most tests want.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tally_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		VisitsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_visits_recorded_total",
			Help: "Visits whose daily summary was incremented",
		}),
		VisitLogFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_visit_log_failures_total",
			Help: "Visit log rows that could not be written",
		}),
		VisitLogDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_visit_log_dropped_total",
			Help: "Visit log rows dropped because the write buffer was full",
		}),
		SummaryUpsertFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_summary_upsert_failures_total",
			Help: "Daily summary upserts that failed",
		}),
		RecordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_record_failures_total",
			Help: "Record calls that could neither update nor read the summary",
		}),

		AggregateFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_aggregate_failures_total",
				Help: "Analytics sub-metrics that failed to compute",
			},
			[]string{"metric"},
		),
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_analytics_cache_requests_total",
				Help: "Analytics cache lookups by result",
			},
			[]string{"result"},
		),

		SummaryDriftDays: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tally_summary_drift_days",
			Help: "Days whose summary count differs from the number of visit log rows",
		}),
	}

	if registry != nil {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.VisitsRecorded,
			m.VisitLogFailures,
			m.VisitLogDropped,
			m.SummaryUpsertFailures,
			m.RecordFailures,
			m.AggregateFailures,
			m.CacheRequests,
			m.SummaryDriftDays,
		)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
