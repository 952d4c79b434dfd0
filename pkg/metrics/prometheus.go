package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	pagesFetched  *prometheus.CounterVec
	rowsPersisted *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec
	throttleHits  *prometheus.CounterVec
	exportedRows  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	requestDur    *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		pagesFetched: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_pages_fetched_total",
				Help: "Total pages fetched per collection stream",
			},
			[]string{"stream"},
		),
		rowsPersisted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_rows_persisted_total",
				Help: "Total rows durably persisted per collection stream",
			},
			[]string{"stream"},
		),
		retriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_retries_total",
				Help: "Total page fetch retries",
			},
			[]string{"stream"},
		),
		throttleHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_rate_limit_hits_total",
				Help: "Total throttling responses from the exchange",
			},
			[]string{"stream"},
		),
		exportedRows: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_exported_rows_total",
				Help: "Total rows mirrored to the export backend",
			},
			[]string{"backend"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		requestDur: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpull_request_duration_seconds",
				Help:    "Duration of exchange page requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stream"},
		),
	}
}

func (r *Recorder) RecordPage(stream string, rows int) {
	r.pagesFetched.WithLabelValues(stream).Inc()
}

func (r *Recorder) RecordRowsPersisted(stream string, n int) {
	r.rowsPersisted.WithLabelValues(stream).Add(float64(n))
}

func (r *Recorder) RecordRetry(stream string) {
	r.retriesTotal.WithLabelValues(stream).Inc()
}

func (r *Recorder) RecordRateLimitHit(stream string) {
	r.throttleHits.WithLabelValues(stream).Inc()
}

func (r *Recorder) RecordRequestDuration(stream string, seconds float64) {
	r.requestDur.WithLabelValues(stream).Observe(seconds)
}

func (r *Recorder) RecordExport(backend string, rows int) {
	r.exportedRows.WithLabelValues(backend).Add(float64(rows))
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
