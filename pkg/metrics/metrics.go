package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LiveDocuments is the number of documents currently held in memory
	// by the DocRegistry.
	LiveDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scribe_live_documents",
			Help: "Number of documents currently loaded in memory",
		},
	)

	OpenConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scribe_open_connections_total",
			Help: "Number of currently open DocConnections",
		},
	)

	GcEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scribe_gc_evictions_total",
			Help: "Total number of documents evicted from memory by a GcWorker",
		},
	)

	PersistDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scribe_persist_duration_seconds",
			Help:    "Time taken to persist a document's SyncKv snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	PersistErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scribe_persist_errors_total",
			Help: "Total number of failed persist attempts",
		},
	)

	DocumentBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scribe_document_bytes",
			Help:    "Size in bytes of a persisted document snapshot",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
	)

	AssetUploadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scribe_asset_uploads_total",
			Help: "Total number of presigned asset upload URLs minted",
		},
	)
)

func init() {
	prometheus.MustRegister(LiveDocuments)
	prometheus.MustRegister(OpenConnections)
	prometheus.MustRegister(GcEvictionsTotal)
	prometheus.MustRegister(PersistDuration)
	prometheus.MustRegister(PersistErrorsTotal)
	prometheus.MustRegister(DocumentBytes)
	prometheus.MustRegister(AssetUploadsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
