// Package metrics provides Prometheus metrics for the updater.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Blob download results.
const (
	ResultVerified  = "verified"
	ResultCached    = "cached"
	ResultIntegrity = "integrity"
	ResultTransport = "transport"
	ResultStalled   = "stalled"
	ResultError     = "error"
)

var (
	// Blob metrics
	blobDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updater_blob_downloads_total",
			Help: "Total blob downloads by result",
		},
		[]string{"result"},
	)

	blobBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "updater_blob_bytes_total",
			Help: "Total decompressed blob bytes written",
		},
	)

	blobDownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "updater_blob_download_duration_seconds",
			Help:    "Blob download and verify duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	downloadsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "updater_downloads_active",
			Help: "Number of blob downloads in flight",
		},
	)

	// Orchestrator metrics
	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updater_checks_total",
			Help: "Total update checks by outcome",
		},
		[]string{"outcome"},
	)

	fingerprintDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "updater_fingerprint_duration_seconds",
			Help:    "Time to fingerprint the install directory",
			Buckets: prometheus.DefBuckets,
		},
	)

	treeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "updater_local_tree_nodes",
			Help: "Number of files/directories in the last local fingerprint",
		},
	)

	diffEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "updater_diff_entries",
			Help: "Entries in the last computed diff",
		},
		[]string{"kind"},
	)

	installsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updater_installs_total",
			Help: "Total installer launches by outcome",
		},
		[]string{"outcome"},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updater_events_total",
			Help: "Total status events published",
		},
		[]string{"status"},
	)

	// S3 metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "updater_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updater_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordBlobDownload records one finished blob task.
func RecordBlobDownload(result string, bytes int64, duration time.Duration) {
	blobDownloadsTotal.WithLabelValues(result).Inc()
	blobBytesTotal.Add(float64(bytes))
	blobDownloadDuration.Observe(duration.Seconds())
}

// DownloadStarted increments the in-flight gauge.
func DownloadStarted() {
	downloadsActive.Inc()
}

// DownloadFinished decrements the in-flight gauge.
func DownloadFinished() {
	downloadsActive.Dec()
}

// RecordCheck records an update check outcome ("update", "current", "error").
func RecordCheck(outcome string) {
	checksTotal.WithLabelValues(outcome).Inc()
}

// RecordFingerprint records a local fingerprint.
func RecordFingerprint(nodes int, duration time.Duration) {
	treeNodes.Set(float64(nodes))
	fingerprintDuration.Observe(duration.Seconds())
}

// SetDiffSize sets the size of the last diff.
func SetDiffSize(added, changed int) {
	diffEntries.WithLabelValues("added").Set(float64(added))
	diffEntries.WithLabelValues("changed").Set(float64(changed))
}

// RecordInstall records an installer launch attempt.
func RecordInstall(success bool) {
	outcome := "launched"
	if !success {
		outcome = "rejected"
	}
	installsTotal.WithLabelValues(outcome).Inc()
}

// RecordEvent records a status event publication.
func RecordEvent(status string) {
	eventsTotal.WithLabelValues(status).Inc()
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	s3OperationsTotal.WithLabelValues(operation, status).Inc()
}
