package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Synthesis metrics
	activeSyntheses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kokoro_server_active_syntheses",
		Help: "Number of synthesis runs currently in flight",
	})

	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokoro_server_synthesis_requests_total",
		Help: "Total number of synthesis requests",
	}, []string{"status"}) // status: success, invalid_input, payload_too_large, unavailable, timeout, error

	synthesisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kokoro_server_synthesis_duration_seconds",
		Help:    "Synthesis latency in seconds, including the retry attempt",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	synthesisRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kokoro_server_synthesis_retries_total",
		Help: "Total number of second synthesis attempts",
	})

	// Download metrics
	downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokoro_server_downloads_total",
		Help: "Total number of artifact download requests",
	}, []string{"status"}) // status: success, not_found

	// Artifact lifecycle metrics
	artifactsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kokoro_server_artifacts_written_total",
		Help: "Total number of audio artifacts written to the scratch directory",
	})

	artifactsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kokoro_server_artifacts_deleted_total",
		Help: "Total number of audio artifacts deleted",
	}, []string{"mode"}) // mode: immediate, deferred
)

// RecordSynthesisStart marks a synthesis run as in flight.
func RecordSynthesisStart() {
	activeSyntheses.Inc()
}

// RecordSynthesisEnd records the outcome and total duration of a synthesis run.
func RecordSynthesisEnd(status string, start time.Time) {
	activeSyntheses.Dec()
	synthesisDuration.Observe(time.Since(start).Seconds())
	synthesisRequests.WithLabelValues(status).Inc()
}

// RecordSynthesisRejected records a request rejected before any engine work.
func RecordSynthesisRejected(status string) {
	synthesisRequests.WithLabelValues(status).Inc()
}

// RecordSynthesisRetry records a second synthesis attempt.
func RecordSynthesisRetry() {
	synthesisRetries.Inc()
}

// RecordDownload records a download request outcome.
func RecordDownload(status string) {
	downloads.WithLabelValues(status).Inc()
}

// RecordArtifactWritten records a new artifact on disk.
func RecordArtifactWritten() {
	artifactsWritten.Inc()
}

// RecordArtifactDeleted records an artifact deletion.
// Mode is "immediate" for failure cleanup and "deferred" for post-download
// scheduled cleanup.
func RecordArtifactDeleted(mode string) {
	artifactsDeleted.WithLabelValues(mode).Inc()
}
