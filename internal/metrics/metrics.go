// SPDX-License-Identifier: MIT
// Package metrics exposes Prometheus instrumentation for the session core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kanzelcast_session_transitions_total",
		Help: "Session state machine transitions by source and target state",
	}, []string{"from", "to"})

	sessionTransitionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kanzelcast_session_transitions_rejected_total",
		Help: "Attempted transitions rejected by the state machine",
	})

	scanOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kanzelcast_recording_scan_outcomes_total",
		Help: "Recording selection outcomes by decision class",
	}, []string{"outcome"}) // outcome=single_long|multiple_long|no_long|scan_failed

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kanzelcast_upload_bytes_total",
		Help: "Total bytes acknowledged by the video platform",
	})

	uploadFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kanzelcast_upload_failures_total",
		Help: "Upload failures by class",
	}, []string{"class"}) // class=transient|auth|rejected

	uploadsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kanzelcast_uploads_completed_total",
		Help: "Uploads that reached completed status",
	})

	uploadRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kanzelcast_upload_restarts_total",
		Help: "Transfers restarted from byte zero after the platform rejected the resume session",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kanzelcast_upload_queue_depth",
		Help: "Upload sessions currently waiting in the coordinator queue",
	})
)

// RecordSessionTransition counts one applied state machine transition.
func RecordSessionTransition(from, to string) {
	sessionTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordSessionTransitionRejected counts one rejected transition attempt.
func RecordSessionTransitionRejected() {
	sessionTransitionsRejected.Inc()
}

// RecordScanOutcome counts one recording selection decision.
func RecordScanOutcome(outcome string) {
	scanOutcomesTotal.WithLabelValues(outcome).Inc()
}

// AddUploadedBytes counts bytes acknowledged by the platform.
func AddUploadedBytes(n int64) {
	if n > 0 {
		uploadBytesTotal.Add(float64(n))
	}
}

// RecordUploadFailure counts one upload failure by class.
// class ∈ {transient, auth, rejected}.
func RecordUploadFailure(class string) {
	uploadFailuresTotal.WithLabelValues(class).Inc()
}

// RecordUploadCompleted counts one finished upload.
func RecordUploadCompleted() {
	uploadsCompletedTotal.Inc()
}

// RecordUploadRestart counts one restart-from-zero.
func RecordUploadRestart() {
	uploadRestartsTotal.Inc()
}

// SetQueueDepth reports the coordinator's current queue length.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
