// Package metrics holds the Prometheus collectors shared by the server
// and the scanner agent.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_validations_total",
			Help: "Validation attempts by method, outcome and rejection reason",
		},
		[]string{"method", "outcome", "reason"},
	)

	validationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admission_validation_duration_seconds",
			Help:    "Time spent validating a credential",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	cloningAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_cloning_alerts_total",
			Help: "Cloning detections by confidence",
		},
		[]string{"confidence"},
	)

	rateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_nfc_rate_limited_total",
			Help: "NFC validations rejected by the per-band rate limit",
		},
	)

	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_ticket_transitions_total",
			Help: "Applied ticket status transitions",
		},
		[]string{"from", "to"},
	)

	sessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_usage_sessions_total",
			Help: "Usage sessions started and ended",
		},
		[]string{"event"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanner_queue_entries",
			Help: "Offline queue entries by status",
		},
		[]string{"status"},
	)

	syncOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_sync_submissions_total",
			Help: "Queued scans submitted during sync by outcome",
		},
		[]string{"outcome"},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "admission_active_goroutines",
			Help: "Current number of goroutines",
		},
	)
)

// ObserveValidation records one validation attempt.
func ObserveValidation(method string, accepted bool, reason string, took time.Duration) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	validations.WithLabelValues(method, outcome, reason).Inc()
	validationDuration.WithLabelValues(method).Observe(took.Seconds())
}

func CloningAlert(confidence string) { cloningAlerts.WithLabelValues(confidence).Inc() }

func RateLimited() { rateLimited.Inc() }

func Transition(from, to string) { transitions.WithLabelValues(from, to).Inc() }

func SessionStarted() { sessionEvents.WithLabelValues("start").Inc() }

func SessionEnded(n int) { sessionEvents.WithLabelValues("end").Add(float64(n)) }

// QueueDepth publishes the current per-status queue counts.
func QueueDepth(counts map[string]int) {
	for status, n := range counts {
		queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

func SyncOutcome(outcome string) { syncOutcomes.WithLabelValues(outcome).Inc() }

// CollectRuntime samples the goroutine gauge until stop is closed.
func CollectRuntime(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		goroutineCount.Set(float64(runtime.NumGoroutine()))
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}
