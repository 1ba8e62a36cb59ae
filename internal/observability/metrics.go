package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prediction outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomeProfileMissing = "profile_missing"
	OutcomeInvalidCycle   = "invalid_cycle_length"
	OutcomeUnavailable    = "unavailable"
	OutcomeError          = "error"
)

var (
	predictionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vedabloom",
		Subsystem: "prediction",
		Name:      "orchestrations_total",
		Help:      "Number of prediction orchestrations grouped by outcome.",
	}, []string{"outcome"})

	predictionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vedabloom",
		Subsystem: "prediction",
		Name:      "request_duration_seconds",
		Help:      "Round-trip time of prediction service exchanges.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 11),
	})

	staleCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vedabloom",
		Subsystem: "prediction",
		Name:      "stale_completions_total",
		Help:      "Completions discarded because a newer snapshot had already been applied.",
	})

	activeSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vedabloom",
		Subsystem: "session",
		Name:      "active",
		Help:      "Number of live tracking sessions holding a log subscription.",
	})

	contentFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vedabloom",
		Subsystem: "content",
		Name:      "fetch_failures_total",
		Help:      "Number of failed content document fetches.",
	})

	contentRefreshGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vedabloom",
		Subsystem: "content",
		Name:      "last_refresh_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful content document fetch.",
	})

	reportCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vedabloom",
		Subsystem: "history",
		Name:      "reports_generated_total",
		Help:      "Number of history reports generated grouped by format.",
	}, []string{"format"})
)

func init() {
	prometheus.MustRegister(
		predictionCounter,
		predictionLatency,
		staleCounter,
		activeSessionsGauge,
		contentFailureCounter,
		contentRefreshGauge,
		reportCounter,
	)
}

// RecordPrediction counts an orchestration outcome.
func RecordPrediction(outcome string) {
	predictionCounter.WithLabelValues(outcome).Inc()
}

// ObservePredictionLatency records a prediction service round trip.
func ObservePredictionLatency(d time.Duration) {
	predictionLatency.Observe(d.Seconds())
}

// RecordStaleCompletion counts a discarded out-of-order completion.
func RecordStaleCompletion() {
	staleCounter.Inc()
}

// SessionStarted and SessionEnded track live subscriptions.
func SessionStarted() { activeSessionsGauge.Inc() }

// SessionEnded decrements the live session gauge.
func SessionEnded() { activeSessionsGauge.Dec() }

// RecordContentFailure counts a failed content fetch.
func RecordContentFailure() {
	contentFailureCounter.Inc()
}

// RecordContentRefreshed updates the content watermark gauge.
func RecordContentRefreshed(ts time.Time) {
	if ts.IsZero() {
		return
	}
	contentRefreshGauge.Set(float64(ts.Unix()))
}

// RecordReport counts a generated report.
func RecordReport(format string) {
	reportCounter.WithLabelValues(format).Inc()
}
