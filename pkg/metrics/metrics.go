package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Admin API metrics.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posedge_api_requests_total",
			Help: "Total number of admin API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "posedge_api_request_duration_seconds",
			Help:    "Admin API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Reconciler metrics (C2 chain integrity sweeps).
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "posedge_reconciliation_duration_seconds",
			Help:    "Time taken for a chain-integrity reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "posedge_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ChainBreaksDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posedge_chain_breaks_detected_total",
			Help: "Total number of hash chain breaks found during reconciliation, by chain",
		},
		[]string{"chain"},
	)

	DegradedModeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posedge_degraded_mode",
			Help: "1 if the Edge is currently in degraded mode, 0 otherwise",
		},
	)

	// Cloud sync metrics (C9).
	SyncBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posedge_sync_batches_total",
			Help: "Total number of Edge/Cloud sync batches by resource and outcome",
		},
		[]string{"resource", "outcome"},
	)

	SyncBatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "posedge_sync_batch_duration_seconds",
			Help:    "Time taken to complete one sync batch round trip",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource"},
	)

	SyncCursorLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "posedge_sync_cursor_lag",
			Help: "Number of unsynced records behind the latest known cursor, by resource",
		},
		[]string{"resource"},
	)

	// Activation metrics (C6/C7).
	ActivationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posedge_activation_attempts_total",
			Help: "Total number of activation attempts by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ChainBreaksDetectedTotal)
	prometheus.MustRegister(DegradedModeGauge)
	prometheus.MustRegister(SyncBatchesTotal)
	prometheus.MustRegister(SyncBatchDuration)
	prometheus.MustRegister(SyncCursorLag)
	prometheus.MustRegister(ActivationAttemptsTotal)
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
