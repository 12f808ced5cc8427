package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connectivity metrics
	Online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posyncd_online",
			Help: "Whether the device currently considers itself online (1) or offline (0)",
		},
	)

	Syncing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posyncd_syncing",
			Help: "Whether a sync cycle is currently in flight",
		},
	)

	// Outbox metrics
	OutboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posyncd_outbox_depth",
			Help: "Number of operations currently pending in the outbox",
		},
	)

	PendingBundles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posyncd_pending_bundles",
			Help: "Number of bundles currently pending in the outbox",
		},
	)

	DeadLetterDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posyncd_dead_letter_depth",
			Help: "Number of items currently parked in the dead-letter queue",
		},
	)

	OldestOperationAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "posyncd_oldest_operation_age_seconds",
			Help: "Age in seconds of the oldest unsent outbox entry",
		},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posyncd_retries_total",
			Help: "Total retry attempts by error kind",
		},
		[]string{"kind"},
	)

	DeadLetteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "posyncd_dead_lettered_total",
			Help: "Total items moved to the dead-letter queue",
		},
	)

	// Conflict resolution metrics
	ConflictsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posyncd_conflicts_resolved_total",
			Help: "Total conflicts resolved, by rule and outcome",
		},
		[]string{"rule", "accepted"},
	)

	// Sync cycle latency
	SyncCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "posyncd_sync_cycle_duration_seconds",
			Help:    "Time taken for one outbox drain cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	HydrationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "posyncd_hydration_duration_seconds",
			Help:    "Time taken to hydrate one collection from the remote, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	RemoteDeletionsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posyncd_remote_deletions_detected_total",
			Help: "Total remote deletions detected during hydration, by collection",
		},
		[]string{"collection"},
	)

	// Operation throughput
	OperationsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posyncd_operations_applied_total",
			Help: "Total operations successfully committed to the remote, by type",
		},
		[]string{"type"},
	)

	BundlesCommittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posyncd_bundles_committed_total",
			Help: "Total bundles successfully committed to the remote, by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(Online)
	prometheus.MustRegister(Syncing)
	prometheus.MustRegister(OutboxDepth)
	prometheus.MustRegister(PendingBundles)
	prometheus.MustRegister(DeadLetterDepth)
	prometheus.MustRegister(OldestOperationAge)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(DeadLetteredTotal)
	prometheus.MustRegister(ConflictsResolvedTotal)
	prometheus.MustRegister(SyncCycleDuration)
	prometheus.MustRegister(HydrationDuration)
	prometheus.MustRegister(RemoteDeletionsDetected)
	prometheus.MustRegister(OperationsAppliedTotal)
	prometheus.MustRegister(BundlesCommittedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
