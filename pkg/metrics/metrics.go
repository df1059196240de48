package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry / worker lifecycle metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_workers_total",
			Help: "Total number of registered workers by status",
		},
		[]string{"status"},
	)

	WorkersSpawnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_workers_spawned_total",
			Help: "Total number of workers spawned",
		},
	)

	WorkersTerminatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_workers_terminated_total",
			Help: "Total number of workers terminated by reason",
		},
		[]string{"reason"},
	)

	WorkerSpawnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_worker_spawn_duration_seconds",
			Help:    "Time taken to spawn a worker in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Resource monitor metrics
	WorkerMemoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_worker_memory_bytes",
			Help: "Current resident memory usage per worker",
		},
		[]string{"worker_id"},
	)

	WorkerCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_worker_cpu_percent",
			Help: "Current CPU usage percent per worker",
		},
		[]string{"worker_id"},
	)

	// Message bus metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_queue_depth",
			Help: "Current depth of a worker's message queue",
		},
		[]string{"worker_id"},
	)

	MessagesDeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_messages_delivered_total",
			Help: "Total number of messages successfully delivered",
		},
	)

	MessageRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_message_retries_total",
			Help: "Total number of message delivery retries",
		},
	)

	MessagesFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_messages_failed_total",
			Help: "Total number of messages that exhausted their retry budget",
		},
	)

	// Coordinator metrics
	BarriersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_barriers_total",
			Help: "Total number of barriers resolved by outcome",
		},
		[]string{"outcome"},
	)

	ElectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_elections_total",
			Help: "Total number of elections resolved by outcome",
		},
		[]string{"outcome"},
	)

	// Consolidation metrics
	ConsolidationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_consolidation_duration_seconds",
			Help:    "Time taken for a consolidation phase in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	ConflictsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_conflicts_detected_total",
			Help: "Total number of merge conflicts detected by type",
		},
		[]string{"type"},
	)

	ConsolidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_consolidations_total",
			Help: "Total number of consolidations by terminal status",
		},
		[]string{"status"},
	)

	// Transport surface metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(WorkersSpawnedTotal)
	prometheus.MustRegister(WorkersTerminatedTotal)
	prometheus.MustRegister(WorkerSpawnDuration)
	prometheus.MustRegister(WorkerMemoryBytes)
	prometheus.MustRegister(WorkerCPUPercent)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(MessagesDeliveredTotal)
	prometheus.MustRegister(MessageRetriesTotal)
	prometheus.MustRegister(MessagesFailedTotal)
	prometheus.MustRegister(BarriersTotal)
	prometheus.MustRegister(ElectionsTotal)
	prometheus.MustRegister(ConsolidationDuration)
	prometheus.MustRegister(ConflictsDetectedTotal)
	prometheus.MustRegister(ConsolidationsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer started at the current time.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with
// labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
