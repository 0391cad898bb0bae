package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for Actuarius. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Scheduler
	QueueRunning *prometheus.GaugeVec
	QueuePending *prometheus.GaugeVec

	// Process runner
	ProcessDuration *prometheus.HistogramVec

	// Requests
	RequestsTotal   *prometheus.CounterVec
	StageFailures   *prometheus.CounterVec
	CleanupFailures prometheus.Counter

	// Git
	SyncDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueRunning: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "actuarius_queue_running",
				Help: "Tasks currently running per guild",
			},
			[]string{"guild"},
		),
		QueuePending: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "actuarius_queue_pending",
				Help: "Tasks waiting for a slot per guild",
			},
			[]string{"guild"},
		),
		ProcessDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "actuarius_process_duration_seconds",
				Help:    "External process wall time",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 16),
			},
			[]string{"binary", "outcome"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actuarius_requests_total",
				Help: "Requests that reached a terminal status",
			},
			[]string{"provider", "status"},
		),
		StageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actuarius_stage_failures_total",
				Help: "Request failures by orchestration stage",
			},
			[]string{"stage"},
		),
		CleanupFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "actuarius_worktree_cleanup_failures_total",
				Help: "Worktree removals that failed",
			},
		),
		SyncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "actuarius_sync_duration_seconds",
				Help:    "Canonical checkout synchronization time",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"source_ref"},
		),
	}
}

func (m *Metrics) ObserveProcess(binary, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProcessDuration.WithLabelValues(binary, outcome).Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(guild string, running, pending int) {
	if m == nil {
		return
	}
	m.QueueRunning.WithLabelValues(guild).Set(float64(running))
	m.QueuePending.WithLabelValues(guild).Set(float64(pending))
}

func (m *Metrics) RequestFinished(provider, status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) StageFailed(stage string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) CleanupFailed() {
	if m == nil {
		return
	}
	m.CleanupFailures.Inc()
}

func (m *Metrics) ObserveSync(sourceRef string, d time.Duration) {
	if m == nil {
		return
	}
	m.SyncDuration.WithLabelValues(sourceRef).Observe(d.Seconds())
}
