package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmreiter/foreman/internal/model"
)

var (
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_engine_tasks_total",
			Help: "Total number of tasks finished by the engine, by terminal status.",
		},
		[]string{"status"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_engine_queue_depth",
			Help: "Number of tasks currently waiting in the queue.",
		},
	)

	tasksInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_engine_tasks_in_progress",
			Help: "Number of tasks currently being executed by workers.",
		},
	)

	taskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foreman_engine_task_duration_seconds",
			Help:    "Task body execution time in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	queueWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foreman_engine_queue_wait_seconds",
			Help:    "Time a task spends waiting in the queue before a worker picks it up, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(tasksTotal)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(tasksInProgress)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(queueWaitDuration)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, st := range []model.TaskStatus{
		model.StatusCompleted,
		model.StatusFailed,
		model.StatusAborted,
		model.StatusRejected,
	} {
		tasksTotal.WithLabelValues(string(st))
	}
}
