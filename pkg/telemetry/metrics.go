package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects run and task execution metrics. A disabled instance is
// a safe no-op.
type Metrics struct {
	config MetricsConfig

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	tasksExecuted *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates the metrics collector.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "runs_started_total",
				Help:      "Total number of goal runs started",
			},
			[]string{"goal"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of goal runs completed",
			},
			[]string{"goal", "rollup"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of goal runs in seconds",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800},
			},
			[]string{"goal", "rollup"},
		),
		tasksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "tasks_executed_total",
				Help:      "Total number of task executions by status",
			},
			[]string{"task", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task executions in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.tasksExecuted,
		m.taskDuration,
	)
	return m
}

// RunStarted counts a run start.
func (m *Metrics) RunStarted(goal string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(goal).Inc()
}

// RunCompleted counts a finished run and observes its duration.
func (m *Metrics) RunCompleted(goal, rollup string, d time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(goal, rollup).Inc()
	m.runDuration.WithLabelValues(goal, rollup).Observe(d.Seconds())
}

// TaskExecuted counts a task result and observes its duration.
func (m *Metrics) TaskExecuted(task, status string, d time.Duration) {
	if m.tasksExecuted == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(task, status).Inc()
	m.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

// Handler exposes the registry for a /metrics endpoint. Nil when metrics
// are disabled.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
