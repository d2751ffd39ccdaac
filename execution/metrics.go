package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's prometheus instruments.
type Metrics struct {
	TasksDispatched prometheus.Counter
	TasksSucceeded  prometheus.Counter
	TasksFailed     prometheus.Counter
	TaskRetries     prometheus.Counter
	RunningTasks    prometheus.Gauge
	Executions      *prometheus.CounterVec
}

// NewMetrics registers the engine instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "aria_engine_tasks_dispatched_total",
			Help: "Operation tasks submitted to the executor.",
		}),
		TasksSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "aria_engine_tasks_succeeded_total",
			Help: "Operation tasks that reached terminal success.",
		}),
		TasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "aria_engine_tasks_failed_total",
			Help: "Operation attempts that failed.",
		}),
		TaskRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "aria_engine_task_retries_total",
			Help: "Failed attempts returned to the pending set for retry.",
		}),
		RunningTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aria_engine_running_tasks",
			Help: "Operation tasks currently running on the executor.",
		}),
		Executions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aria_engine_executions_total",
			Help: "Executions by terminal status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) dispatched() {
	if m != nil {
		m.TasksDispatched.Inc()
		m.RunningTasks.Inc()
	}
}

func (m *Metrics) finished(succeeded bool) {
	if m == nil {
		return
	}
	m.RunningTasks.Dec()
	if succeeded {
		m.TasksSucceeded.Inc()
	} else {
		m.TasksFailed.Inc()
	}
}

func (m *Metrics) retried() {
	if m != nil {
		m.TaskRetries.Inc()
	}
}

func (m *Metrics) terminal(status string) {
	if m != nil {
		m.Executions.WithLabelValues(status).Inc()
	}
}
