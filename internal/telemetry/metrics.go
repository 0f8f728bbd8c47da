package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taskflow"

// Metrics — Prometheus метрики выполнения flow и доски.
type Metrics struct {
	FlowsTotal         *prometheus.CounterVec
	FlowDuration       *prometheus.HistogramVec
	TasksTotal         *prometheus.CounterVec
	CompensationsTotal *prometheus.CounterVec
	JobsPosted         prometheus.Counter
	JobsErased         prometheus.Counter
	JobsClaimed        prometheus.Counter
}

// NewMetrics создаёт и регистрирует метрики в reg.
// nil reg — метрики без регистрации (тесты, CLI).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FlowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_total",
			Help:      "Flows finished, by final state",
		}, []string{"flow", "state"}),
		FlowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_duration_seconds",
			Help:      "Flow run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"flow"}),
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Tasks executed, by outcome",
		}, []string{"flow", "outcome"}),
		CompensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Task reverts, by outcome",
		}, []string{"flow", "outcome"}),
		JobsPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_posted_total",
			Help:      "Jobs posted to the board",
		}),
		JobsErased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_erased_total",
			Help:      "Finished jobs erased from the board",
		}),
		JobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Jobs claimed by this process",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.FlowsTotal,
			m.FlowDuration,
			m.TasksTotal,
			m.CompensationsTotal,
			m.JobsPosted,
			m.JobsErased,
			m.JobsClaimed,
		)
	}
	return m
}

// ObserveFlow записывает итог и длительность flow.
func (m *Metrics) ObserveFlow(flow, state string, d time.Duration) {
	m.FlowsTotal.WithLabelValues(flow, state).Inc()
	m.FlowDuration.WithLabelValues(flow).Observe(d.Seconds())
}

// ObserveTask записывает итог задачи.
func (m *Metrics) ObserveTask(flow, outcome string) {
	m.TasksTotal.WithLabelValues(flow, outcome).Inc()
}

// ObserveCompensation записывает итог отката задачи.
func (m *Metrics) ObserveCompensation(flow, outcome string) {
	m.CompensationsTotal.WithLabelValues(flow, outcome).Inc()
}
