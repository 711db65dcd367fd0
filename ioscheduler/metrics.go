package ioscheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the optional prometheus instrumentation for a Scheduler.
// A nil *Metrics is valid everywhere below and simply records nothing,
// matching the teacher's nil-safe metrics-struct convention.
type Metrics struct {
	tasksScheduled  prometheus.Counter
	tasksCompleted  prometheus.Counter
	pumpIterations  prometheus.Counter
	poolExhaustions prometheus.Counter
}

// NewMetrics registers scheduler instrumentation against reg. Pass the
// result to WithMetrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tasksScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "ioscheduler_tasks_scheduled_total",
			Help: "Total number of tasks scheduled.",
		}),
		tasksCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "ioscheduler_tasks_completed_total",
			Help: "Total number of tasks unscheduled after completion.",
		}),
		pumpIterations: f.NewCounter(prometheus.CounterOpts{
			Name: "ioscheduler_pump_iterations_total",
			Help: "Total number of pump loop iterations.",
		}),
		poolExhaustions: f.NewCounter(prometheus.CounterOpts{
			Name: "ioscheduler_pool_exhaustions_total",
			Help: "Total number of CreateTask calls rejected by pool backpressure.",
		}),
	}
}

func (m *Metrics) incScheduled() {
	if m != nil {
		m.tasksScheduled.Inc()
	}
}

func (m *Metrics) incCompleted() {
	if m != nil {
		m.tasksCompleted.Inc()
	}
}

func (m *Metrics) incPump() {
	if m != nil {
		m.pumpIterations.Inc()
	}
}

func (m *Metrics) incExhausted() {
	if m != nil {
		m.poolExhaustions.Inc()
	}
}
