package childmon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds optional prometheus instrumentation for a Monitor. A nil
// *Metrics records nothing.
type Metrics struct {
	reaped prometheus.Counter
}

// NewMetrics registers childmon instrumentation against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	reaped := promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "childmon_reaped_children_total",
		Help: "Total number of monitored child processes reaped.",
	})
	return &Metrics{reaped: reaped}
}

func (m *Metrics) incReaped() {
	if m != nil {
		m.reaped.Inc()
	}
}
