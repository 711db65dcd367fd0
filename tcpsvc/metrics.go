package tcpsvc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds optional prometheus instrumentation for a Listener/Client.
// A nil *Metrics records nothing.
type Metrics struct {
	accepted prometheus.Counter
	dropped  prometheus.Counter
	connects prometheus.Counter
}

// NewMetrics registers tcpsvc instrumentation against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		accepted: f.NewCounter(prometheus.CounterOpts{
			Name: "tcpsvc_accepted_connections_total",
			Help: "Total number of accepted inbound connections.",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "tcpsvc_dropped_connections_total",
			Help: "Total number of connections dropped (peer close, error, or admission rejection).",
		}),
		connects: f.NewCounter(prometheus.CounterOpts{
			Name: "tcpsvc_outbound_connects_total",
			Help: "Total number of outbound connect attempts started.",
		}),
	}
}

func (m *Metrics) incAccepted() {
	if m != nil {
		m.accepted.Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) incConnects() {
	if m != nil {
		m.connects.Inc()
	}
}
