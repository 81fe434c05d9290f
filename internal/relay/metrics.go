package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections prometheus.Gauge
	Forwarded   *prometheus.CounterVec
	Dropped     prometheus.Counter
	Rejected    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicesession",
			Subsystem: "relay",
			Name:      "members",
			Help:      "Authenticated signaling connections.",
		}),
		Forwarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicesession",
			Subsystem: "relay",
			Name:      "forwarded_total",
			Help:      "Messages forwarded to session members, by event.",
		}, []string{"event"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "voicesession",
			Subsystem: "relay",
			Name:      "dropped_members_total",
			Help:      "Members kicked for backpressure.",
		}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicesession",
			Subsystem: "relay",
			Name:      "rejected_total",
			Help:      "Frames or joins answered with session:error, by code.",
		}, []string{"code"}),
	}
}
