package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Decisions by rule and outcome (allowed, denied, error).
	Decisions *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "webkart_ratelimit_decisions_total",
			Help: "Rate limit decisions by rule and outcome",
		}, []string{"rule", "outcome"}),
	}
}

func (m *Metrics) IncDecision(rule, outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(rule, outcome).Inc()
}
