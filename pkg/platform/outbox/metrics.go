package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts relay outcomes per topic.
type Metrics struct {
	Published *prometheus.CounterVec
	Failed    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webkart_outbox_published_total",
			Help: "Outbox entries published to the broker",
		}, []string{"topic"}),
		Failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webkart_outbox_publish_failures_total",
			Help: "Outbox publish attempts that failed",
		}, []string{"topic"}),
	}
}

func (m *Metrics) IncPublished(topic string) {
	if m != nil {
		m.Published.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) IncFailed(topic string) {
	if m != nil {
		m.Failed.WithLabelValues(topic).Inc()
	}
}
