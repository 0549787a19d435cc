package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the report registry.
type Metrics struct {
	ReportsSubmitted prometheus.Counter
	// Rejected submissions by error code.
	ReportsRejected *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReportsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "webkart_reports_submitted_total",
			Help: "Reports accepted and persisted",
		}),
		ReportsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webkart_reports_rejected_total",
			Help: "Report submissions rejected, by error code",
		}, []string{"code"}),
	}
}

func (m *Metrics) IncSubmitted() {
	if m != nil {
		m.ReportsSubmitted.Inc()
	}
}

func (m *Metrics) IncRejected(code string) {
	if m != nil {
		m.ReportsRejected.WithLabelValues(code).Inc()
	}
}
