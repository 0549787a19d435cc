package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification module.
type Metrics struct {
	SessionsCreated prometheus.Counter

	// Transition attempts by operation and outcome
	// (advanced, noop, out_of_order, failed).
	Transitions *prometheus.CounterVec

	// OTP validation verdicts (accepted, expired, mismatch, ...).
	OTPVerdicts *prometheus.CounterVec

	// Collaborator call latency by dependency (notifier, directory, photo_store).
	CollaboratorLatency *prometheus.HistogramVec

	SessionsPurged prometheus.Counter
}

// New registers the verification metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "webkart_verification_sessions_created_total",
			Help: "Verification sessions created",
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webkart_verification_transitions_total",
			Help: "Verification transition attempts by operation and outcome",
		}, []string{"operation", "outcome"}),
		OTPVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webkart_verification_otp_verdicts_total",
			Help: "OTP submissions by verdict",
		}, []string{"verdict"}),
		CollaboratorLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webkart_verification_collaborator_duration_seconds",
			Help:    "Duration of calls to external collaborators",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"collaborator", "result"}),
		SessionsPurged: factory.NewCounter(prometheus.CounterOpts{
			Name: "webkart_verification_sessions_purged_total",
			Help: "Idle verification sessions removed by the sweeper",
		}),
	}
}

func (m *Metrics) IncSessionsCreated() {
	if m != nil {
		m.SessionsCreated.Inc()
	}
}

func (m *Metrics) IncTransition(operation, outcome string) {
	if m != nil {
		m.Transitions.WithLabelValues(operation, outcome).Inc()
	}
}

func (m *Metrics) IncOTPVerdict(verdict string) {
	if m != nil {
		m.OTPVerdicts.WithLabelValues(verdict).Inc()
	}
}

// ObserveCollaborator records the duration since start of a collaborator call.
func (m *Metrics) ObserveCollaborator(collaborator string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CollaboratorLatency.WithLabelValues(collaborator, result).Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddPurged(n int) {
	if m != nil {
		m.SessionsPurged.Add(float64(n))
	}
}
