package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RequestsSubmitted  prometheus.Counter
	RequestsAccepted   prometheus.Counter
	RequestsRejected   prometheus.Counter
	RequestsDropped    prometheus.Counter
	AutoProcessed      *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	ConfirmationsSent  prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		RequestsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "enroll_requests_submitted_total",
			Help: "Total number of onboarding requests submitted",
		}),
		RequestsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "enroll_requests_accepted_total",
			Help: "Total number of requests accepted",
		}),
		RequestsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "enroll_requests_rejected_total",
			Help: "Total number of requests rejected",
		}),
		RequestsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "enroll_requests_dropped_total",
			Help: "Total number of requests dropped",
		}),
		AutoProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "enroll_requests_auto_processed_total",
			Help: "Requests decided by profile evaluation, by decision",
		}, []string{"decision"}),
		EvaluationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "enroll_profile_evaluation_duration_seconds",
			Help:    "Duration of translation profile evaluations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ConfirmationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "enroll_confirmations_sent_total",
			Help: "Confirmation requests sent, including resends",
		}),
	}
}

func (m *Metrics) IncrementSubmitted() {
	m.RequestsSubmitted.Inc()
}

func (m *Metrics) IncrementAccepted() {
	m.RequestsAccepted.Inc()
}

func (m *Metrics) IncrementRejected() {
	m.RequestsRejected.Inc()
}

func (m *Metrics) IncrementDropped() {
	m.RequestsDropped.Inc()
}

func (m *Metrics) IncrementAutoProcessed(decision string) {
	m.AutoProcessed.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObserveEvaluation(start time.Time) {
	m.EvaluationDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementConfirmationsSent() {
	m.ConfirmationsSent.Inc()
}
