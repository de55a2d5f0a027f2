// Package metrics exposes the engine's Prometheus counters.  A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "raffle"

type Metrics struct {
	reservations    *prometheus.CounterVec
	claims          *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	anomalies       *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	commissions     prometheus.Counter
	gatewayRequests *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
}

// New creates the collectors and registers them on registerer.  A nil
// registerer means prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Ticket reservation attempts by result.",
		}, []string{"result"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_claims_total",
			Help:      "Pool claim allocation attempts by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Applied order and claim status transitions.",
		}, []string{"record", "to"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_anomalies_total",
			Help:      "Reconciliation anomalies recorded by kind.",
		}, []string{"kind"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Draw settlements by outcome.",
		}, []string{"outcome"}),
		commissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_lines_total",
			Help:      "Commission lines persisted.",
		}),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Payment gateway requests by operation and result.",
		}, []string{"operation", "result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and result.",
		}, []string{"job", "result"}),
	}
	registerer.MustRegister(
		m.reservations, m.claims, m.transitions, m.anomalies,
		m.settlements, m.commissions, m.gatewayRequests, m.jobRuns,
	)
	return m
}

func (m *Metrics) Reservation(result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(result).Inc()
}

func (m *Metrics) Claim(result string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(result).Inc()
}

// Transition counts an applied status change; record is "order" or "claim".
func (m *Metrics) Transition(record, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(record, to).Inc()
}

func (m *Metrics) Anomaly(kind string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(kind).Inc()
}

func (m *Metrics) Settlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Commissions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.commissions.Add(float64(n))
}

func (m *Metrics) GatewayRequest(operation, result string) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) JobRun(job, result string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}
