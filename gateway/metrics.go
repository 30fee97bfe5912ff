package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	txnRead  = "read"
	txnWrite = "write"
	txnRenew = "renew"
)

// Metrics counts transactions, operations and call outcomes. A nil
// *Metrics records nothing. One Metrics can be shared by many handles.
type Metrics struct {
	transactions    *prometheus.CounterVec
	renewalFailures prometheus.Counter
	operations      *prometheus.CounterVec
	statuses        *prometheus.CounterVec
}

// NewMetrics creates the gateway collectors and registers them
// with registerer. It panics if registration fails.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvgate_transactions_total",
				Help: "Total number of transactions started or renewed",
			},
			[]string{"kind"},
		),
		renewalFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kvgate_renewal_failures_total",
				Help: "Total number of suspended read transactions that could not be renewed",
			},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvgate_operations_total",
				Help: "Total number of operations executed",
			},
			[]string{"op"},
		),
		statuses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvgate_calls_total",
				Help: "Total number of gateway calls by outcome",
			},
			[]string{"call", "status"},
		),
	}

	registerer.MustRegister(
		metrics.transactions,
		metrics.renewalFailures,
		metrics.operations,
		metrics.statuses,
	)

	return metrics
}

func (metrics *Metrics) transaction(kind string) {
	if metrics == nil {
		return
	}

	metrics.transactions.WithLabelValues(kind).Inc()
}

func (metrics *Metrics) renewalFailed() {
	if metrics == nil {
		return
	}

	metrics.renewalFailures.Inc()
}

func (metrics *Metrics) operation(code OpCode) {
	if metrics == nil {
		return
	}

	metrics.operations.WithLabelValues(code.String()).Inc()
}

func (metrics *Metrics) status(call string, status Status) {
	if metrics == nil {
		return
	}

	metrics.statuses.WithLabelValues(call, status.String()).Inc()
}
