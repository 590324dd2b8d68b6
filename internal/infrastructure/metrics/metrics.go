package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ledger's domain counters. A nil *Metrics is valid and
// records nothing, so services and tests can run without a registry.
type Metrics struct {
	billableEvents     *prometheus.CounterVec
	confirmations      *prometheus.CounterVec
	ledgerTransactions *prometheus.CounterVec
	reconciled         *prometheus.CounterVec
	outboxPublished    *prometheus.CounterVec
}

// New registers the counters on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		billableEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditledger",
			Name:      "billable_events_total",
			Help:      "Billable events by final status.",
		}, []string{"status"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditledger",
			Name:      "payment_confirmations_total",
			Help:      "Payment confirmations by outcome (processed, duplicate, failed, rejected).",
		}, []string{"outcome"}),
		ledgerTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditledger",
			Name:      "ledger_transactions_total",
			Help:      "Ledger transactions appended by type.",
		}, []string{"type"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditledger",
			Name:      "reconciled_records_total",
			Help:      "Records settled by the reconciliation sweep.",
		}, []string{"kind", "result"}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creditledger",
			Name:      "outbox_messages_total",
			Help:      "Outbox messages by publish result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{m.billableEvents, m.confirmations, m.ledgerTransactions, m.reconciled, m.outboxPublished} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordBillableEvent(status string) {
	if m == nil {
		return
	}
	m.billableEvents.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordConfirmation(outcome string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordLedgerTransaction(txType string) {
	if m == nil {
		return
	}
	m.ledgerTransactions.WithLabelValues(txType).Inc()
}

func (m *Metrics) RecordReconciled(kind, result string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RecordOutbox(result string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(result).Inc()
}
