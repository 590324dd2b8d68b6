package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordBillableEvent("paid_by_credits")
	m.RecordBillableEvent("paid_by_credits")
	m.RecordConfirmation("duplicate")
	m.RecordLedgerTransaction("usage")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.billableEvents.WithLabelValues("paid_by_credits")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.confirmations.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerTransactions.WithLabelValues("usage")))
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordBillableEvent("no_charge")
		m.RecordConfirmation("processed")
		m.RecordLedgerTransaction("recharge")
		m.RecordReconciled("billable_event", "settled")
		m.RecordOutbox("sent")
	})
}
