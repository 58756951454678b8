package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveTransition("Draft", "Sent", "accepted", time.Millisecond)
	m.ObserveTransition("Draft", "Sent", "accepted", time.Millisecond)
	m.GateFailed("payment-approval")
	m.TriggerHandled("payment-approved", "noop")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("Draft", "Sent", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gateFailures.WithLabelValues("payment-approval")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.triggerEvents.WithLabelValues("payment-approved", "noop")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("a", "b", "c", 0)
	m.GateFailed("x")
	m.TriggerHandled("k", "o")
	m.ObserverFailed("o")
	assert.Nil(t, m.Registry())
	assert.NotNil(t, m.Handler())
}
