package metrics

import (
	"testing"
	"time"

	"github.com/alapierre/go-irp-client/irp/quota"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("generate", "ok", 120*time.Millisecond)
	m.ObserveRequest("generate", "transient", time.Second)
	m.IncrementRetry("generate")
	m.QuotaWait(quota.Second, 300*time.Millisecond)
	m.QuotaRejected(quota.Day)
	m.IncrementTokenAcquisition(true)
	m.IncrementTokenAcquisition(false)
	m.IncrementRegistration("cancel", true)
	m.IncrementAuditFailure()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("generate", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("generate", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries.WithLabelValues("generate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotaWaits.WithLabelValues("second")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotaRejections.WithLabelValues("day")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenAcquisitions.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Registrations.WithLabelValues("cancel", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditFailures))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("fetch", "ok", time.Second)
		m.IncrementRetry("fetch")
		m.QuotaWait(quota.Minute, time.Second)
		m.QuotaRejected(quota.Hour)
		m.IncrementTokenAcquisition(true)
		m.IncrementRegistration("generate", false)
		m.ObserveBulkSize(3)
		m.IncrementAuditFailure()
	})
}

func TestMetrics_ImplementsQuotaObserver(t *testing.T) {
	var _ quota.Observer = New(prometheus.NewRegistry())
}
