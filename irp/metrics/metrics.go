package metrics

import (
	"time"

	"github.com/alapierre/go-irp-client/irp/quota"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the Registry client. All methods are nil-safe.
type Metrics struct {
	// Outbound attempts by operation and outcome (ok, transient, business, auth, error)
	Requests *prometheus.CounterVec

	// Attempt latency by operation
	RequestLatency *prometheus.HistogramVec

	Retries *prometheus.CounterVec

	QuotaWaits      *prometheus.CounterVec
	QuotaWaitTime   *prometheus.HistogramVec
	QuotaRejections *prometheus.CounterVec

	// Token acquisitions by result (ok, error)
	TokenAcquisitions *prometheus.CounterVec

	// Registration service outcomes by operation and result
	Registrations *prometheus.CounterVec

	BulkSize prometheus.Histogram

	AuditFailures prometheus.Counter
}

// New registers all collectors in reg; nil means the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irp_client_requests_total",
			Help: "Outbound Registry attempts by operation and outcome",
		}, []string{"operation", "outcome"}),

		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "irp_client_request_duration_seconds",
			Help:    "Duration of a single outbound Registry attempt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),

		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irp_client_retries_total",
			Help: "Retries scheduled after a transient failure",
		}, []string{"operation"}),

		QuotaWaits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irp_quota_waits_total",
			Help: "Calls that had to wait for a short quota window to reset",
		}, []string{"window"}),

		QuotaWaitTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "irp_quota_wait_seconds",
			Help:    "Time spent waiting for a quota window",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 5, 15, 30, 60},
		}, []string{"window"}),

		QuotaRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irp_quota_rejections_total",
			Help: "Calls rejected because an hour or day quota was exhausted",
		}, []string{"window"}),

		TokenAcquisitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irp_token_acquisitions_total",
			Help: "Bearer token acquisitions by result",
		}, []string{"result"}),

		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "irp_registration_operations_total",
			Help: "Registration service outcomes by operation and result",
		}, []string{"operation", "result"}),

		BulkSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "irp_registration_bulk_size",
			Help:    "Number of documents per accepted bulk submission",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		AuditFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "irp_audit_write_failures_total",
			Help: "Audit entries that could not be written",
		}),
	}
}

func (m *Metrics) ObserveRequest(operation, outcome string, d time.Duration) {
	if m != nil {
		m.Requests.WithLabelValues(operation, outcome).Inc()
		m.RequestLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementRetry(operation string) {
	if m != nil {
		m.Retries.WithLabelValues(operation).Inc()
	}
}

// QuotaWait implements quota.Observer.
func (m *Metrics) QuotaWait(w quota.Window, d time.Duration) {
	if m != nil {
		m.QuotaWaits.WithLabelValues(w.String()).Inc()
		m.QuotaWaitTime.WithLabelValues(w.String()).Observe(d.Seconds())
	}
}

// QuotaRejected implements quota.Observer.
func (m *Metrics) QuotaRejected(w quota.Window) {
	if m != nil {
		m.QuotaRejections.WithLabelValues(w.String()).Inc()
	}
}

func (m *Metrics) IncrementTokenAcquisition(ok bool) {
	if m != nil {
		m.TokenAcquisitions.WithLabelValues(result(ok)).Inc()
	}
}

func (m *Metrics) IncrementRegistration(operation string, ok bool) {
	if m != nil {
		m.Registrations.WithLabelValues(operation, result(ok)).Inc()
	}
}

func (m *Metrics) ObserveBulkSize(n int) {
	if m != nil {
		m.BulkSize.Observe(float64(n))
	}
}

func (m *Metrics) IncrementAuditFailure() {
	if m != nil {
		m.AuditFailures.Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
