package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// methodOther labels every method outside the dispatch table.
const methodOther = "other"

// Metrics are the host's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Requests counts host dispatches by method and outcome (ok, error, unsupported).
	Requests *prometheus.CounterVec
	// ApprovalWait observes how long sensitive requests waited for the user.
	ApprovalWait *prometheus.HistogramVec
	// Connections is the number of origins currently connected.
	Connections prometheus.Gauge
}

// NewMetrics builds the host collectors and registers them on reg when it
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_bridge_requests_total",
			Help: "Provider requests dispatched by the host.",
		}, []string{"method", "outcome"}),
		ApprovalWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_bridge_approval_wait_seconds",
			Help:    "Time sensitive requests spent waiting for a user decision.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300},
		}, []string{"kind"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_bridge_connections",
			Help: "Origins currently connected to the wallet.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.ApprovalWait, m.Connections)
	}
	return m
}

// methodLabel keeps the method label to the known methods.
func methodLabel(method string) string {
	switch method {
	case MethodAccounts, MethodRequestAccounts, MethodSendTransaction, MethodPersonalSign, MethodSignTypedDataV4:
		return method
	}
	return methodOther
}

func (m *Metrics) request(method, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(methodLabel(method), outcome).Inc()
}

func (m *Metrics) approvalWait(kind string, since time.Time) {
	if m == nil {
		return
	}
	m.ApprovalWait.WithLabelValues(kind).Observe(time.Since(since).Seconds())
}

func (m *Metrics) connections(n int) {
	if m == nil {
		return
	}
	m.Connections.Set(float64(n))
}

// ProviderMetrics are the dapp side's collectors: calls in flight and
// calls lost to the timeout. A nil *ProviderMetrics records nothing.
type ProviderMetrics struct {
	// PendingCalls is the number of provider calls awaiting a response.
	PendingCalls prometheus.Gauge
	// Timeouts counts provider calls rejected by their timer.
	Timeouts prometheus.Counter
}

// NewProviderMetrics builds the provider collectors and registers them on
// reg when it is not nil.
func NewProviderMetrics(reg prometheus.Registerer) *ProviderMetrics {
	m := &ProviderMetrics{
		PendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_bridge_provider_pending_calls",
			Help: "Provider calls awaiting a response.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_bridge_provider_timeouts_total",
			Help: "Provider calls rejected because no response arrived in time.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.PendingCalls, m.Timeouts)
	}
	return m
}

func (m *ProviderMetrics) pending(delta float64) {
	if m == nil {
		return
	}
	m.PendingCalls.Add(delta)
}

func (m *ProviderMetrics) timeout() {
	if m == nil {
		return
	}
	m.Timeouts.Inc()
}
