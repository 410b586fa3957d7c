package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the authority and the
// voice session client.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	ClientEvents    *prometheus.CounterVec
	TransportErrors *prometheus.CounterVec
	QuotaRequests   *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of reserved voice sessions not yet closed.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Authority session events by type.",
		}, []string{"event"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Recorded duration of closed voice sessions.",
			Buckets:   []float64{30, 60, 120, 300, 600, 900, 1800, 3600},
		}),
		ClientEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_events_total",
			Help:      "Voice session orchestrator events by type.",
		}, []string{"event"}),
		TransportErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Voice transport errors by class.",
		}, []string{"class"}),
		QuotaRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_requests_total",
			Help:      "Quota authority calls by operation and outcome.",
		}, []string{"op", "outcome"}),
	}
}

func (m *Metrics) ObserveSessionDuration(seconds int) {
	m.SessionDuration.Observe(float64(seconds))
}

// ClientEvent is nil-safe so callers without metrics can pass nil.
func (m *Metrics) ClientEvent(event string) {
	if m == nil {
		return
	}
	m.ClientEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) TransportError(class string) {
	if m == nil {
		return
	}
	m.TransportErrors.WithLabelValues(class).Inc()
}

func (m *Metrics) QuotaRequest(op, outcome string) {
	if m == nil {
		return
	}
	m.QuotaRequests.WithLabelValues(op, outcome).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
