package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP level Prometheus metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	OutboxRelayed   prometheus.Counter
	OutboxErrors    prometheus.Counter
	RateLimited     *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bondledger_http_requests_total",
			Help: "HTTP requests by route and status class",
		}, []string{"method", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bondledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		OutboxRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bondledger_outbox_relayed_total",
			Help: "Notifications relayed from the outbox",
		}),
		OutboxErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "bondledger_outbox_relay_errors_total",
			Help: "Failed outbox relay attempts",
		}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bondledger_rate_limited_total",
			Help: "Requests rejected by the rate limiter by route class",
		}, []string{"class"}),
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, seconds float64) {
	m.RequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(seconds)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
