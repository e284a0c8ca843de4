// Package observability wires Prometheus metrics and OpenTelemetry spans
// into the accounts service.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	accounts "github.com/goliatone/go-accounts"
)

// Metrics holds the service collectors
type Metrics struct {
	ActivityEvents  *prometheus.CounterVec
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the accounts metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActivityEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_activity_events_total",
				Help: "Total number of account lifecycle events by type",
			},
			[]string{"event"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_http_requests_total",
				Help: "Total number of HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accounts_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(m.ActivityEvents)
	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)

	return m
}

// ActivitySink counts every lifecycle event. It never fails, so it can sit
// next to other sinks in an accounts.MultiActivitySink.
func (m *Metrics) ActivitySink() accounts.ActivitySink {
	return accounts.ActivitySinkFunc(func(_ context.Context, event accounts.ActivityEvent) error {
		m.ActivityEvents.WithLabelValues(string(event.EventType)).Inc()
		return nil
	})
}
