package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	RequestsTotal         *prometheus.CounterVec
	RoutingLatency        *prometheus.HistogramVec
	ConfidentialOverrides prometheus.Counter
	Enhancements          *prometheus.CounterVec
	MessagesTruncated     prometheus.Counter
	RateLimited           prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_requests_total",
			Help: "Total chat requests handled, by routing mode and outcome",
		}, []string{"mode", "model", "status"}),
		RoutingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelgate_routing_latency_ms",
			Help:    "Routing pipeline latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"mode"}),
		ConfidentialOverrides: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modelgate_confidential_overrides_total",
			Help: "Requests pinned to the approved confidential model",
		}),
		Enhancements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_enhancements_total",
			Help: "Prompt enhancement attempts, by outcome",
		}, []string{"accepted"}),
		MessagesTruncated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modelgate_messages_truncated_total",
			Help: "Messages dropped by history truncation",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modelgate_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.RoutingLatency,
		m.ConfidentialOverrides,
		m.Enhancements,
		m.MessagesTruncated,
		m.RateLimited,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
