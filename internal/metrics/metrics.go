// Package metrics holds the prometheus collectors for upstream traffic.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Upstream names used as label values.
const (
	UpstreamREST = "rest"
	UpstreamSOAP = "soap"
)

// Metrics contains the gateway's collectors.
type Metrics struct {
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	LinksSynthesized *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Upstream calls by upstream, method and response status",
			},
			[]string{"upstream", "method", "status"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Subsystem: "upstream",
				Name:      "request_duration_seconds",
				Help:      "Upstream call latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"upstream", "method"},
		),
		UpstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "upstream",
				Name:      "errors_total",
				Help:      "Upstream calls that produced no response, by kind",
			},
			[]string{"upstream", "kind"},
		),
		LinksSynthesized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "hypermedia",
				Name:      "enriched_responses_total",
				Help:      "Responses passed through the link enricher, by resource type",
			},
			[]string{"resource"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.UpstreamRequests, m.UpstreamDuration, m.UpstreamErrors, m.LinksSynthesized)
	}
	return m
}

// ObserveCall records one completed upstream exchange. A nil receiver is a no-op.
func (m *Metrics) ObserveCall(upstream, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(upstream, method, strconv.Itoa(status)).Inc()
	m.UpstreamDuration.WithLabelValues(upstream, method).Observe(elapsed.Seconds())
}

// ObserveError records an upstream call that failed before a response arrived.
func (m *Metrics) ObserveError(upstream, kind string) {
	if m == nil {
		return
	}
	m.UpstreamErrors.WithLabelValues(upstream, kind).Inc()
}

// ObserveEnriched counts one enriched response.
func (m *Metrics) ObserveEnriched(resource string) {
	if m == nil {
		return
	}
	m.LinksSynthesized.WithLabelValues(resource).Inc()
}
