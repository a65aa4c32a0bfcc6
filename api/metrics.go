package api

import "github.com/prometheus/client_golang/prometheus"

var (
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	idempotentReplays prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.HistogramVec, prometheus.Counter) {
	req := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "REST requests by route template, method and status code",
		},
		[]string{"route", "method", "code"},
	)
	dur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "REST request latency by route template",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	replay := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "http_idempotent_replays_total",
			Help: "Transition requests answered from the Idempotency-Key cache",
		},
	)
	return req, dur, replay
}

func init() {
	httpRequests, httpDuration, idempotentReplays = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers API metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(httpRequests, httpDuration, idempotentReplays)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	httpRequests, httpDuration, idempotentReplays = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
