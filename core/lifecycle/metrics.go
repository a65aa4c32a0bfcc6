package lifecycle

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionsTotal   *prometheus.CounterVec
	conflictRetries    prometheus.Counter
	transitionDuration prometheus.Histogram
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, prometheus.Counter, prometheus.Histogram) {
	tr := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stop_transitions_total",
			Help: "Stop transition attempts by requested status and outcome",
		},
		[]string{"status", "outcome"},
	)
	retry := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stop_transition_conflict_retries_total",
			Help: "Transitions retried after a conditional update lost a race",
		},
	)
	dur := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stop_transition_duration_seconds",
			Help:    "Time spent authorizing and persisting a stop transition",
			Buckets: prometheus.DefBuckets,
		},
	)
	return tr, retry, dur
}

func init() {
	transitionsTotal, conflictRetries, transitionDuration = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers lifecycle metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(transitionsTotal, conflictRetries, transitionDuration)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	transitionsTotal, conflictRetries, transitionDuration = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
