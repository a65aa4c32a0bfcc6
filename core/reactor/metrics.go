package reactor

import "github.com/prometheus/client_golang/prometheus"

var (
	handled       *prometheus.CounterVec
	degradedTotal *prometheus.CounterVec
)

func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec) {
	h := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reactor_events_handled_total",
		Help: "Signals delivered to each reactor",
	}, []string{"reactor"})
	d := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reactor_degraded_total",
		Help: "Side effects that failed after the transition committed",
	}, []string{"reactor"})
	return h, d
}

func init() {
	handled, degradedTotal = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers reactor metrics on reg, or the default
// registerer when reg is nil.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(handled, degradedTotal)
}

// ResetMetrics reinitializes collectors for tests.
func ResetMetrics(reg prometheus.Registerer) {
	handled, degradedTotal = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
