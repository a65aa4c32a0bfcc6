package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	connections  prometheus.Gauge
	emitted      *prometheus.CounterVec
	dropped      prometheus.Counter
	authFailures prometheus.Counter
	roomRejected *prometheus.CounterVec
)

func newCollectors() (prometheus.Gauge, *prometheus.CounterVec, prometheus.Counter, prometheus.Counter, *prometheus.CounterVec) {
	conns := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections",
		Help: "Open realtime connections",
	})
	em := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_emitted_total",
			Help: "Events queued to connections by event name",
		},
		[]string{"event"},
	)
	dr := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_events_dropped_total",
		Help: "Events dropped because a connection send queue was full",
	})
	af := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_auth_failures_total",
		Help: "Handshakes refused for a missing or invalid token",
	})
	rr := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_room_rejections_total",
			Help: "Room requests answered with room_error",
		},
		[]string{"request"},
	)
	return conns, em, dr, af, rr
}

func init() {
	connections, emitted, dropped, authFailures, roomRejected = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers hub metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(connections, emitted, dropped, authFailures, roomRejected)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	connections, emitted, dropped, authFailures, roomRejected = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
