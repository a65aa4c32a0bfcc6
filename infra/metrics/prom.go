package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/routesync/core/metrics"
	"github.com/kilianp07/routesync/core/model"
)

// PromSink exposes the latest DailyKPI of every driver as gauges.
type PromSink struct {
	completed *prometheus.GaugeVec
	total     *prometheus.GaugeVec
	delivered *prometheus.GaugeVec
}

// NewPromSink registers KPI gauges on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink() (coremetrics.KPISink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := []string{"driver_id", "date"}
	completed, err := registerGauge(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "driver_stops_completed",
		Help: "Stops completed by a driver on a given day",
	}, labels))
	if err != nil {
		return nil, err
	}
	total, err := registerGauge(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "driver_stops_total",
		Help: "Live stops assigned to a driver on a given day",
	}, labels))
	if err != nil {
		return nil, err
	}
	delivered, err := registerGauge(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "driver_delivered_amount",
		Help: "Amount delivered by a driver on a given day",
	}, labels))
	if err != nil {
		return nil, err
	}
	return &PromSink{completed: completed, total: total, delivered: delivered}, nil
}

func registerGauge(reg prometheus.Registerer, g *prometheus.GaugeVec) (*prometheus.GaugeVec, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.GaugeVec), nil
		}
		return nil, err
	}
	return g, nil
}

// RecordDailyKPI sets the gauges for the row's driver and day.
func (s *PromSink) RecordDailyKPI(k model.DailyKPI) error {
	s.completed.WithLabelValues(k.DriverID, k.Date).Set(float64(k.StopsCompleted))
	s.total.WithLabelValues(k.DriverID, k.Date).Set(float64(k.StopsTotal))
	s.delivered.WithLabelValues(k.DriverID, k.Date).Set(k.TotalDelivered)
	return nil
}
