package metrics

import (
	coremetrics "github.com/kilianp07/routesync/core/metrics"
)

// NewKPISink builds the sinks enabled in cfg. With none enabled it returns a
// NopSink.
func NewKPISink(cfg coremetrics.Config) (coremetrics.KPISink, error) {
	var sinks []coremetrics.KPISink
	if cfg.PrometheusEnabled {
		s, err := NewPromSink()
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Influx.Enabled {
		sinks = append(sinks, NewInfluxSinkWithFallback(cfg.Influx))
	}
	return coremetrics.NewMultiSink(sinks...), nil
}

// CloseSink releases the clients held by a sink built with NewKPISink.
func CloseSink(s coremetrics.KPISink) {
	switch v := s.(type) {
	case *InfluxSink:
		v.Close()
	case *coremetrics.MultiSink:
		for _, inner := range v.Sinks {
			CloseSink(inner)
		}
	}
}
