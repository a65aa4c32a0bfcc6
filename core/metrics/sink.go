package metrics

import (
	"errors"

	"github.com/kilianp07/routesync/core/model"
)

// KPISink receives every recomputed DailyKPI row.
type KPISink interface {
	RecordDailyKPI(k model.DailyKPI) error
}

// NopSink discards records.
type NopSink struct{}

func (NopSink) RecordDailyKPI(model.DailyKPI) error { return nil }

// MultiSink fans records out to several sinks.
type MultiSink struct {
	Sinks []KPISink
}

// NewMultiSink creates a MultiSink, or returns the single sink or a NopSink
// when fewer than two are supplied.
func NewMultiSink(sinks ...KPISink) KPISink {
	switch len(sinks) {
	case 0:
		return NopSink{}
	case 1:
		return sinks[0]
	}
	return &MultiSink{Sinks: sinks}
}

// RecordDailyKPI forwards the record to every sink and joins their errors.
func (m *MultiSink) RecordDailyKPI(k model.DailyKPI) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordDailyKPI(k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
