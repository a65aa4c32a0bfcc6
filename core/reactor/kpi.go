package reactor

import (
	"context"
	"fmt"

	"github.com/kilianp07/routesync/core/events"
	"github.com/kilianp07/routesync/core/logger"
	"github.com/kilianp07/routesync/core/metrics"
	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/store"
	"github.com/kilianp07/routesync/internal/clock"
)

// KPIAccumulator recomputes the completing driver's DailyKPI from scratch so
// that duplicate or reordered signals converge on the same row.
type KPIAccumulator struct {
	kpis  store.KPIs
	sink  metrics.KPISink
	date  func(model.Route) string
	clock clock.Clock
	log   logger.Logger
}

// NewKPIAccumulator wires the accumulator. today supplies the date for
// routes that carry none.
func NewKPIAccumulator(kpis store.KPIs, sink metrics.KPISink, today func() string, clk clock.Clock, log logger.Logger) *KPIAccumulator {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	date := func(r model.Route) string {
		if r.Date != "" {
			return r.Date
		}
		return today()
	}
	return &KPIAccumulator{kpis: kpis, sink: sink, date: date, clock: clk, log: log}
}

func (k *KPIAccumulator) Name() string { return "kpi_accumulator" }

func (k *KPIAccumulator) Handle(ctx context.Context, ev events.StopStatusChanged) error {
	if !ev.Completed() {
		return nil
	}
	driver, route := ev.Actor, ev.Route
	key := model.KPIKey{DriverID: driver.ID, Date: k.date(route)}
	owns := func(s model.Stop) bool { return s.AssignedTo(route, driver.ID, driver.Username) }
	row, err := k.kpis.RecomputeKPI(ctx, route.ID, key, owns, k.clock.Now())
	if err != nil {
		return fmt.Errorf("recompute kpi %s/%s: %w", key.DriverID, key.Date, err)
	}
	k.log.Debugw("daily kpi recomputed", map[string]any{
		"driver_id": row.DriverID,
		"date":      row.Date,
		"completed": row.StopsCompleted,
		"total":     row.StopsTotal,
	})
	if err := k.sink.RecordDailyKPI(row); err != nil {
		return fmt.Errorf("export kpi: %w", err)
	}
	return nil
}
