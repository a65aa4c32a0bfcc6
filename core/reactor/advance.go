package reactor

import (
	"context"
	"fmt"

	"github.com/kilianp07/routesync/core/events"
	"github.com/kilianp07/routesync/core/logger"
	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/store"
)

// Advancer performs the system transition of a stop.
type Advancer interface {
	Advance(ctx context.Context, stop model.Stop, route model.Route, to model.StopStatus, onBehalfOf model.Actor) (model.Stop, bool, error)
}

// AutoAdvancer starts the completing driver's next stop.
type AutoAdvancer struct {
	stops    store.Stops
	advancer Advancer
	log      logger.Logger
}

// NewAutoAdvancer wires the scheduler.
func NewAutoAdvancer(stops store.Stops, advancer Advancer, log logger.Logger) *AutoAdvancer {
	return &AutoAdvancer{stops: stops, advancer: advancer, log: log}
}

func (a *AutoAdvancer) Name() string { return "auto_advance" }

// Handle picks the first open stop after the completed one, in sequence
// order, that belongs to the same driver. A candidate already past PENDING
// means a previous run or the driver got there first, so nothing is written.
func (a *AutoAdvancer) Handle(ctx context.Context, ev events.StopStatusChanged) error {
	if !ev.Completed() {
		return nil
	}
	stops, err := a.stops.ListRouteStops(ctx, ev.Stop.RouteID)
	if err != nil {
		return fmt.Errorf("list stops of route %s: %w", ev.Stop.RouteID, err)
	}
	next, ok := NextFor(stops, ev.Stop, ev.Route, ev.Actor)
	if !ok || next.Status != model.StopPending {
		return nil
	}
	advanced, moved, err := a.advancer.Advance(ctx, next, ev.Route, model.StopOnTheWay, ev.Actor)
	if err != nil {
		return err
	}
	if moved {
		a.log.Debugw("auto-advanced stop", map[string]any{
			"stop_id":   advanced.ID,
			"route_id":  advanced.RouteID,
			"driver_id": ev.Actor.ID,
			"after":     ev.Stop.ID,
		})
	}
	return nil
}

// NextFor returns the first non-terminal stop after done, in sequence order,
// assigned to driver. stops must be ordered by sequence.
func NextFor(stops []model.Stop, done model.Stop, route model.Route, driver model.Actor) (model.Stop, bool) {
	for _, s := range stops {
		if s.ID == done.ID || s.Sequence <= done.Sequence || s.Status.Terminal() {
			continue
		}
		if !s.AssignedTo(route, driver.ID, driver.Username) {
			continue
		}
		return s, true
	}
	return model.Stop{}, false
}
