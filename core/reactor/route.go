package reactor

import (
	"context"
	"fmt"

	"github.com/kilianp07/routesync/core/events"
	"github.com/kilianp07/routesync/core/logger"
	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/store"
	"github.com/kilianp07/routesync/internal/clock"
)

// RoutePublisher receives route signals.
type RoutePublisher interface {
	Publish(events.RouteStatusChanged)
}

// RouteAggregator derives route status from stop statuses. Route status only
// moves forward; every write is conditional so a repeated signal changes
// nothing and publishes nothing.
type RouteAggregator struct {
	stops   store.Stops
	routes  store.Routes
	signals RoutePublisher
	clock   clock.Clock
	log     logger.Logger
}

// NewRouteAggregator wires the aggregator.
func NewRouteAggregator(stops store.Stops, routes store.Routes, signals RoutePublisher, clk clock.Clock, log logger.Logger) *RouteAggregator {
	if clk == nil {
		clk = clock.Real()
	}
	return &RouteAggregator{stops: stops, routes: routes, signals: signals, clock: clk, log: log}
}

func (a *RouteAggregator) Name() string { return "route_aggregator" }

func (a *RouteAggregator) Handle(ctx context.Context, ev events.StopStatusChanged) error {
	routeID := ev.Stop.RouteID
	if ev.Stop.Status.Started() {
		if err := a.advance(ctx, routeID, []model.RouteStatus{model.RoutePending}, model.RouteInProgress); err != nil {
			return err
		}
	}
	if ev.Stop.Status != model.StopCompleted && ev.Stop.Status != model.StopCancelled {
		return nil
	}
	stops, err := a.stops.ListRouteStops(ctx, routeID)
	if err != nil {
		return fmt.Errorf("list stops of route %s: %w", routeID, err)
	}
	if !model.Complete(stops) {
		return nil
	}
	return a.advance(ctx, routeID, []model.RouteStatus{model.RoutePending, model.RouteInProgress}, model.RouteCompleted)
}

func (a *RouteAggregator) advance(ctx context.Context, routeID string, from []model.RouteStatus, to model.RouteStatus) error {
	now := a.clock.Now()
	changed, err := a.routes.AdvanceRouteStatus(ctx, routeID, from, to, now)
	if err != nil {
		return fmt.Errorf("route %s -> %s: %w", routeID, to, err)
	}
	if !changed {
		return nil
	}
	route, err := a.routes.GetRoute(ctx, routeID)
	if err != nil {
		return fmt.Errorf("reload route %s: %w", routeID, err)
	}
	a.log.Infof("route %s is now %s", routeID, to)
	if a.signals != nil {
		a.signals.Publish(events.RouteStatusChanged{Route: route, At: now})
	}
	return nil
}
