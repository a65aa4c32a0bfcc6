package lifecycle

import (
	"context"

	"github.com/kilianp07/routesync/core/errs"
	"github.com/kilianp07/routesync/core/model"
)

// GetStop returns a stop. Drivers must be assigned to it and have passed the
// safety gate; admins read freely.
func (m *Manager) GetStop(ctx context.Context, stopID string, actor model.Actor) (model.Stop, error) {
	stop, route, err := m.load(ctx, stopID)
	if err != nil {
		return model.Stop{}, err
	}
	if actor.IsAdmin() {
		return stop, nil
	}
	if err := authorize(stop, route, actor); err != nil {
		return model.Stop{}, err
	}
	if err := m.gate.Require(ctx, stop.RouteID, actor.ID); err != nil {
		return model.Stop{}, err
	}
	return stop, nil
}

// ListRouteStops returns the route's stops ordered by sequence. Drivers see
// only their own stops, after the gate passes.
func (m *Manager) ListRouteStops(ctx context.Context, routeID string, actor model.Actor) ([]model.Stop, error) {
	route, err := m.routes.GetRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	stops, err := m.stops.ListRouteStops(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() {
		return stops, nil
	}
	if !actor.Can(model.CapDriver) {
		return nil, errs.E(errs.NotAuthorized, "role %s cannot read stops", actor.Role)
	}
	memo := m.gate.NewMemo()
	mine := make([]model.Stop, 0, len(stops))
	for _, s := range stops {
		if s.AssignedTo(route, actor.ID, actor.Username) {
			mine = append(mine, s)
		}
	}
	if len(mine) == 0 && route.DriverID != actor.ID {
		return nil, errs.E(errs.NotAuthorized, "route %s is not assigned to driver %s", routeID, actor.ID)
	}
	if err := memo.Require(ctx, routeID, actor.ID); err != nil {
		return nil, err
	}
	return mine, nil
}
