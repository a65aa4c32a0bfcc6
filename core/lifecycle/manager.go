// Package lifecycle owns the stop state machine: it authorizes transitions,
// persists them with compare-and-swap updates and publishes the resulting
// domain signal for the reactors.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/routesync/core/errs"
	"github.com/kilianp07/routesync/core/events"
	"github.com/kilianp07/routesync/core/logger"
	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/safety"
	"github.com/kilianp07/routesync/core/store"
	"github.com/kilianp07/routesync/internal/clock"
)

// Publisher receives stop signals. Publish must not block.
type Publisher interface {
	Publish(events.StopStatusChanged)
}

// Manager applies stop transitions.
type Manager struct {
	stops   store.Stops
	routes  store.Routes
	gate    *safety.Gate
	signals Publisher
	clock   clock.Clock
	log     logger.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for timestamps.
func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(m *Manager) { m.log = l } }

// NewManager wires a Manager. signals may be nil when no reactor listens.
func NewManager(stops store.Stops, routes store.Routes, gate *safety.Gate, signals Publisher, log logger.Logger, opts ...Option) *Manager {
	m := &Manager{stops: stops, routes: routes, gate: gate, signals: signals, clock: clock.Real(), log: log}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Transition moves stopID to the requested status on behalf of actor. A lost
// compare-and-swap is retried once against a fresh read; if the stop moved in
// the meantime the caller gets ConflictingUpdate.
func (m *Manager) Transition(ctx context.Context, stopID string, to model.StopStatus, actor model.Actor) (stop model.Stop, err error) {
	start := time.Now()
	defer func() {
		transitionDuration.Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = string(errs.KindOf(err))
			if outcome == "" {
				outcome = "error"
			}
		}
		transitionsTotal.WithLabelValues(string(to), outcome).Inc()
	}()

	stop, err = m.attempt(ctx, stopID, to, actor, false)
	if errs.Is(err, errs.ConflictingUpdate) {
		conflictRetries.Inc()
		m.log.Debugw("retrying stop transition after conflict", map[string]any{"stop_id": stopID, "status": to})
		stop, err = m.attempt(ctx, stopID, to, actor, true)
	}
	return stop, err
}

func (m *Manager) attempt(ctx context.Context, stopID string, to model.StopStatus, actor model.Actor, retry bool) (model.Stop, error) {
	cur, route, err := m.load(ctx, stopID)
	if err != nil {
		return model.Stop{}, err
	}
	if err := authorize(cur, route, actor); err != nil {
		return model.Stop{}, err
	}
	if err := m.gate.Require(ctx, cur.RouteID, actor.ID); err != nil {
		return model.Stop{}, err
	}
	if !model.CanTransition(cur.Status, to) {
		if retry {
			return model.Stop{}, errs.E(errs.ConflictingUpdate, "stop %s moved to %s concurrently", stopID, cur.Status)
		}
		return model.Stop{}, errs.E(errs.InvalidTransition, "cannot move stop %s from %s to %s", stopID, cur.Status, to)
	}
	now := m.clock.Now()
	updated, err := m.stops.CompareAndSetStopStatus(ctx, stopID, cur.Status, to, now)
	if err != nil {
		return model.Stop{}, fmt.Errorf("transition stop %s: %w", stopID, err)
	}
	m.publish(events.StopStatusChanged{
		Stop:     updated,
		Route:    route,
		Previous: cur.Status,
		Actor:    actor,
		Source:   events.SourceDriver,
		At:       now,
	})
	return updated, nil
}

// Advance is the system path used by auto-advance: it skips actor and gate
// checks but keeps the conditional write. A lost race is reported as
// advanced=false without error.
func (m *Manager) Advance(ctx context.Context, stop model.Stop, route model.Route, to model.StopStatus, onBehalfOf model.Actor) (model.Stop, bool, error) {
	if !model.CanTransition(stop.Status, to) {
		return stop, false, nil
	}
	now := m.clock.Now()
	updated, err := m.stops.CompareAndSetStopStatus(ctx, stop.ID, stop.Status, to, now)
	if errs.Is(err, errs.ConflictingUpdate) {
		return stop, false, nil
	}
	if err != nil {
		return stop, false, fmt.Errorf("advance stop %s: %w", stop.ID, err)
	}
	transitionsTotal.WithLabelValues(string(to), "auto").Inc()
	m.publish(events.StopStatusChanged{
		Stop:     updated,
		Route:    route,
		Previous: stop.Status,
		Actor:    onBehalfOf,
		Source:   events.SourceAuto,
		At:       now,
	})
	return updated, true, nil
}

func (m *Manager) load(ctx context.Context, stopID string) (model.Stop, model.Route, error) {
	stop, err := m.stops.GetStop(ctx, stopID)
	if err != nil {
		return model.Stop{}, model.Route{}, err
	}
	route, err := m.routes.GetRoute(ctx, stop.RouteID)
	if err != nil {
		return model.Stop{}, model.Route{}, fmt.Errorf("route of stop %s: %w", stopID, err)
	}
	return stop, route, nil
}

func (m *Manager) publish(ev events.StopStatusChanged) {
	if m.signals == nil {
		return
	}
	m.signals.Publish(ev)
}

func authorize(stop model.Stop, route model.Route, actor model.Actor) error {
	if !actor.Can(model.CapDriver) {
		return errs.E(errs.NotAuthorized, "only drivers may update stops")
	}
	if !stop.AssignedTo(route, actor.ID, actor.Username) {
		return errs.E(errs.NotAuthorized, "stop %s is not assigned to driver %s", stop.ID, actor.ID)
	}
	return nil
}
