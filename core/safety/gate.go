// Package safety implements the start-of-day gate that must pass before a
// driver may read or mutate stops on a route.
package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/routesync/core/errs"
	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/store"
	"github.com/kilianp07/routesync/internal/clock"
)

// Gate answers whether a driver cleared today's check for a route. Results
// are never cached between calls; use Memo for per-request reuse.
type Gate struct {
	checks store.SafetyChecks
	loc    *time.Location
	clock  clock.Clock
}

// NewGate builds a Gate whose calendar day is evaluated in loc.
func NewGate(checks store.SafetyChecks, loc *time.Location, clk clock.Clock) *Gate {
	if loc == nil {
		loc = time.Local
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Gate{checks: checks, loc: loc, clock: clk}
}

// Today returns the current local calendar day.
func (g *Gate) Today() string { return model.Day(g.clock.Now(), g.loc) }

// IsSatisfied reports whether a START_OF_DAY check exists for today.
func (g *Gate) IsSatisfied(ctx context.Context, routeID, driverID string) (bool, error) {
	ok, err := g.checks.HasSafetyCheck(ctx, routeID, driverID, model.StartOfDay, g.Today())
	if err != nil {
		return false, fmt.Errorf("safety gate: %w", err)
	}
	return ok, nil
}

// Require returns a SafetyCheckRequired error carrying routeID when the gate
// is not satisfied.
func (g *Gate) Require(ctx context.Context, routeID, driverID string) error {
	ok, err := g.IsSatisfied(ctx, routeID, driverID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.SafetyRequired(routeID)
	}
	return nil
}

// Status is the answer to the safety-check status query.
type Status struct {
	RouteID  string `json:"routeId"`
	Required bool   `json:"required"`
	Day      string `json:"day"`
}

// Status reports whether the driver still has to submit today's check.
func (g *Gate) Status(ctx context.Context, routeID, driverID string) (Status, error) {
	ok, err := g.IsSatisfied(ctx, routeID, driverID)
	if err != nil {
		return Status{}, err
	}
	return Status{RouteID: routeID, Required: !ok, Day: g.Today()}, nil
}

// Submit records today's check. created is false when one already existed.
func (g *Gate) Submit(ctx context.Context, routeID, driverID string) (check model.SafetyCheck, created bool, err error) {
	now := g.clock.Now()
	check = model.SafetyCheck{
		ID:        uuid.NewString(),
		RouteID:   routeID,
		DriverID:  driverID,
		Type:      model.StartOfDay,
		Day:       model.Day(now, g.loc),
		CreatedAt: now,
	}
	created, err = g.checks.AddSafetyCheck(ctx, check)
	if err != nil {
		return model.SafetyCheck{}, false, fmt.Errorf("submit safety check: %w", err)
	}
	return check, created, nil
}

// Memo memoizes gate answers for the lifetime of one request.
type Memo struct {
	gate *Gate
	seen map[[2]string]bool
}

// NewMemo returns an empty per-request memo.
func (g *Gate) NewMemo() *Memo { return &Memo{gate: g, seen: make(map[[2]string]bool)} }

// Require behaves like Gate.Require but queries the store at most once per
// route/driver pair.
func (m *Memo) Require(ctx context.Context, routeID, driverID string) error {
	k := [2]string{routeID, driverID}
	ok, hit := m.seen[k]
	if !hit {
		var err error
		ok, err = m.gate.IsSatisfied(ctx, routeID, driverID)
		if err != nil {
			return err
		}
		m.seen[k] = ok
	}
	if !ok {
		return errs.SafetyRequired(routeID)
	}
	return nil
}
