package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/routesync/core/errs"
	"github.com/kilianp07/routesync/core/model"
)

type checkKey struct {
	route, driver string
	typ           model.SafetyCheckType
	day           string
}

// MemoryStore is an in-memory Store guarded by a single mutex.
type MemoryStore struct {
	mu     sync.Mutex
	routes map[string]model.Route
	stops  map[string]model.Stop
	checks map[checkKey]model.SafetyCheck
	kpis   map[model.KPIKey]model.DailyKPI
	notes  []model.AdminNote
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		routes: make(map[string]model.Route),
		stops:  make(map[string]model.Stop),
		checks: make(map[checkKey]model.SafetyCheck),
		kpis:   make(map[model.KPIKey]model.DailyKPI),
	}
}

func (m *MemoryStore) PutRoute(_ context.Context, r model.Route) error {
	if r.Status == "" {
		r.Status = model.RoutePending
	}
	m.mu.Lock()
	m.routes[r.ID] = r
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) PutStop(_ context.Context, s model.Stop) error {
	if s.Status == "" {
		s.Status = model.StopPending
	}
	m.mu.Lock()
	m.stops[s.ID] = s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetStop(_ context.Context, id string) (model.Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stops[id]
	if !ok || s.Deleted() {
		return model.Stop{}, errs.E(errs.NotFound, "stop %s not found", id)
	}
	return s, nil
}

func (m *MemoryStore) ListRouteStops(_ context.Context, routeID string) ([]model.Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.routeStops(routeID), nil
}

func (m *MemoryStore) routeStops(routeID string) []model.Stop {
	var out []model.Stop
	for _, s := range m.stops {
		if s.RouteID == routeID && !s.Deleted() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (m *MemoryStore) CompareAndSetStopStatus(_ context.Context, id string, expected, next model.StopStatus, at time.Time) (model.Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stops[id]
	if !ok || s.Deleted() {
		return model.Stop{}, errs.E(errs.NotFound, "stop %s not found", id)
	}
	if s.Status != expected {
		return model.Stop{}, errs.E(errs.ConflictingUpdate, "stop %s is %s, expected %s", id, s.Status, expected)
	}
	s.Apply(next, at)
	m.stops[id] = s
	return s, nil
}

func (m *MemoryStore) GetRoute(_ context.Context, id string) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return model.Route{}, errs.E(errs.NotFound, "route %s not found", id)
	}
	return r, nil
}

func (m *MemoryStore) AdvanceRouteStatus(_ context.Context, id string, from []model.RouteStatus, to model.RouteStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return false, errs.E(errs.NotFound, "route %s not found", id)
	}
	if !slices.Contains(from, r.Status) {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = at
	m.routes[id] = r
	return true, nil
}

func (m *MemoryStore) HasSafetyCheck(_ context.Context, routeID, driverID string, typ model.SafetyCheckType, day string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.checks[checkKey{routeID, driverID, typ, day}]
	return ok, nil
}

func (m *MemoryStore) AddSafetyCheck(_ context.Context, c model.SafetyCheck) (bool, error) {
	k := checkKey{c.RouteID, c.DriverID, c.Type, c.Day}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checks[k]; ok {
		return false, nil
	}
	m.checks[k] = c
	return true, nil
}

func (m *MemoryStore) RecomputeKPI(_ context.Context, routeID string, key model.KPIKey, owns func(model.Stop) bool, at time.Time) (model.DailyKPI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mine []model.Stop
	for _, s := range m.routeStops(routeID) {
		if owns(s) {
			mine = append(mine, s)
		}
	}
	k := model.ComputeKPI(key, mine, at)
	m.kpis[key] = k
	return k, nil
}

func (m *MemoryStore) ListKPIs(_ context.Context, driverID, from, to string) ([]model.DailyKPI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DailyKPI
	for k, v := range m.kpis {
		if k.DriverID != driverID {
			continue
		}
		if (from != "" && k.Date < from) || (to != "" && k.Date > to) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (m *MemoryStore) AddNote(_ context.Context, n model.AdminNote) error {
	m.mu.Lock()
	m.notes = append(m.notes, n)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListNotes(_ context.Context, routeID string) ([]model.AdminNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AdminNote
	for _, n := range m.notes {
		if n.RouteID == routeID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
