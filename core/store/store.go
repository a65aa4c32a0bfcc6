// Package store declares the persistence contracts of the lifecycle core.
// Status writes are conditional: implementations must apply them only while
// the persisted value still equals the expected one.
package store

import (
	"context"
	"time"

	"github.com/kilianp07/routesync/core/factory"
	"github.com/kilianp07/routesync/core/model"
)

// Stops reads and conditionally updates stops.
type Stops interface {
	// GetStop returns errs.ErrNotFound for missing or soft-deleted stops.
	GetStop(ctx context.Context, id string) (model.Stop, error)
	// ListRouteStops returns the route's live stops ordered by sequence.
	ListRouteStops(ctx context.Context, routeID string) ([]model.Stop, error)
	// CompareAndSetStopStatus moves the stop from expected to next and stamps
	// the matching timestamp. It returns errs.ErrConflict when the persisted
	// status no longer equals expected.
	CompareAndSetStopStatus(ctx context.Context, id string, expected, next model.StopStatus, at time.Time) (model.Stop, error)
}

// Routes reads routes and moves their derived status forward.
type Routes interface {
	GetRoute(ctx context.Context, id string) (model.Route, error)
	// AdvanceRouteStatus sets the status to `to` only if the current status is
	// one of from. It reports whether a row changed.
	AdvanceRouteStatus(ctx context.Context, id string, from []model.RouteStatus, to model.RouteStatus, at time.Time) (bool, error)
}

// SafetyChecks records and answers day-scoped safety attestations.
type SafetyChecks interface {
	HasSafetyCheck(ctx context.Context, routeID, driverID string, typ model.SafetyCheckType, day string) (bool, error)
	// AddSafetyCheck reports false when an identical check already exists.
	AddSafetyCheck(ctx context.Context, c model.SafetyCheck) (bool, error)
}

// KPIs maintains DailyKPI rows.
type KPIs interface {
	// RecomputeKPI scans the route's stops selected by owns and upserts the
	// row for key in a single transaction.
	RecomputeKPI(ctx context.Context, routeID string, key model.KPIKey, owns func(model.Stop) bool, at time.Time) (model.DailyKPI, error)
	// ListKPIs returns rows for driverID with from <= date <= to. Empty bounds are open.
	ListKPIs(ctx context.Context, driverID, from, to string) ([]model.DailyKPI, error)
}

// Notes persists admin notes.
type Notes interface {
	AddNote(ctx context.Context, n model.AdminNote) error
	ListNotes(ctx context.Context, routeID string) ([]model.AdminNote, error)
}

// Seeder inserts or replaces imported routes and stops.
type Seeder interface {
	PutRoute(ctx context.Context, r model.Route) error
	PutStop(ctx context.Context, s model.Stop) error
}

// Store is the full persistence surface used by the service.
type Store interface {
	Stops
	Routes
	SafetyChecks
	KPIs
	Notes
	Seeder
	Close() error
}

// Backends instantiates stores by configured type.
var Backends = factory.NewRegistry[Store]()

func init() {
	Backends.MustRegister("memory", func(map[string]any) (Store, error) {
		return NewMemoryStore(), nil
	})
}

// Open builds the configured backend.
func Open(cfg factory.ModuleConfig) (Store, error) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	return Backends.Create(cfg)
}
