package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/routesync/core/errs"
	"github.com/kilianp07/routesync/core/events"
	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/safety"
	"github.com/kilianp07/routesync/core/store"
	"github.com/kilianp07/routesync/infra/logger"
	"github.com/kilianp07/routesync/internal/clock"
)

var (
	day    = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	driver = model.Actor{ID: "d1", Username: "alice", Role: model.RoleDriver}
)

type recorder struct {
	mu  sync.Mutex
	evs []events.StopStatusChanged
}

func (r *recorder) Publish(ev events.StopStatusChanged) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.evs)
}

type fixture struct {
	store *store.MemoryStore
	gate  *safety.Gate
	rec   *recorder
	mgr   *Manager
}

func newFixture(t *testing.T, withCheck bool) *fixture {
	t.Helper()
	ctx := context.Background()
	ResetMetrics(prometheus.NewRegistry())
	m := store.NewMemoryStore()
	require.NoError(t, m.PutRoute(ctx, model.Route{ID: "r1", DriverID: "d1", Date: "2024-05-02"}))
	require.NoError(t, m.PutStop(ctx, model.Stop{ID: "s1", RouteID: "r1", Sequence: 1, DriverID: "d1"}))
	require.NoError(t, m.PutStop(ctx, model.Stop{ID: "s2", RouteID: "r1", Sequence: 2, DriverName: "Alice"}))
	require.NoError(t, m.PutStop(ctx, model.Stop{ID: "s3", RouteID: "r1", Sequence: 3, DriverID: "d2"}))
	clk := clock.NewFake(day)
	gate := safety.NewGate(m, time.UTC, clk)
	if withCheck {
		_, _, err := gate.Submit(ctx, "r1", "d1")
		require.NoError(t, err)
	}
	rec := &recorder{}
	mgr := NewManager(m, m, gate, rec, logger.NopLogger{}, WithClock(clk))
	return &fixture{store: m, gate: gate, rec: rec, mgr: mgr}
}

func TestTransitionFullPath(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	for _, st := range []model.StopStatus{model.StopOnTheWay, model.StopArrived, model.StopCompleted} {
		s, err := f.mgr.Transition(ctx, "s1", st, driver)
		require.NoError(t, err, "transition to %s", st)
		assert.Equal(t, st, s.Status)
	}
	s, _ := f.store.GetStop(ctx, "s1")
	require.NotNil(t, s.OnTheWayTime)
	require.NotNil(t, s.ArrivalTime)
	require.NotNil(t, s.CompletionTime)
	require.Equal(t, 3, f.rec.len())
	last := f.rec.evs[2]
	assert.True(t, last.Completed())
	assert.Equal(t, model.StopArrived, last.Previous)
	assert.Equal(t, events.SourceDriver, last.Source)
	assert.Equal(t, "r1", last.Route.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(transitionsTotal.WithLabelValues("COMPLETED", "ok")))
}

func TestTransitionByNameMatch(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.mgr.Transition(context.Background(), "s2", model.StopOnTheWay, driver)
	require.NoError(t, err)
}

func TestTransitionErrors(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	admin := model.Actor{ID: "a1", Role: model.RoleAdmin}

	_, err := f.mgr.Transition(ctx, "missing", model.StopOnTheWay, driver)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))

	_, err = f.mgr.Transition(ctx, "s3", model.StopOnTheWay, driver)
	assert.Equal(t, errs.NotAuthorized, errs.KindOf(err))

	_, err = f.mgr.Transition(ctx, "s1", model.StopOnTheWay, admin)
	assert.Equal(t, errs.NotAuthorized, errs.KindOf(err))

	_, err = f.mgr.Transition(ctx, "s1", model.StopCompleted, driver)
	assert.Equal(t, errs.InvalidTransition, errs.KindOf(err))

	_, err = f.mgr.Transition(ctx, "s1", model.StopPending, driver)
	assert.Equal(t, errs.InvalidTransition, errs.KindOf(err))
	assert.Equal(t, 0, f.rec.len())
}

func TestTransitionRequiresSafetyCheck(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.mgr.Transition(ctx, "s1", model.StopOnTheWay, driver)
	require.Equal(t, errs.SafetyCheckRequired, errs.KindOf(err))
	assert.Equal(t, "r1", errs.RouteIDOf(err))

	s, _ := f.store.GetStop(ctx, "s1")
	assert.Equal(t, model.StopPending, s.Status)
	assert.Nil(t, s.OnTheWayTime)
	assert.Equal(t, 0, f.rec.len())
}

func TestCancelFromAnyNonTerminal(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.mgr.Transition(ctx, "s1", model.StopOnTheWay, driver)
	require.NoError(t, err)
	s, err := f.mgr.Transition(ctx, "s1", model.StopCancelled, driver)
	require.NoError(t, err)
	assert.Equal(t, model.StopCancelled, s.Status)
	_, err = f.mgr.Transition(ctx, "s1", model.StopArrived, driver)
	assert.Equal(t, errs.InvalidTransition, errs.KindOf(err))
}

// staleStops returns the status captured before a concurrent writer moved the stop.
type staleStops struct {
	*store.MemoryStore
	stale map[string]model.Stop
}

func (s *staleStops) GetStop(ctx context.Context, id string) (model.Stop, error) {
	if st, ok := s.stale[id]; ok {
		delete(s.stale, id)
		return st, nil
	}
	return s.MemoryStore.GetStop(ctx, id)
}

func TestConflictRetriedOnceThenSurfaced(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	before, _ := f.store.GetStop(ctx, "s1")
	_, err := f.mgr.Transition(ctx, "s1", model.StopOnTheWay, driver)
	require.NoError(t, err)

	stale := &staleStops{MemoryStore: f.store, stale: map[string]model.Stop{"s1": before}}
	mgr := NewManager(stale, f.store, f.gate, f.rec, logger.NopLogger{})
	_, err = mgr.Transition(ctx, "s1", model.StopOnTheWay, driver)
	assert.Equal(t, errs.ConflictingUpdate, errs.KindOf(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(conflictRetries))
}

func TestConflictRetrySucceedsWhenStillReachable(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	// The stale read says ARRIVED while the store still holds PENDING: the
	// first CAS misses, the retry reads PENDING and the cancellation applies.
	cur, _ := f.store.GetStop(ctx, "s1")
	cur.Status = model.StopArrived
	stale := &staleStops{MemoryStore: f.store, stale: map[string]model.Stop{"s1": cur}}
	mgr := NewManager(stale, f.store, f.gate, f.rec, logger.NopLogger{})
	s, err := mgr.Transition(ctx, "s1", model.StopCancelled, driver)
	require.NoError(t, err)
	assert.Equal(t, model.StopCancelled, s.Status)
	require.Equal(t, 1, f.rec.len())
	assert.Equal(t, model.StopPending, f.rec.evs[0].Previous)
}

func TestConcurrentCompletionSingleWinner(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	for _, st := range []model.StopStatus{model.StopOnTheWay, model.StopArrived} {
		_, err := f.mgr.Transition(ctx, "s1", st, driver)
		require.NoError(t, err)
	}
	before := f.rec.len()

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.mgr.Transition(ctx, "s1", model.StopCompleted, driver)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		k := errs.KindOf(err)
		assert.True(t, k == errs.ConflictingUpdate || k == errs.InvalidTransition, "unexpected kind %s", k)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, before+1, f.rec.len(), "exactly one completion signal")
}

func TestAdvanceIsIdempotent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	stop, _ := f.store.GetStop(ctx, "s2")
	route, _ := f.store.GetRoute(ctx, "r1")

	s, ok, err := f.mgr.Advance(ctx, stop, route, model.StopOnTheWay, driver)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.StopOnTheWay, s.Status)

	_, ok, err = f.mgr.Advance(ctx, stop, route, model.StopOnTheWay, driver)
	require.NoError(t, err)
	assert.False(t, ok, "stale advance must be a no-op")
	require.Equal(t, 1, f.rec.len())
	assert.Equal(t, events.SourceAuto, f.rec.evs[0].Source)
}

func TestReadsAreGated(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.mgr.GetStop(ctx, "s1", driver)
	assert.Equal(t, errs.SafetyCheckRequired, errs.KindOf(err))
	_, err = f.mgr.ListRouteStops(ctx, "r1", driver)
	assert.Equal(t, errs.SafetyCheckRequired, errs.KindOf(err))

	admin := model.Actor{ID: "a1", Role: model.RoleAdmin}
	stops, err := f.mgr.ListRouteStops(ctx, "r1", admin)
	require.NoError(t, err)
	assert.Len(t, stops, 3)

	_, _, err = f.gate.Submit(ctx, "r1", "d1")
	require.NoError(t, err)
	stops, err = f.mgr.ListRouteStops(ctx, "r1", driver)
	require.NoError(t, err)
	assert.Len(t, stops, 2, "driver sees only their stops")

	other := model.Actor{ID: "d7", Username: "zed", Role: model.RoleDriver}
	_, err = f.mgr.ListRouteStops(ctx, "r1", other)
	assert.Equal(t, errs.NotAuthorized, errs.KindOf(err))
}
