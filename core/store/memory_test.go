package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/routesync/core/errs"
	"github.com/kilianp07/routesync/core/factory"
	"github.com/kilianp07/routesync/core/model"
)

func seeded(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.PutRoute(ctx, model.Route{ID: "r1", DriverID: "d1", Date: "2024-05-02"}))
	require.NoError(t, m.PutStop(ctx, model.Stop{ID: "s2", RouteID: "r1", Sequence: 2, Amount: 5}))
	require.NoError(t, m.PutStop(ctx, model.Stop{ID: "s1", RouteID: "r1", Sequence: 1, Amount: 10}))
	return m
}

func TestMemoryCompareAndSet(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)
	now := time.Now()

	s, err := m.CompareAndSetStopStatus(ctx, "s1", model.StopPending, model.StopOnTheWay, now)
	require.NoError(t, err)
	assert.Equal(t, model.StopOnTheWay, s.Status)
	require.NotNil(t, s.OnTheWayTime)

	_, err = m.CompareAndSetStopStatus(ctx, "s1", model.StopPending, model.StopOnTheWay, now)
	assert.True(t, errors.Is(err, errs.ErrConflict))

	_, err = m.CompareAndSetStopStatus(ctx, "missing", model.StopPending, model.StopOnTheWay, now)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestMemoryCompareAndSetSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.CompareAndSetStopStatus(ctx, "s2", model.StopPending, model.StopOnTheWay, time.Now()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryListExcludesDeleted(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)
	now := time.Now()
	require.NoError(t, m.PutStop(ctx, model.Stop{ID: "s3", RouteID: "r1", Sequence: 3, DeletedAt: &now}))

	stops, err := m.ListRouteStops(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, stops, 2)
	assert.Equal(t, "s1", stops[0].ID)

	_, err = m.GetStop(ctx, "s3")
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestMemoryAdvanceRouteStatus(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)
	changed, err := m.AdvanceRouteStatus(ctx, "r1", []model.RouteStatus{model.RoutePending}, model.RouteInProgress, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = m.AdvanceRouteStatus(ctx, "r1", []model.RouteStatus{model.RoutePending}, model.RouteInProgress, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMemoryRecomputeKPIIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := seeded(t)
	_, err := m.CompareAndSetStopStatus(ctx, "s1", model.StopPending, model.StopCompleted, time.Now())
	require.NoError(t, err)

	key := model.KPIKey{DriverID: "d1", Date: "2024-05-02"}
	all := func(model.Stop) bool { return true }
	first, err := m.RecomputeKPI(ctx, "r1", key, all, time.Now())
	require.NoError(t, err)
	second, err := m.RecomputeKPI(ctx, "r1", key, all, time.Now())
	require.NoError(t, err)
	assert.Equal(t, first.StopsCompleted, second.StopsCompleted)
	assert.Equal(t, 1, second.StopsCompleted)
	assert.Equal(t, 2, second.StopsTotal)
	assert.InDelta(t, 10.0, second.TotalDelivered, 1e-9)

	rows, err := m.ListKPIs(ctx, "d1", "2024-05-01", "2024-05-31")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestMemorySafetyChecks(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	c := model.SafetyCheck{ID: "c1", RouteID: "r1", DriverID: "d1", Type: model.StartOfDay, Day: "2024-05-02"}
	added, err := m.AddSafetyCheck(ctx, c)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = m.AddSafetyCheck(ctx, c)
	require.NoError(t, err)
	assert.False(t, added)
	ok, _ := m.HasSafetyCheck(ctx, "r1", "d1", model.StartOfDay, "2024-05-03")
	assert.False(t, ok)
}

func TestSeedApply(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	data := `routes:
  - id: r1
    driver_id: d1
    driver_name: Alice
    date: "2024-05-02"
    stops:
      - id: s1
        customer_name: Bakery
        amount: 12.5
      - id: s2
        driver_name: Bob
safety_checks:
  - route_id: r1
    driver_id: d1
    day: today
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	seed, err := LoadSeed(path)
	require.NoError(t, err)

	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, seed.Apply(ctx, m, m, "2024-05-02", time.Now()))

	stops, _ := m.ListRouteStops(ctx, "r1")
	require.Len(t, stops, 2)
	assert.Equal(t, 2, stops[1].Sequence)
	assert.Equal(t, "Bob", stops[1].DriverName)
	ok, _ := m.HasSafetyCheck(ctx, "r1", "d1", model.StartOfDay, "2024-05-02")
	assert.True(t, ok)
}

func TestSeedRejectsBadDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routes:\n  - id: r1\n    date: tomorrow\n"), 0o644))
	_, err := LoadSeed(path)
	assert.Error(t, err)
}

func TestOpenMemoryBackend(t *testing.T) {
	s, err := Open(factory.ModuleConfig{})
	require.NoError(t, err)
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)
	_, err = Open(factory.ModuleConfig{Type: "nope"})
	assert.Error(t, err)
}
