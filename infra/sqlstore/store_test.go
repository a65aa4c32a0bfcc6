package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/routesync/core/errs"
	"github.com/kilianp07/routesync/core/factory"
	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/store"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Dialect: SQLite, DSN: ":memory:", Migrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.PutRoute(ctx, model.Route{ID: "r1", DriverID: "d1", DriverName: "Alice", Date: "2024-05-02", UpdatedAt: time.Now()}))
	require.NoError(t, s.PutStop(ctx, model.Stop{ID: "s2", RouteID: "r1", Sequence: 2, Amount: 5, CustomerName: "Cafe"}))
	require.NoError(t, s.PutStop(ctx, model.Stop{ID: "s1", RouteID: "r1", Sequence: 1, Amount: 10}))
	gone := time.Now()
	require.NoError(t, s.PutStop(ctx, model.Stop{ID: "s3", RouteID: "r1", Sequence: 3, DeletedAt: &gone}))
}

// conformance runs the store contract against any backend.
func conformance(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("stops", func(t *testing.T) {
		s := open(t)
		seed(t, s)
		ctx := context.Background()

		stops, err := s.ListRouteStops(ctx, "r1")
		require.NoError(t, err)
		require.Len(t, stops, 2)
		assert.Equal(t, "s1", stops[0].ID)
		assert.Equal(t, model.StopPending, stops[0].Status)
		assert.Equal(t, "Cafe", stops[1].CustomerName)

		_, err = s.GetStop(ctx, "s3")
		assert.True(t, errors.Is(err, errs.ErrNotFound))
	})

	t.Run("compare and set", func(t *testing.T) {
		s := open(t)
		seed(t, s)
		ctx := context.Background()
		at := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)

		st, err := s.CompareAndSetStopStatus(ctx, "s1", model.StopPending, model.StopOnTheWay, at)
		require.NoError(t, err)
		assert.Equal(t, model.StopOnTheWay, st.Status)
		require.NotNil(t, st.OnTheWayTime)
		assert.True(t, at.Equal(*st.OnTheWayTime))

		_, err = s.CompareAndSetStopStatus(ctx, "s1", model.StopPending, model.StopOnTheWay, at)
		assert.True(t, errs.Is(err, errs.ConflictingUpdate))
		_, err = s.CompareAndSetStopStatus(ctx, "s3", model.StopPending, model.StopOnTheWay, at)
		assert.True(t, errs.Is(err, errs.NotFound))

		st, err = s.CompareAndSetStopStatus(ctx, "s1", model.StopOnTheWay, model.StopCancelled, at)
		require.NoError(t, err)
		assert.Equal(t, model.StopCancelled, st.Status)
		assert.Nil(t, st.CompletionTime)
	})

	t.Run("single winner", func(t *testing.T) {
		s := open(t)
		seed(t, s)
		ctx := context.Background()
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins, conflicts := 0, 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.CompareAndSetStopStatus(ctx, "s2", model.StopPending, model.StopOnTheWay, time.Now())
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					wins++
				} else if errs.Is(err, errs.ConflictingUpdate) {
					conflicts++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
		assert.Equal(t, 7, conflicts)
	})

	t.Run("route advance", func(t *testing.T) {
		s := open(t)
		seed(t, s)
		ctx := context.Background()
		changed, err := s.AdvanceRouteStatus(ctx, "r1", []model.RouteStatus{model.RoutePending}, model.RouteInProgress, time.Now())
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = s.AdvanceRouteStatus(ctx, "r1", []model.RouteStatus{model.RoutePending}, model.RouteInProgress, time.Now())
		require.NoError(t, err)
		assert.False(t, changed)
		changed, err = s.AdvanceRouteStatus(ctx, "r1", []model.RouteStatus{model.RoutePending, model.RouteInProgress}, model.RouteCompleted, time.Now())
		require.NoError(t, err)
		assert.True(t, changed)

		r, err := s.GetRoute(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, model.RouteCompleted, r.Status)
		assert.Equal(t, "Alice", r.DriverName)

		_, err = s.AdvanceRouteStatus(ctx, "nope", []model.RouteStatus{model.RoutePending}, model.RouteInProgress, time.Now())
		assert.True(t, errs.Is(err, errs.NotFound))
	})

	t.Run("safety checks", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		c := model.SafetyCheck{ID: "c1", RouteID: "r1", DriverID: "d1", Type: model.StartOfDay, Day: "2024-05-02", CreatedAt: time.Now()}
		created, err := s.AddSafetyCheck(ctx, c)
		require.NoError(t, err)
		assert.True(t, created)
		c.ID = "c2"
		created, err = s.AddSafetyCheck(ctx, c)
		require.NoError(t, err)
		assert.False(t, created)

		ok, err := s.HasSafetyCheck(ctx, "r1", "d1", model.StartOfDay, "2024-05-02")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.HasSafetyCheck(ctx, "r1", "d1", model.StartOfDay, "2024-05-03")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("kpis", func(t *testing.T) {
		s := open(t)
		seed(t, s)
		ctx := context.Background()
		_, err := s.CompareAndSetStopStatus(ctx, "s1", model.StopPending, model.StopCompleted, time.Now())
		require.NoError(t, err)
		key := model.KPIKey{DriverID: "d1", Date: "2024-05-02"}
		all := func(model.Stop) bool { return true }

		first, err := s.RecomputeKPI(ctx, "r1", key, all, time.Now())
		require.NoError(t, err)
		second, err := s.RecomputeKPI(ctx, "r1", key, all, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 2, second.StopsTotal)
		assert.Equal(t, 1, second.StopsCompleted)
		assert.Equal(t, 10.0, second.TotalDelivered)
		assert.Equal(t, first.StopsCompleted, second.StopsCompleted)

		_, err = s.RecomputeKPI(ctx, "r1", model.KPIKey{DriverID: "d1", Date: "2024-05-04"}, all, time.Now())
		require.NoError(t, err)

		rows, err := s.ListKPIs(ctx, "d1", "", "")
		require.NoError(t, err)
		assert.Len(t, rows, 2)
		rows, err = s.ListKPIs(ctx, "d1", "2024-05-03", "2024-05-31")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "2024-05-04", rows[0].Date)
		rows, err = s.ListKPIs(ctx, "d2", "", "")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("notes", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		base := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
		require.NoError(t, s.AddNote(ctx, model.AdminNote{ID: "n2", RouteID: "r1", AuthorID: "a1", Body: "second", CreatedAt: base.Add(time.Minute)}))
		require.NoError(t, s.AddNote(ctx, model.AdminNote{ID: "n1", RouteID: "r1", StopID: "s1", AuthorID: "a1", Body: "first", CreatedAt: base}))
		require.NoError(t, s.AddNote(ctx, model.AdminNote{ID: "n3", RouteID: "r2", AuthorID: "a1", Body: "other", CreatedAt: base}))

		notes, err := s.ListNotes(ctx, "r1")
		require.NoError(t, err)
		require.Len(t, notes, 2)
		assert.Equal(t, "first", notes[0].Body)
		assert.Equal(t, "s1", notes[0].StopID)
	})
}

func TestSQLiteConformance(t *testing.T) {
	conformance(t, func(t *testing.T) store.Store { return openSQLite(t) })
}

func TestMemoryConformance(t *testing.T) {
	conformance(t, func(*testing.T) store.Store { return store.NewMemoryStore() })
}

func TestSeedIntoSQLite(t *testing.T) {
	s := openSQLite(t)
	sd := &store.Seed{
		Routes: []store.SeedRoute{{ID: "r9", DriverID: "d9", Date: "2024-05-02", Stops: []store.SeedStop{{ID: "a"}, {ID: "b"}}}},
		SafetyChecks: []store.SeedCheck{{RouteID: "r9", DriverID: "d9", Day: "today"}},
	}
	ctx := context.Background()
	require.NoError(t, sd.Apply(ctx, s, s, "2024-05-02", time.Now()))
	require.NoError(t, sd.Apply(ctx, s, s, "2024-05-02", time.Now()))

	stops, err := s.ListRouteStops(ctx, "r9")
	require.NoError(t, err)
	require.Len(t, stops, 2)
	assert.Equal(t, 2, stops[1].Sequence)
	ok, err := s.HasSafetyCheck(ctx, "r9", "d9", model.StartOfDay, "2024-05-02")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenThroughRegistry(t *testing.T) {
	s, err := store.Open(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"dsn": ":memory:"}})
	require.NoError(t, err)
	defer s.Close()
	_, err = s.GetRoute(context.Background(), "none")
	assert.True(t, errs.Is(err, errs.NotFound))

	_, err = store.Open(factory.ModuleConfig{Type: "oracle"})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg, err := dialectFor(Postgres)
	require.NoError(t, err)
	assert.Equal(t, "a = $1 AND b IN ($2,$3)", pg.rebind("a = ? AND b IN ("+placeholders(2)+")"))
	lite, err := dialectFor(SQLite)
	require.NoError(t, err)
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
	_, err = dialectFor("mysql")
	assert.Error(t, err)
}
