package scenarios

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/routesync/app"
	"github.com/kilianp07/routesync/auth"
	"github.com/kilianp07/routesync/config"
	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/store"
	"github.com/kilianp07/routesync/internal/clock"
)

const (
	secret  = "scenario-secret-0123456789"
	settle  = 2 * time.Second
	pollGap = 10 * time.Millisecond
)

// Epoch is the scenario wall clock. Seed dates and expected KPI dates refer
// to it.
var Epoch = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

type runner struct {
	t      *testing.T
	sc     *Scenario
	url    string
	mem    *store.MemoryStore
	tokens map[string]string
}

// RunScenario serves sc against an in-memory store with all reactors running
// and checks the expected end state.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Auth.Secret = secret

	mem := store.NewMemoryStore()
	require.NoError(t, sc.Seed.Apply(ctx, mem, mem, model.Day(Epoch, time.UTC), Epoch))

	svc, err := app.New(cfg, app.WithStore(mem), app.WithClock(clock.NewFake(Epoch)))
	require.NoError(t, err)
	wait := svc.StartReactors(ctx)
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		wait()
		require.NoError(t, svc.Close())
	})

	issuer, err := auth.NewHMAC(auth.Conf{Secret: secret})
	require.NoError(t, err)
	r := &runner{t: t, sc: sc, url: srv.URL, mem: mem, tokens: make(map[string]string)}
	for name, def := range sc.Actors {
		actor, err := def.ToModel()
		require.NoError(t, err)
		tok, err := issuer.Issue(actor, time.Hour)
		require.NoError(t, err)
		r.tokens[name] = tok
	}

	for i, st := range sc.Steps {
		r.step(i, st)
	}
	r.check()
}

func (r *runner) step(i int, st Step) {
	t := r.t
	switch {
	case st.Await != nil:
		want := model.StopStatus(st.Await.Status)
		require.Eventuallyf(t, func() bool { return r.stopStatus(st.Await.Stop) == want }, settle, pollGap,
			"step %d: stop %s never reached %s", i, st.Await.Stop, want)
	case st.SafetyCheck != "":
		code := r.post(st.Actor, "/api/routes/"+st.SafetyCheck+"/safety-check", nil)
		r.expect(i, st, code, http.StatusCreated)
	default:
		code := r.post(st.Actor, "/api/stops/"+st.Stop+"/status", map[string]string{"status": st.Status})
		r.expect(i, st, code, http.StatusOK)
	}
}

func (r *runner) expect(i int, st Step, got, fallback int) {
	want := st.Expect
	if want == 0 {
		want = fallback
	}
	require.Equalf(r.t, want, got, "step %d (%s %s %s)", i, st.Actor, st.Stop, st.Status)
}

func (r *runner) post(actor, path string, body any) int {
	t := r.t
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPost, r.url+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+r.tokens[actor])
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func (r *runner) stopStatus(id string) model.StopStatus {
	s, err := r.mem.GetStop(context.Background(), id)
	if err != nil {
		return ""
	}
	return s.Status
}

func (r *runner) check() {
	t := r.t
	ctx := context.Background()
	for id, want := range r.sc.Expected.Stops {
		assert.Eventuallyf(t, func() bool { return r.stopStatus(id) == model.StopStatus(want) }, settle, pollGap,
			"stop %s never reached %s", id, want)
	}
	for id, want := range r.sc.Expected.Routes {
		got := func() model.RouteStatus {
			rt, err := r.mem.GetRoute(ctx, id)
			if err != nil {
				return ""
			}
			return rt.Status
		}
		assert.Eventuallyf(t, func() bool { return got() == model.RouteStatus(want) }, settle, pollGap,
			"route %s never reached %s", id, want)
	}
	for _, want := range r.sc.Expected.KPIs {
		date := want.Date
		if date == "" {
			date = model.Day(Epoch, time.UTC)
		}
		assert.Eventuallyf(t, func() bool {
			rows, err := r.mem.ListKPIs(ctx, want.Driver, date, date)
			if err != nil || len(rows) != 1 {
				return false
			}
			k := rows[0]
			return k.StopsTotal == want.Total && k.StopsCompleted == want.Completed && k.TotalDelivered == want.Delivered
		}, settle, pollGap, "kpi %s/%s never reached total=%d completed=%d", want.Driver, date, want.Total, want.Completed)
	}
}
