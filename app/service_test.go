package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/routesync/auth"
	"github.com/kilianp07/routesync/config"
	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/realtime"
	"github.com/kilianp07/routesync/core/store"
)

const secret = "0123456789abcdef0123"

var (
	alice   = model.Actor{ID: "d1", Username: "alice", Role: model.RoleDriver}
	watcher = model.Actor{ID: "d9", Username: "carol", Role: model.RoleDriver}
	boss    = model.Actor{ID: "a1", Username: "boss", Role: model.RoleAdmin}
)

type stack struct {
	svc    *Service
	srv    *httptest.Server
	store  *store.MemoryStore
	tokens *auth.HMAC
}

// newStack serves route r1 of alice with stops s1 and s2.
func newStack(t *testing.T) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Auth.Secret = secret

	mem := store.NewMemoryStore()
	require.NoError(t, mem.PutRoute(ctx, model.Route{ID: "r1", DriverID: "d1", DriverName: "alice", Date: "2024-05-02"}))
	require.NoError(t, mem.PutStop(ctx, model.Stop{ID: "s1", RouteID: "r1", Sequence: 1, DriverID: "d1", Amount: 10}))
	require.NoError(t, mem.PutStop(ctx, model.Stop{ID: "s2", RouteID: "r1", Sequence: 2, DriverID: "d1", Amount: 20}))

	svc, err := New(cfg, WithStore(mem))
	require.NoError(t, err)
	wait := svc.StartReactors(ctx)
	srv := httptest.NewServer(svc.Handler())
	tokens, err := auth.NewHMAC(auth.Conf{Secret: secret})
	require.NoError(t, err)
	t.Cleanup(func() {
		svc.Hub.Close()
		srv.Close()
		cancel()
		wait()
		require.NoError(t, svc.Close())
	})
	return &stack{svc: svc, srv: srv, store: mem, tokens: tokens}
}

func (s *stack) token(t *testing.T, a model.Actor) string {
	t.Helper()
	tok, err := s.tokens.Issue(a, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *stack) post(t *testing.T, a model.Actor, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token(t, a))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *stack) transition(t *testing.T, stopID string, status model.StopStatus) {
	t.Helper()
	resp := s.post(t, alice, "/api/stops/"+stopID+"/status", map[string]string{"status": string(status)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func (s *stack) dial(t *testing.T, a model.Actor) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?token=" + s.token(t, a)
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (s *stack) stopStatus(t *testing.T, id string) model.StopStatus {
	t.Helper()
	st, err := s.store.GetStop(context.Background(), id)
	require.NoError(t, err)
	return st.Status
}

// drain reads envelopes until the connection stays quiet for idle.
func drain(t *testing.T, c *websocket.Conn, idle time.Duration) []realtime.Envelope {
	t.Helper()
	var out []realtime.Envelope
	for {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(idle)))
		_, data, err := c.ReadMessage()
		if err != nil {
			var ne net.Error
			require.True(t, errors.As(err, &ne) && ne.Timeout(), "read: %v", err)
			return out
		}
		env, err := realtime.Decode(data)
		require.NoError(t, err)
		out = append(out, env)
	}
}

func routeCompletions(t *testing.T, envs []realtime.Envelope) int {
	t.Helper()
	n := 0
	for _, e := range envs {
		if e.Event != realtime.EventRouteStatusUpdated {
			continue
		}
		var p realtime.RouteStatusPayload
		require.NoError(t, json.Unmarshal(e.Data, &p))
		if p.Status == model.RouteCompleted {
			n++
		}
	}
	return n
}

func TestCompletionAutoAdvancesAndCountsKPI(t *testing.T) {
	s := newStack(t)
	require.Equal(t, http.StatusCreated, s.post(t, alice, "/api/routes/r1/safety-check", nil).StatusCode)

	s.transition(t, "s1", model.StopOnTheWay)
	s.transition(t, "s1", model.StopArrived)
	s.transition(t, "s1", model.StopCompleted)

	require.Eventually(t, func() bool { return s.stopStatus(t, "s2") == model.StopOnTheWay }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		rows, err := s.store.ListKPIs(context.Background(), "d1", "", "")
		return err == nil && len(rows) == 1 && rows[0].StopsTotal == 2 && rows[0].StopsCompleted == 1
	}, 2*time.Second, 10*time.Millisecond)

	route, err := s.store.GetRoute(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RouteInProgress, route.Status)
}

func TestRouteCompletionReachesEveryRoomOnce(t *testing.T) {
	s := newStack(t)
	require.Equal(t, http.StatusCreated, s.post(t, alice, "/api/routes/r1/safety-check", nil).StatusCode)

	admin := s.dial(t, boss)
	driver := s.dial(t, alice)
	follower := s.dial(t, watcher)
	msg, err := realtime.Encode(realtime.MsgJoinRouteRoom, realtime.JoinRouteRoom{RouteID: "r1"})
	require.NoError(t, err)
	require.NoError(t, follower.WriteMessage(websocket.TextMessage, msg))
	// Admin also follows the route; it must still get a single copy.
	require.NoError(t, admin.WriteMessage(websocket.TextMessage, msg))
	require.Eventually(t, func() bool { return s.svc.Hub.Members(realtime.RouteRoom("r1")) == 2 }, 2*time.Second, 10*time.Millisecond)

	s.transition(t, "s1", model.StopOnTheWay)
	s.transition(t, "s1", model.StopArrived)
	s.transition(t, "s1", model.StopCompleted)
	require.Eventually(t, func() bool { return s.stopStatus(t, "s2") == model.StopOnTheWay }, 2*time.Second, 10*time.Millisecond)
	s.transition(t, "s2", model.StopArrived)
	s.transition(t, "s2", model.StopCompleted)

	for name, c := range map[string]*websocket.Conn{"admin": admin, "driver": driver, "route": follower} {
		assert.Equal(t, 1, routeCompletions(t, drain(t, c, 500*time.Millisecond)), name)
	}
}

func TestMissingSafetyCheckPersistsNothing(t *testing.T) {
	s := newStack(t)
	admin := s.dial(t, boss)

	resp := s.post(t, alice, "/api/stops/s1/status", map[string]string{"status": "ON_THE_WAY"})
	require.Equal(t, http.StatusPreconditionRequired, resp.StatusCode)
	var body struct {
		Kind    string `json:"kind"`
		RouteID string `json:"routeId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "SafetyCheckRequired", body.Kind)
	assert.Equal(t, "r1", body.RouteID)
	assert.Equal(t, model.StopPending, s.stopStatus(t, "s1"))

	for _, e := range drain(t, admin, 300*time.Millisecond) {
		assert.NotEqual(t, realtime.EventStopStatusUpdated, e.Event)
	}
}

func TestInvalidTokenJoinsNoRoom(t *testing.T) {
	s := newStack(t)
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, s.svc.Hub.ConnCount())
}

func TestNewRejectsShortSecret(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Auth.Secret = "short"
	_, err = New(cfg, WithStore(store.NewMemoryStore()))
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Auth.Secret = secret
	svc, err := New(cfg, WithStore(store.NewMemoryStore()))
	require.NoError(t, err)
	defer func() { require.NoError(t, svc.Close()) }()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}
