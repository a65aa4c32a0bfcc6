// Package supervisor keeps one realtime connection alive for a client: it
// checks the server's transport, dials with exponential backoff, tracks
// heartbeats, re-joins rooms after a reconnect and tells the caller to
// re-fetch state it may have missed.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/kilianp07/routesync/auth"
	"github.com/kilianp07/routesync/core/logger"
	"github.com/kilianp07/routesync/core/realtime"
)

var (
	// ErrTransportMismatch means client and server disagree on the transport.
	// It is terminal: retrying cannot fix a configuration error.
	ErrTransportMismatch = errors.New("transport mismatch")
	// ErrUnauthorized means the server refused the handshake token.
	ErrUnauthorized = errors.New("unauthorized")
)

// State is the connection state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
	StateUnauthorized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateUnauthorized:
		return "unauthorized"
	}
	return "unknown"
}

// Terminal reports whether only Reconnect can leave the state.
func (s State) Terminal() bool { return s == StateDisconnected || s == StateUnauthorized }

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithEventHandler receives every server event.
func WithEventHandler(fn func(realtime.Envelope)) Option {
	return func(s *Supervisor) { s.onEvent = fn }
}

// WithOnReconnect is called after a reconnect once rooms are re-joined.
func WithOnReconnect(fn func()) Option {
	return func(s *Supervisor) { s.onReconnect = fn }
}

// WithStateHook observes state changes.
func WithStateHook(fn func(State)) Option {
	return func(s *Supervisor) { s.onState = fn }
}

// WithHTTPClient sets the client used for the info request.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Supervisor) { s.http = c }
}

// Supervisor owns a single logical connection.
type Supervisor struct {
	cfg    Config
	tokens auth.TokenSource
	log    logger.Logger
	http   *http.Client
	dialer *websocket.Dialer

	onEvent     func(realtime.Envelope)
	onReconnect func()
	onState     func(State)

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	rooms     map[string][]byte
	started   bool
	connected bool
	lastErr   error
	cancel    context.CancelFunc
	done      chan struct{}

	wmu     sync.Mutex
	restart chan struct{}
	wake    chan struct{}
	pong    chan struct{}
}

// New validates cfg and builds a Supervisor. Call Start to connect.
func New(cfg Config, tokens auth.TokenSource, log logger.Logger, opts ...Option) (*Supervisor, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Supervisor{
		cfg:     cfg,
		tokens:  tokens,
		log:     log,
		http:    &http.Client{Timeout: 10 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		rooms:   make(map[string][]byte),
		done:    make(chan struct{}),
		restart: make(chan struct{}, 1),
		wake:    make(chan struct{}, 1),
		pong:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the connection loop. Calling it again is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	go s.run(ctx)
}

// Stop closes the connection and waits for the loop to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, started := s.cancel, s.started
	s.mu.Unlock()
	if !started {
		return
	}
	cancel()
	<-s.done
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the supervisor to a terminal state.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Reconnect leaves a terminal state with a fresh attempt budget, or drops a
// live connection so it is re-dialed.
func (s *Supervisor) Reconnect() {
	s.mu.Lock()
	st, conn := s.state, s.conn
	s.mu.Unlock()
	if st.Terminal() {
		select {
		case s.restart <- struct{}{}:
		default:
		}
		return
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// Probe checks liveness right away, typically when the device comes back
// online or the app becomes visible. It returns true when the server answered.
// While a dial is pending it cuts the backoff wait short.
func (s *Supervisor) Probe() bool {
	s.mu.Lock()
	st, conn := s.state, s.conn
	s.mu.Unlock()
	switch {
	case st.Terminal():
		s.Reconnect()
		return false
	case st == StateConnecting || st == StateReconnecting:
		select {
		case s.wake <- struct{}{}:
		default:
		}
		return false
	case st != StateConnected || conn == nil:
		return false
	}
	select {
	case <-s.pong:
	default:
	}
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.ProbeTimeout)); err != nil {
		_ = conn.Close()
		return false
	}
	select {
	case <-s.pong:
		return true
	case <-time.After(s.cfg.ProbeTimeout):
		s.log.Warnf("probe: no pong within %s, reconnecting", s.cfg.ProbeTimeout)
		_ = conn.Close()
		return false
	}
}

// JoinRoute follows a route room. It replaces any route room held before.
func (s *Supervisor) JoinRoute(routeID string) error {
	return s.join(realtime.RouteRoom(routeID), realtime.MsgJoinRouteRoom, realtime.JoinRouteRoom{RouteID: routeID})
}

// JoinDriver follows a driver's room. Admins only.
func (s *Supervisor) JoinDriver(driverID string) error {
	return s.join(realtime.DriverRoom(driverID), realtime.MsgJoinDriverRoom, realtime.JoinDriverRoom{DriverID: driverID})
}

// JoinAdmin follows the admin room. Admins only.
func (s *Supervisor) JoinAdmin() error {
	return s.join(realtime.AdminRoom, realtime.MsgJoinAdminRoom, struct{}{})
}

// Leave stops following room.
func (s *Supervisor) Leave(room string) error {
	msg, err := realtime.Encode(realtime.MsgLeaveRoom, realtime.LeaveRoom{Room: room})
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
	return s.write(msg)
}

// Rooms returns the rooms re-joined on every reconnect.
func (s *Supervisor) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (s *Supervisor) join(room, event string, data any) error {
	msg, err := realtime.Encode(event, data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if realtime.IsRouteRoom(room) {
		for r := range s.rooms {
			if realtime.IsRouteRoom(r) {
				delete(s.rooms, r)
			}
		}
	}
	s.rooms[room] = msg
	s.mu.Unlock()
	return s.write(msg)
}

// write sends msg when connected. Offline, the room is joined on connect.
func (s *Supervisor) write(msg []byte) error {
	s.mu.Lock()
	conn, st := s.conn, s.state
	s.mu.Unlock()
	if conn == nil || st != StateConnected {
		return nil
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.PingTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()
	if changed {
		s.log.Debugf("realtime connection %s", st)
		if s.onState != nil {
			s.onState(st)
		}
	}
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	defer s.closeConn()
	for {
		if s.hasConnected() {
			s.setState(StateReconnecting)
		} else {
			s.setState(StateConnecting)
		}
		conn, hb, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateDisconnected)
				return
			}
			s.fail(err)
			select {
			case <-ctx.Done():
				return
			case <-s.restart:
				continue
			}
		}
		s.established(conn)
		s.serve(ctx, conn, hb)
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}
	}
}

func (s *Supervisor) hasConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Supervisor) fail(err error) {
	st := StateDisconnected
	if errors.Is(err, ErrUnauthorized) {
		st = StateUnauthorized
	}
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.log.Errorf("realtime connection gave up: %v", err)
	s.setState(st)
}

func (s *Supervisor) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.MinDelay
	b.MaxInterval = s.cfg.MaxDelay
	b.Multiplier = s.cfg.Multiplier
	b.RandomizationFactor = s.cfg.Jitter
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.MaxAttempts-1)), ctx)
}

type heartbeat struct {
	interval time.Duration
	timeout  time.Duration
}

func (h heartbeat) deadline() time.Time { return time.Now().Add(h.interval + h.timeout) }

func (s *Supervisor) connect(ctx context.Context) (*websocket.Conn, heartbeat, error) {
	var (
		conn *websocket.Conn
		hb   heartbeat
	)
	op := func() error {
		c, h, err := s.dial(ctx)
		if err != nil {
			return err
		}
		conn, hb = c, h
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.log.Warnf("realtime dial failed: %v (retry in %s)", err, next)
	}
	timer := &wakeTimer{wake: s.wake}
	if err := backoff.RetryNotifyWithTimer(op, s.backoff(ctx), notify, timer); err != nil {
		return nil, heartbeat{}, err
	}
	return conn, hb, nil
}

func (s *Supervisor) dial(ctx context.Context) (*websocket.Conn, heartbeat, error) {
	s.closeConn()
	info, err := s.fetchInfo(ctx)
	if err != nil {
		return nil, heartbeat{}, err
	}
	if info.Transport != s.cfg.Transport {
		return nil, heartbeat{}, backoff.Permanent(fmt.Errorf("%w: server speaks %q, client configured for %q", ErrTransportMismatch, info.Transport, s.cfg.Transport))
	}
	hb := s.heartbeatFrom(info)

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, heartbeat{}, fmt.Errorf("token: %w", err)
	}
	target, err := s.cfg.socketURL()
	if err != nil {
		return nil, heartbeat{}, backoff.Permanent(err)
	}
	conn, err := s.handshake(ctx, target, token)
	if errors.Is(err, ErrUnauthorized) {
		if r, ok := s.tokens.(auth.Refresher); ok {
			s.log.Warnf("handshake refused, refreshing token")
			if token, err = r.ForceRefresh(ctx); err != nil {
				return nil, heartbeat{}, backoff.Permanent(fmt.Errorf("%w: refresh: %v", ErrUnauthorized, err))
			}
			conn, err = s.handshake(ctx, target, token)
		}
	}
	if errors.Is(err, ErrUnauthorized) {
		return nil, heartbeat{}, backoff.Permanent(err)
	}
	if err != nil {
		return nil, heartbeat{}, err
	}
	return conn, hb, nil
}

// heartbeatFrom takes the advertised heartbeat, falling back to the
// configured one, and never goes below MinPingInterval.
func (s *Supervisor) heartbeatFrom(info realtime.Info) heartbeat {
	hb := heartbeat{interval: info.Interval(), timeout: info.Timeout()}
	if hb.interval <= 0 {
		hb.interval = s.cfg.PingInterval
	}
	if hb.interval < MinPingInterval {
		s.log.Warnf("server ping interval %s is below %s, using %s", hb.interval, MinPingInterval, MinPingInterval)
		hb.interval = MinPingInterval
	}
	if hb.timeout <= 0 {
		hb.timeout = s.cfg.PingTimeout
	}
	return hb
}

func (s *Supervisor) handshake(ctx context.Context, target, token string) (*websocket.Conn, error) {
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, resp, err := s.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}

// wakeTimer is the backoff timer. It also fires when Probe asks for an
// immediate attempt.
type wakeTimer struct {
	wake <-chan struct{}
	c    chan time.Time
	stop chan struct{}
}

func (w *wakeTimer) Start(d time.Duration) {
	w.Stop()
	c, stop := make(chan time.Time, 1), make(chan struct{})
	w.c, w.stop = c, stop
	go func() {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case now := <-t.C:
			c <- now
		case <-w.wake:
			c <- time.Now()
		case <-stop:
		}
	}()
}

func (w *wakeTimer) Stop() {
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
}

func (w *wakeTimer) C() <-chan time.Time { return w.c }

func (s *Supervisor) fetchInfo(ctx context.Context) (realtime.Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.infoURL(), nil)
	if err != nil {
		return realtime.Info{}, backoff.Permanent(err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return realtime.Info{}, fmt.Errorf("server info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return realtime.Info{}, fmt.Errorf("server info: status %d", resp.StatusCode)
	}
	var info realtime.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return realtime.Info{}, fmt.Errorf("server info: %w", err)
	}
	return info, nil
}

// established publishes the connection, re-joins rooms and, after a
// reconnect, lets the caller re-fetch state missed while offline.
func (s *Supervisor) established(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.lastErr = nil
	select {
	case <-s.wake:
	default:
	}
	again := s.connected
	s.connected = true
	msgs := make([][]byte, 0, len(s.rooms))
	for _, m := range s.rooms {
		msgs = append(msgs, m)
	}
	s.mu.Unlock()
	s.setState(StateConnected)

	for _, m := range msgs {
		if err := s.write(m); err != nil {
			s.log.Warnf("re-join room: %v", err)
		}
	}
	if again && s.onReconnect != nil {
		s.onReconnect()
	}
}

func (s *Supervisor) serve(ctx context.Context, conn *websocket.Conn, hb heartbeat) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetReadDeadline(hb.deadline())
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(hb.deadline())
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(hb.timeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(hb.deadline())
		select {
		case s.pong <- struct{}{}:
		default:
		}
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.log.Warnf("realtime connection lost: %v", err)
			s.closeConn()
			return
		}
		_ = conn.SetReadDeadline(hb.deadline())
		env, err := realtime.Decode(data)
		if err != nil {
			s.log.Warnf("realtime: %v", err)
			continue
		}
		if env.Event == realtime.EventRoomError {
			s.log.Warnf("room request rejected: %s", string(env.Data))
		}
		if s.onEvent != nil {
			s.onEvent(env)
		}
	}
}

// closeConn closes the current socket so a new dial never overlaps it.
func (s *Supervisor) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
