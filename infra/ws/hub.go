// Package ws is the realtime event bus: authenticated WebSocket connections
// grouped into rooms, with at-most-once fan-out of domain events.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kilianp07/routesync/auth"
	"github.com/kilianp07/routesync/core/logger"
	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/realtime"
)

// Config tunes the hub.
type Config struct {
	PingInterval   time.Duration
	PingTimeout    time.Duration
	WriteTimeout   time.Duration
	SendQueue      int
	AllowedOrigins []string
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.PingInterval == 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 20 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendQueue == 0 {
		c.SendQueue = 64
	}
}

// Hub owns the connection and room registry.
type Hub struct {
	cfg      Config
	verifier auth.Verifier
	log      logger.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Conn
	rooms map[string]map[string]*Conn
}

// NewHub creates a hub that authenticates handshakes with verifier.
func NewHub(cfg Config, verifier auth.Verifier, log logger.Logger) *Hub {
	cfg.SetDefaults()
	h := &Hub{
		cfg:      cfg,
		verifier: verifier,
		log:      log,
		conns:    make(map[string]*Conn),
		rooms:    make(map[string]map[string]*Conn),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// ServeHTTP authenticates and upgrades a connection. A missing or invalid
// token is refused with 401 before the upgrade.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.FromRequest(r)
	if token == "" {
		authFailures.Inc()
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	actor, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		authFailures.Inc()
		h.log.Warnf("ws handshake refused: %v", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("ws upgrade: %v", err)
		return
	}
	c := newConn(h, ws, actor)
	h.register(c)
	go c.writePump()
	c.readPump()
}

// InfoHandler serves the transport and heartbeat settings.
func (h *Hub) InfoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.Info())
	})
}

// Info returns the advertised settings.
func (h *Hub) Info() realtime.Info {
	return realtime.Info{
		Transport:    realtime.TransportWebSocket,
		PingInterval: h.cfg.PingInterval.Milliseconds(),
		PingTimeout:  h.cfg.PingTimeout.Milliseconds(),
	}
}

// Emit queues event once to every connection in any of rooms.
func (h *Hub) Emit(event string, data any, rooms ...string) error {
	msg, err := realtime.Encode(event, data)
	if err != nil {
		return err
	}
	h.mu.RLock()
	targets := make(map[string]*Conn)
	for _, room := range rooms {
		for id, c := range h.rooms[room] {
			targets[id] = c
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.enqueue(msg) {
			emitted.WithLabelValues(event).Inc()
		}
	}
	return nil
}

// ConnCount returns the number of registered connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Members returns the number of connections in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close disconnects every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.close()
	}
}

func (h *Hub) register(c *Conn) {
	var auto []string
	switch {
	case c.actor.IsAdmin():
		auto = append(auto, realtime.AdminRoom)
	case c.actor.Can(model.CapDriver):
		auto = append(auto, realtime.DriverRoom(c.actor.ID))
	}
	h.mu.Lock()
	h.conns[c.id] = c
	for _, room := range auto {
		h.joinLocked(c, room)
	}
	h.mu.Unlock()
	connections.Inc()
	h.log.Debugw("ws connected", map[string]any{"conn": c.id, "actor": c.actor.ID, "role": string(c.actor.Role)})
	for _, room := range auto {
		c.reply(realtime.EventRoomJoined, realtime.RoomAck{Room: room})
	}
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.id)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()
	connections.Dec()
	h.log.Debugw("ws disconnected", map[string]any{"conn": c.id, "actor": c.actor.ID})
}

func (h *Hub) joinLocked(c *Conn, room string) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[c.id] = c
	c.rooms[room] = struct{}{}
	if realtime.IsRouteRoom(room) {
		c.routeRoom = room
	}
}

func (h *Hub) leaveLocked(c *Conn, room string) {
	if members := h.rooms[room]; members != nil {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
	if c.routeRoom == room {
		c.routeRoom = ""
	}
}

var errForbidden = errors.New("not authorized")

// join puts c in room. A route room replaces the connection's previous one.
func (h *Hub) join(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if realtime.IsRouteRoom(room) && c.routeRoom != "" && c.routeRoom != room {
		h.leaveLocked(c, c.routeRoom)
	}
	h.joinLocked(c, room)
}

func (h *Hub) leave(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

// handle applies one client message.
func (h *Hub) handle(c *Conn, env realtime.Envelope) {
	room, err := h.resolve(c, env)
	if err != nil {
		roomRejected.WithLabelValues(env.Event).Inc()
		c.reply(realtime.EventRoomError, realtime.RoomError{Request: env.Event, Room: room, Reason: err.Error()})
		return
	}
	if env.Event == realtime.MsgLeaveRoom {
		h.leave(c, room)
		c.reply(realtime.EventRoomLeft, realtime.RoomAck{Room: room})
		return
	}
	h.join(c, room)
	c.reply(realtime.EventRoomJoined, realtime.RoomAck{Room: room})
}

func (h *Hub) resolve(c *Conn, env realtime.Envelope) (string, error) {
	switch env.Event {
	case realtime.MsgJoinRouteRoom:
		var m realtime.JoinRouteRoom
		if err := decodeData(env, &m); err != nil || m.RouteID == "" {
			return "", errors.New("routeId required")
		}
		return realtime.RouteRoom(m.RouteID), nil
	case realtime.MsgJoinDriverRoom:
		var m realtime.JoinDriverRoom
		if err := decodeData(env, &m); err != nil || m.DriverID == "" {
			return "", errors.New("driverId required")
		}
		room := realtime.DriverRoom(m.DriverID)
		if !c.actor.IsAdmin() {
			return room, errForbidden
		}
		return room, nil
	case realtime.MsgJoinAdminRoom:
		if !c.actor.IsAdmin() {
			return realtime.AdminRoom, errForbidden
		}
		return realtime.AdminRoom, nil
	case realtime.MsgLeaveRoom:
		var m realtime.LeaveRoom
		if err := decodeData(env, &m); err != nil || m.Room == "" {
			return "", errors.New("room required")
		}
		return m.Room, nil
	}
	return "", fmt.Errorf("unknown message %q", env.Event)
}

func decodeData(env realtime.Envelope, v any) error {
	if len(env.Data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(env.Data, v)
}

func newConnID() string { return uuid.NewString() }
