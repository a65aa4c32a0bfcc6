package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/realtime"
)

const maxMessageSize = 4096

// Conn is one authenticated socket. Its room set is guarded by the hub mutex.
type Conn struct {
	id    string
	actor model.Actor
	hub   *Hub
	ws    *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	rooms     map[string]struct{}
	routeRoom string
}

func newConn(h *Hub, ws *websocket.Conn, actor model.Actor) *Conn {
	return &Conn{
		id:    newConnID(),
		actor: actor,
		hub:   h,
		ws:    ws,
		send:  make(chan []byte, h.cfg.SendQueue),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}
}

// enqueue never blocks. A full queue drops msg.
func (c *Conn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		dropped.Inc()
		return false
	}
}

func (c *Conn) reply(event string, data any) {
	msg, err := realtime.Encode(event, data)
	if err != nil {
		c.hub.log.Errorf("ws encode %s: %v", event, err)
		return
	}
	c.enqueue(msg)
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()
	deadline := c.hub.cfg.PingInterval + c.hub.cfg.PingTimeout
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debugf("ws read %s: %v", c.id, err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
		env, err := realtime.Decode(data)
		if err != nil {
			c.reply(realtime.EventRoomError, realtime.RoomError{Reason: err.Error()})
			continue
		}
		c.hub.handle(c, env)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
