// Package realtime defines the socket protocol shared by the server hub and
// the client supervisor: the message envelope, room names and the
// allow-listed event payloads.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TransportWebSocket is the only transport the server speaks. Clients must be
// configured with the same value.
const TransportWebSocket = "websocket"

// Server to client events.
const (
	EventStopStatusUpdated     = "stop_status_updated"
	EventRouteStatusUpdated    = "route_status_updated"
	EventAdminNoteCreated      = "admin_note_created"
	EventDriverLocationUpdated = "driver_location_updated"
	EventRoomJoined            = "room_joined"
	EventRoomLeft              = "room_left"
	EventRoomError             = "room_error"
)

// Client to server messages.
const (
	MsgJoinRouteRoom  = "join_route_room"
	MsgJoinDriverRoom = "join_driver_room"
	MsgJoinAdminRoom  = "join_admin_room"
	MsgLeaveRoom      = "leave_room"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an envelope around data.
func Encode(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode parses an envelope.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event")
	}
	return env, nil
}

// Info is served at /ws/info so clients can check transport and heartbeat
// settings before dialing. Durations are milliseconds.
type Info struct {
	Transport    string `json:"transport"`
	PingInterval int64  `json:"pingInterval"`
	PingTimeout  int64  `json:"pingTimeout"`
}

// Interval returns the ping interval as a duration.
func (i Info) Interval() time.Duration { return time.Duration(i.PingInterval) * time.Millisecond }

// Timeout returns the ping timeout as a duration.
func (i Info) Timeout() time.Duration { return time.Duration(i.PingTimeout) * time.Millisecond }

// Room names.
const (
	AdminRoom        = "admin"
	driverRoomPrefix = "driver:"
	routeRoomPrefix  = "route:"
)

// DriverRoom is the personal room of a driver.
func DriverRoom(id string) string { return driverRoomPrefix + id }

// RouteRoom is the watch room of a route.
func RouteRoom(id string) string { return routeRoomPrefix + id }

// IsRouteRoom reports whether room is a route watch room.
func IsRouteRoom(room string) bool { return strings.HasPrefix(room, routeRoomPrefix) }

// JoinRouteRoom is the payload of join_route_room.
type JoinRouteRoom struct {
	RouteID string `json:"routeId"`
}

// JoinDriverRoom is the payload of join_driver_room.
type JoinDriverRoom struct {
	DriverID string `json:"driverId"`
}

// LeaveRoom is the payload of leave_room.
type LeaveRoom struct {
	Room string `json:"room"`
}

// RoomAck confirms a join or leave.
type RoomAck struct {
	Room string `json:"room"`
}

// RoomError rejects a room request.
type RoomError struct {
	Request string `json:"request"`
	Room    string `json:"room,omitempty"`
	Reason  string `json:"reason"`
}
