package ws

import (
	"context"

	"github.com/kilianp07/routesync/core/events"
	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/reactor"
	"github.com/kilianp07/routesync/core/realtime"
)

// Emitter fans an event out to rooms.
type Emitter interface {
	Emit(event string, data any, rooms ...string) error
}

// Broadcaster maps domain signals to socket events and their rooms.
type Broadcaster struct {
	out Emitter
}

func NewBroadcaster(out Emitter) *Broadcaster { return &Broadcaster{out: out} }

// StopChanged reaches admins, watchers of the route and the stop's driver.
func (b *Broadcaster) StopChanged(_ context.Context, ev events.StopStatusChanged) error {
	p := realtime.NewStopStatusPayload(ev.Stop, ev.Route, ev.At)
	// A stop assigned by name alone is resolved through the driver who moved it.
	if p.DriverID == "" && ev.Actor.ID != "" && ev.Actor.Can(model.CapDriver) &&
		ev.Stop.AssignedTo(ev.Route, ev.Actor.ID, ev.Actor.Username) {
		p.DriverID = ev.Actor.ID
	}
	rooms := []string{realtime.AdminRoom, realtime.RouteRoom(ev.Stop.RouteID)}
	if p.DriverID != "" {
		rooms = append(rooms, realtime.DriverRoom(p.DriverID))
	}
	return b.out.Emit(realtime.EventStopStatusUpdated, p, rooms...)
}

func (b *Broadcaster) RouteChanged(_ context.Context, ev events.RouteStatusChanged) error {
	rooms := []string{realtime.AdminRoom, realtime.RouteRoom(ev.Route.ID)}
	if ev.Route.DriverID != "" {
		rooms = append(rooms, realtime.DriverRoom(ev.Route.DriverID))
	}
	return b.out.Emit(realtime.EventRouteStatusUpdated, realtime.NewRouteStatusPayload(ev.Route, ev.At), rooms...)
}

func (b *Broadcaster) NoteCreated(_ context.Context, ev events.AdminNoteCreated) error {
	rooms := []string{realtime.AdminRoom, realtime.RouteRoom(ev.Note.RouteID)}
	if ev.Route.DriverID != "" {
		rooms = append(rooms, realtime.DriverRoom(ev.Route.DriverID))
	}
	return b.out.Emit(realtime.EventAdminNoteCreated, realtime.NewAdminNotePayload(ev.Note), rooms...)
}

func (b *Broadcaster) LocationUpdated(_ context.Context, ev events.DriverLocationUpdated) error {
	rooms := []string{realtime.AdminRoom}
	if ev.Location.RouteID != "" {
		rooms = append(rooms, realtime.RouteRoom(ev.Location.RouteID))
	}
	return b.out.Emit(realtime.EventDriverLocationUpdated, realtime.NewDriverLocationPayload(ev.Location), rooms...)
}

// Reactor handlers for each signal.

func (b *Broadcaster) OnStop() reactor.Handler[events.StopStatusChanged] {
	return reactor.HandlerFunc("ws_stop_broadcast", b.StopChanged)
}

func (b *Broadcaster) OnRoute() reactor.Handler[events.RouteStatusChanged] {
	return reactor.HandlerFunc("ws_route_broadcast", b.RouteChanged)
}

func (b *Broadcaster) OnNote() reactor.Handler[events.AdminNoteCreated] {
	return reactor.HandlerFunc("ws_note_broadcast", b.NoteCreated)
}

func (b *Broadcaster) OnLocation() reactor.Handler[events.DriverLocationUpdated] {
	return reactor.HandlerFunc("ws_location_broadcast", b.LocationUpdated)
}
