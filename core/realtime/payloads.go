package realtime

import (
	"time"

	"github.com/kilianp07/routesync/core/model"
)

// StopStatusPayload is the allow-listed view of a stop change.
type StopStatusPayload struct {
	StopID       string           `json:"stopId"`
	RouteID      string           `json:"routeId"`
	Status       model.StopStatus `json:"status"`
	DriverID     string           `json:"driverId"`
	DriverName   string           `json:"driverName"`
	CustomerName string           `json:"customerName"`
	Timestamp    time.Time        `json:"timestamp"`
	Sequence     *int             `json:"sequence,omitempty"`
}

// NewStopStatusPayload resolves the driver from the stop, falling back to the
// route's driver.
func NewStopStatusPayload(s model.Stop, r model.Route, at time.Time) StopStatusPayload {
	driverID, driverName := s.DriverID, s.DriverName
	if driverID == "" && driverName == "" {
		driverID, driverName = r.DriverID, r.DriverName
	}
	seq := s.Sequence
	return StopStatusPayload{
		StopID:       s.ID,
		RouteID:      s.RouteID,
		Status:       s.Status,
		DriverID:     driverID,
		DriverName:   driverName,
		CustomerName: s.CustomerName,
		Timestamp:    at,
		Sequence:     &seq,
	}
}

// RouteStatusPayload is the allow-listed view of a route change.
type RouteStatusPayload struct {
	RouteID    string            `json:"routeId"`
	Status     model.RouteStatus `json:"status"`
	DriverID   string            `json:"driverId"`
	DriverName string            `json:"driverName"`
	Timestamp  time.Time         `json:"timestamp"`
}

func NewRouteStatusPayload(r model.Route, at time.Time) RouteStatusPayload {
	return RouteStatusPayload{RouteID: r.ID, Status: r.Status, DriverID: r.DriverID, DriverName: r.DriverName, Timestamp: at}
}

// AdminNotePayload announces a new admin note.
type AdminNotePayload struct {
	NoteID    string    `json:"noteId"`
	RouteID   string    `json:"routeId"`
	StopID    string    `json:"stopId,omitempty"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

func NewAdminNotePayload(n model.AdminNote) AdminNotePayload {
	return AdminNotePayload{NoteID: n.ID, RouteID: n.RouteID, StopID: n.StopID, AuthorID: n.AuthorID, Body: n.Body, Timestamp: n.CreatedAt}
}

// DriverLocationPayload relays a driver GPS fix.
type DriverLocationPayload struct {
	DriverID  string    `json:"driverId"`
	RouteID   string    `json:"routeId,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewDriverLocationPayload(l model.DriverLocation) DriverLocationPayload {
	return DriverLocationPayload{
		DriverID:  l.DriverID,
		RouteID:   l.RouteID,
		Lat:       l.Lat,
		Lng:       l.Lng,
		Heading:   l.Heading,
		Speed:     l.Speed,
		Timestamp: l.Timestamp,
	}
}
