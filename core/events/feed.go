package events

import "github.com/kilianp07/routesync/core/model"

// AdminNoteCreated is published after an admin note is stored. Route is the
// note's route, used to reach its driver.
type AdminNoteCreated struct {
	Note  model.AdminNote
	Route model.Route
}

// DriverLocationUpdated relays a GPS fix received over HTTP or MQTT.
type DriverLocationUpdated struct {
	Location model.DriverLocation
}
