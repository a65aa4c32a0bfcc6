package events

import (
	"time"

	"github.com/kilianp07/routesync/core/model"
)

// RouteStatusChanged is published only when a conditional route update
// actually changed a row.
type RouteStatusChanged struct {
	Route model.Route
	At    time.Time
}
