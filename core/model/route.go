package model

import "time"

// RouteStatus is derived from the statuses of a route's stops.
type RouteStatus string

const (
	RoutePending    RouteStatus = "PENDING"
	RouteInProgress RouteStatus = "IN_PROGRESS"
	RouteCompleted  RouteStatus = "COMPLETED"
)

// DateLayout is the layout of calendar-day keys.
const DateLayout = "2006-01-02"

// Route is an ordered set of stops assigned to a driver for one day.
type Route struct {
	ID         string      `json:"id"`
	DriverID   string      `json:"driverId"`
	DriverName string      `json:"driverName,omitempty"`
	Date       string      `json:"date"`
	Status     RouteStatus `json:"status"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Complete reports whether every non-cancelled stop is completed. A route
// whose stops are all cancelled is never complete.
func Complete(stops []Stop) bool {
	live := 0
	for _, s := range stops {
		if s.Status == StopCancelled {
			continue
		}
		if s.Status != StopCompleted {
			return false
		}
		live++
	}
	return live > 0
}

// Day formats t as a calendar-day key in loc.
func Day(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateLayout)
}
