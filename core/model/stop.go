package model

import (
	"strings"
	"time"
)

// StopStatus is the lifecycle state of a delivery stop.
type StopStatus string

const (
	StopPending   StopStatus = "PENDING"
	StopOnTheWay  StopStatus = "ON_THE_WAY"
	StopArrived   StopStatus = "ARRIVED"
	StopCompleted StopStatus = "COMPLETED"
	StopCancelled StopStatus = "CANCELLED"
)

// forward lists the single allowed successor of each progress state.
var forward = map[StopStatus]StopStatus{
	StopPending:  StopOnTheWay,
	StopOnTheWay: StopArrived,
	StopArrived:  StopCompleted,
}

// ParseStopStatus validates a client supplied status.
func ParseStopStatus(s string) (StopStatus, bool) {
	st := StopStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StopPending, StopOnTheWay, StopArrived, StopCompleted, StopCancelled:
		return st, true
	}
	return "", false
}

// Terminal reports whether no further transition is possible.
func (s StopStatus) Terminal() bool { return s == StopCompleted || s == StopCancelled }

// Started reports whether the stop has left PENDING through the progress path.
func (s StopStatus) Started() bool {
	return s == StopOnTheWay || s == StopArrived || s == StopCompleted
}

// CanTransition reports whether from -> to is an edge of the stop state machine.
// Re-requesting the current status is not a transition.
func CanTransition(from, to StopStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == StopCancelled {
		return true
	}
	next, ok := forward[from]
	return ok && next == to
}

// Stop is one delivery destination within a route.
type Stop struct {
	ID             string     `json:"id"`
	RouteID        string     `json:"routeId"`
	Sequence       int        `json:"sequence"`
	Status         StopStatus `json:"status"`
	OnTheWayTime   *time.Time `json:"onTheWayTime,omitempty"`
	ArrivalTime    *time.Time `json:"arrivalTime,omitempty"`
	CompletionTime *time.Time `json:"completionTime,omitempty"`
	// DriverID is empty for stops imported without a resolved driver; DriverName
	// then carries the name supplied by the upload.
	DriverID      string     `json:"driverId,omitempty"`
	DriverName    string     `json:"driverName,omitempty"`
	CustomerName  string     `json:"customerName,omitempty"`
	Amount        float64    `json:"amount"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	PaymentStatus string     `json:"paymentStatus,omitempty"`
	DeletedAt     *time.Time `json:"-"`
}

// Deleted reports whether the stop was soft deleted.
func (s Stop) Deleted() bool { return s.DeletedAt != nil }

// AssignedTo reports whether the stop belongs to the given driver. A stop
// without a driver id falls back to a case-insensitive match of the uploaded
// driver name, and a stop with neither belongs to the route's driver.
func (s Stop) AssignedTo(r Route, driverID, username string) bool {
	if s.DriverID != "" {
		return s.DriverID == driverID
	}
	if name := strings.TrimSpace(s.DriverName); name != "" {
		return strings.EqualFold(name, strings.TrimSpace(username))
	}
	return r.DriverID != "" && r.DriverID == driverID
}

// Apply moves the stop to status to and stamps the matching timestamp.
func (s *Stop) Apply(to StopStatus, at time.Time) {
	s.Status = to
	ts := at
	switch to {
	case StopOnTheWay:
		s.OnTheWayTime = &ts
	case StopArrived:
		s.ArrivalTime = &ts
	case StopCompleted:
		s.CompletionTime = &ts
	}
}
