// Package events defines the domain signals published on the in-process bus
// after a stop or route changes state.
//
// Available event types:
//   - StopStatusChanged: a stop moved to a new status
//   - RouteStatusChanged: a route's derived status moved forward
//   - AdminNoteCreated: an admin attached a note to a route
//   - DriverLocationUpdated: a driver reported a position
package events
