package events

import (
	"time"

	"github.com/kilianp07/routesync/core/model"
)

// Source tells reactors what produced a stop transition.
type Source string

const (
	SourceDriver Source = "driver"
	SourceAuto   Source = "auto_advance"
)

// StopStatusChanged is published after a stop transition is persisted.
// Actor is the driver on whose behalf the change happened, including for
// automatic advances.
type StopStatusChanged struct {
	Stop     model.Stop
	Route    model.Route
	Previous model.StopStatus
	Actor    model.Actor
	Source   Source
	At       time.Time
}

// Completed reports whether the stop reached COMPLETED in this change.
func (e StopStatusChanged) Completed() bool {
	return e.Stop.Status == model.StopCompleted && e.Previous != model.StopCompleted
}
