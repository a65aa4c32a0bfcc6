package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kilianp07/routesync/core/errs"
	"github.com/kilianp07/routesync/core/events"
	"github.com/kilianp07/routesync/core/model"
)

type locationRequest struct {
	RouteID   string     `json:"routeId"`
	Lat       *float64   `json:"lat"`
	Lng       *float64   `json:"lng"`
	Heading   *float64   `json:"heading"`
	Speed     *float64   `json:"speed"`
	Timestamp *time.Time `json:"timestamp"`
}

func (s *Server) reportLocation(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	if !actor.Can(model.CapDriver) {
		s.writeError(w, r, errs.E(errs.NotAuthorized, "only drivers report locations"))
		return
	}
	var req locationRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Lat == nil || req.Lng == nil {
		s.writeError(w, r, errs.E(errs.Invalid, "lat and lng are required"))
		return
	}
	if req.RouteID != "" {
		if _, err := s.routeForDriver(r.Context(), req.RouteID, actor); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	loc := model.DriverLocation{
		DriverID:  actor.ID,
		RouteID:   req.RouteID,
		Lat:       *req.Lat,
		Lng:       *req.Lng,
		Heading:   req.Heading,
		Speed:     req.Speed,
		Timestamp: s.clock.Now(),
	}
	if req.Timestamp != nil {
		loc.Timestamp = *req.Timestamp
	}
	if err := loc.Validate(); err != nil {
		s.writeError(w, r, errs.Wrap(errs.Invalid, err, "invalid location"))
		return
	}
	if s.locations != nil {
		s.locations.Publish(events.DriverLocationUpdated{Location: loc})
	}
	writeJSON(w, http.StatusAccepted, loc)
}

// listKPIs returns DailyKPI rows between start and end (inclusive
// YYYY-MM-DD). "me" resolves to the caller.
func (s *Server) listKPIs(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	driverID := mux.Vars(r)["id"]
	if driverID == "me" {
		driverID = actor.ID
	}
	if !actor.IsAdmin() && driverID != actor.ID {
		s.writeError(w, r, errs.E(errs.NotAuthorized, "cannot read KPIs of driver %s", driverID))
		return
	}
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")
	for _, d := range []string{start, end} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(model.DateLayout, d); err != nil {
			s.writeError(w, r, errs.E(errs.Invalid, "date %q must be YYYY-MM-DD", d))
			return
		}
	}
	if start != "" && end != "" && start > end {
		s.writeError(w, r, errs.E(errs.Invalid, "start %s is after end %s", start, end))
		return
	}
	rows, err := s.store.ListKPIs(r.Context(), driverID, start, end)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.DailyKPI{}
	}
	writeJSON(w, http.StatusOK, rows)
}
