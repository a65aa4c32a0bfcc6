package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/kilianp07/routesync/core/errs"
	"github.com/kilianp07/routesync/core/events"
	"github.com/kilianp07/routesync/core/model"
)

// onRoute reports whether the driver owns the route or one of its stops.
func (s *Server) onRoute(ctx context.Context, route model.Route, actor model.Actor) (bool, error) {
	if route.DriverID == actor.ID {
		return true, nil
	}
	stops, err := s.store.ListRouteStops(ctx, route.ID)
	if err != nil {
		return false, err
	}
	for _, st := range stops {
		if st.AssignedTo(route, actor.ID, actor.Username) {
			return true, nil
		}
	}
	return false, nil
}

// routeForDriver loads the route and checks the driver is assigned to it.
func (s *Server) routeForDriver(ctx context.Context, routeID string, actor model.Actor) (model.Route, error) {
	if !actor.Can(model.CapDriver) {
		return model.Route{}, errs.E(errs.NotAuthorized, "role %s is not a driver", actor.Role)
	}
	route, err := s.store.GetRoute(ctx, routeID)
	if err != nil {
		return model.Route{}, err
	}
	ok, err := s.onRoute(ctx, route, actor)
	if err != nil {
		return model.Route{}, err
	}
	if !ok {
		return model.Route{}, errs.E(errs.NotAuthorized, "route %s is not assigned to driver %s", routeID, actor.ID)
	}
	return route, nil
}

// safetyStatus answers whether the caller still owes today's check. Admins
// query on behalf of a driver with ?driverId=.
func (s *Server) safetyStatus(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	routeID := mux.Vars(r)["id"]
	driverID := actor.ID
	if actor.IsAdmin() {
		driverID = r.URL.Query().Get("driverId")
		if driverID == "" {
			s.writeError(w, r, errs.E(errs.Invalid, "driverId is required"))
			return
		}
		if _, err := s.store.GetRoute(r.Context(), routeID); err != nil {
			s.writeError(w, r, err)
			return
		}
	} else if _, err := s.routeForDriver(r.Context(), routeID, actor); err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.gate.Status(r.Context(), routeID, driverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// submitSafetyCheck records today's check. A repeat on the same day returns
// the original outcome with 200 instead of 201.
func (s *Server) submitSafetyCheck(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	routeID := mux.Vars(r)["id"]
	if _, err := s.routeForDriver(r.Context(), routeID, actor); err != nil {
		s.writeError(w, r, err)
		return
	}
	check, created, err := s.gate.Submit(r.Context(), routeID, actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, check)
}

type noteRequest struct {
	StopID string `json:"stopId"`
	Body   string `json:"body"`
}

func (s *Server) createNote(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	if !actor.IsAdmin() {
		s.writeError(w, r, errs.E(errs.NotAuthorized, "notes require an administrator"))
		return
	}
	var req noteRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Body == "" {
		s.writeError(w, r, errs.E(errs.Invalid, "note body is required"))
		return
	}
	route, err := s.store.GetRoute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.StopID != "" {
		stop, err := s.store.GetStop(r.Context(), req.StopID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if stop.RouteID != route.ID {
			s.writeError(w, r, errs.E(errs.Invalid, "stop %s is not on route %s", stop.ID, route.ID))
			return
		}
	}
	note := model.AdminNote{
		ID:        uuid.NewString(),
		RouteID:   route.ID,
		StopID:    req.StopID,
		AuthorID:  actor.ID,
		Body:      req.Body,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.AddNote(r.Context(), note); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.notes != nil {
		s.notes.Publish(events.AdminNoteCreated{Note: note, Route: route})
	}
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) listNotes(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	routeID := mux.Vars(r)["id"]
	if actor.IsAdmin() {
		if _, err := s.store.GetRoute(r.Context(), routeID); err != nil {
			s.writeError(w, r, err)
			return
		}
	} else if _, err := s.routeForDriver(r.Context(), routeID, actor); err != nil {
		s.writeError(w, r, err)
		return
	}
	notes, err := s.store.ListNotes(r.Context(), routeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if notes == nil {
		notes = []model.AdminNote{}
	}
	writeJSON(w, http.StatusOK, notes)
}
