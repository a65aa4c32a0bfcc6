package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kilianp07/routesync/core/errs"
	"github.com/kilianp07/routesync/core/model"
)

type transitionRequest struct {
	Status string `json:"status"`
}

func transitionScope(r *http.Request) string {
	return actorOf(r).ID + "|" + mux.Vars(r)["id"]
}

func (s *Server) transitionStop(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, ok := model.ParseStopStatus(req.Status)
	if !ok {
		s.writeError(w, r, errs.E(errs.Invalid, "unknown status %q", req.Status))
		return
	}
	stop, err := s.lifecycle.Transition(r.Context(), mux.Vars(r)["id"], to, actorOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stop)
}

func (s *Server) getStop(w http.ResponseWriter, r *http.Request) {
	stop, err := s.lifecycle.GetStop(r.Context(), mux.Vars(r)["id"], actorOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stop)
}

func (s *Server) listRouteStops(w http.ResponseWriter, r *http.Request) {
	stops, err := s.lifecycle.ListRouteStops(r.Context(), mux.Vars(r)["id"], actorOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stops)
}
