package api

import (
	"encoding/json"
	"net/http"

	"github.com/kilianp07/routesync/core/errs"
)

type errorBody struct {
	Kind    errs.Kind `json:"kind"`
	Error   string    `json:"error"`
	RouteID string    `json:"routeId,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.NotFound:
		return http.StatusNotFound
	case errs.NotAuthorized:
		return http.StatusForbidden
	case errs.InvalidTransition:
		return http.StatusUnprocessableEntity
	case errs.SafetyCheckRequired:
		return http.StatusPreconditionRequired
	case errs.ConflictingUpdate:
		return http.StatusConflict
	case errs.Invalid:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)
	body := errorBody{Kind: kind, Error: err.Error(), RouteID: errs.RouteIDOf(err)}
	if status == http.StatusInternalServerError {
		s.log.Errorw("request failed", err, map[string]any{
			"path":       r.URL.Path,
			"request_id": requestIDFrom(r.Context()),
		})
		body = errorBody{Kind: "Internal", Error: "internal error"}
	}
	writeJSON(w, status, body)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeJSON(w, http.StatusUnauthorized, errorBody{Kind: errs.NotAuthorized, Error: msg})
}

// decode reads a JSON body into v, reporting malformed input as Invalid.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errs.Wrap(errs.Invalid, err, "malformed request body")
	}
	return nil
}
