// Package api exposes the REST surface: stop transitions and reads, the
// safety gate, admin notes, driver locations and KPI queries. It also mounts
// the realtime socket next to the routes so one listener serves both.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/kilianp07/routesync/auth"
	"github.com/kilianp07/routesync/core/events"
	"github.com/kilianp07/routesync/core/lifecycle"
	"github.com/kilianp07/routesync/core/logger"
	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/safety"
	"github.com/kilianp07/routesync/core/store"
	"github.com/kilianp07/routesync/internal/clock"
)

// NotePublisher receives created admin notes.
type NotePublisher interface {
	Publish(events.AdminNoteCreated)
}

// LocationPublisher receives accepted driver fixes.
type LocationPublisher interface {
	Publish(events.DriverLocationUpdated)
}

// Realtime is the socket endpoint mounted at /ws.
type Realtime interface {
	http.Handler
	InfoHandler() http.Handler
}

// Deps are the collaborators of the REST handlers. Notes, Locations and
// Realtime are optional.
type Deps struct {
	Lifecycle *lifecycle.Manager
	Gate      *safety.Gate
	Store     store.Store
	Verifier  auth.Verifier
	Notes     NotePublisher
	Locations LocationPublisher
	Realtime  Realtime
	Clock     clock.Clock
	Log       logger.Logger
}

// Options tune the HTTP surface.
type Options struct {
	CORSOrigins    []string
	IdempotencyTTL time.Duration
}

// Server routes REST and socket requests.
type Server struct {
	lifecycle *lifecycle.Manager
	gate      *safety.Gate
	store     store.Store
	verifier  auth.Verifier
	notes     NotePublisher
	locations LocationPublisher
	clock     clock.Clock
	log       logger.Logger
	idem      *idempotency
	handler   http.Handler
}

// New builds the router.
func New(opts Options, d Deps) *Server {
	s := &Server{
		lifecycle: d.Lifecycle,
		gate:      d.Gate,
		store:     d.Store,
		verifier:  d.Verifier,
		notes:     d.Notes,
		locations: d.Locations,
		clock:     d.Clock,
		log:       d.Log,
		idem:      newIdempotency(opts.IdempotencyTTL),
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}

	r := mux.NewRouter()
	r.Use(requestID, s.recovery, s.accessLog)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if d.Realtime != nil {
		r.Handle("/ws/info", d.Realtime.InfoHandler()).Methods(http.MethodGet)
		r.Handle("/ws", d.Realtime).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/stops/{id}/status", s.idem.wrap(transitionScope, s.transitionStop)).Methods(http.MethodPost)
	api.HandleFunc("/stops/{id}", s.getStop).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}/stops", s.listRouteStops).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}/safety-check", s.safetyStatus).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}/safety-check", s.submitSafetyCheck).Methods(http.MethodPost)
	api.HandleFunc("/routes/{id}/notes", s.listNotes).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}/notes", s.createNote).Methods(http.MethodPost)
	api.HandleFunc("/drivers/me/location", s.reportLocation).Methods(http.MethodPost)
	api.HandleFunc("/drivers/{id}/kpis", s.listKPIs).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", IdempotencyHeader, RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         600,
	})
	s.handler = c.Handler(r)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func actorOf(r *http.Request) model.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}
