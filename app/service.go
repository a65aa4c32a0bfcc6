// Package app composes the stores, the lifecycle core, its reactors and the
// network surfaces into one runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/routesync/api"
	"github.com/kilianp07/routesync/auth"
	"github.com/kilianp07/routesync/config"
	"github.com/kilianp07/routesync/core/events"
	"github.com/kilianp07/routesync/core/lifecycle"
	coremetrics "github.com/kilianp07/routesync/core/metrics"
	"github.com/kilianp07/routesync/core/monitoring"
	"github.com/kilianp07/routesync/core/reactor"
	"github.com/kilianp07/routesync/core/safety"
	"github.com/kilianp07/routesync/core/store"
	"github.com/kilianp07/routesync/infra/logger"
	"github.com/kilianp07/routesync/infra/metrics"
	inframon "github.com/kilianp07/routesync/infra/monitoring"
	"github.com/kilianp07/routesync/infra/mqtt"
	_ "github.com/kilianp07/routesync/infra/sqlstore" // sqlite and postgres backends
	"github.com/kilianp07/routesync/infra/ws"
	"github.com/kilianp07/routesync/internal/clock"
	"github.com/kilianp07/routesync/internal/eventbus"
)

// Service owns every long-lived component.
type Service struct {
	cfg   *config.Config
	log   logger.Logger
	clock clock.Clock

	Store   store.Store
	Gate    *safety.Gate
	Manager *lifecycle.Manager
	Hub     *ws.Hub
	API     *api.Server

	stopBus  *eventbus.TypedBus[events.StopStatusChanged]
	routeBus *eventbus.TypedBus[events.RouteStatusChanged]
	noteBus  *eventbus.TypedBus[events.AdminNoteCreated]
	locBus   *eventbus.TypedBus[events.DriverLocationUpdated]

	stopHandlers []reactor.Handler[events.StopStatusChanged]
	broadcaster  *ws.Broadcaster
	sink         coremetrics.KPISink
	ingest       *mqtt.LocationIngest
	ownsStore    bool
	closeOnce    sync.Once
}

// Option customizes New.
type Option func(*Service)

// WithStore injects an already opened store. The caller keeps ownership.
func WithStore(s store.Store) Option { return func(svc *Service) { svc.Store = s } }

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option { return func(svc *Service) { svc.clock = c } }

// New wires the service from cfg. Nothing listens until Run.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	logger.SetLevel(cfg.Logging.Level)
	svc := &Service{cfg: cfg, log: logger.New("service"), clock: clock.Real()}
	for _, o := range opts {
		o(svc)
	}

	mon, err := inframon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	monitoring.Init(mon)

	if svc.Store == nil {
		st, err := store.Open(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Store.Type, err)
		}
		svc.Store = st
		svc.ownsStore = true
	}

	verifier, err := auth.NewHMAC(cfg.Auth)
	if err != nil {
		_ = svc.closeStore()
		return nil, fmt.Errorf("auth: %w", err)
	}
	loc, err := cfg.Safety.Location()
	if err != nil {
		_ = svc.closeStore()
		return nil, err
	}

	buf := cfg.Reactors.Buffer
	svc.stopBus = eventbus.NewTypedWithBuffer[events.StopStatusChanged](buf)
	svc.routeBus = eventbus.NewTypedWithBuffer[events.RouteStatusChanged](buf)
	svc.noteBus = eventbus.NewTypedWithBuffer[events.AdminNoteCreated](buf)
	svc.locBus = eventbus.NewTypedWithBuffer[events.DriverLocationUpdated](buf)

	svc.sink, err = metrics.NewKPISink(cfg.Metrics)
	if err != nil {
		_ = svc.closeStore()
		return nil, fmt.Errorf("kpi sink: %w", err)
	}

	svc.Gate = safety.NewGate(svc.Store, loc, svc.clock)
	svc.Manager = lifecycle.NewManager(svc.Store, svc.Store, svc.Gate, svc.stopBus, logger.New("lifecycle"), lifecycle.WithClock(svc.clock))

	svc.Hub = ws.NewHub(cfg.Realtime.Hub(cfg.HTTP.CORSOrigins), verifier, logger.New("realtime"))
	svc.broadcaster = ws.NewBroadcaster(svc.Hub)

	svc.stopHandlers = []reactor.Handler[events.StopStatusChanged]{
		reactor.NewRouteAggregator(svc.Store, svc.Store, svc.routeBus, svc.clock, logger.New("route_aggregator")),
		reactor.NewAutoAdvancer(svc.Store, svc.Manager, logger.New("auto_advance")),
		reactor.NewKPIAccumulator(svc.Store, svc.sink, svc.Gate.Today, svc.clock, logger.New("kpi_accumulator")),
		svc.broadcaster.OnStop(),
	}

	svc.API = api.New(api.Options{
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		IdempotencyTTL: cfg.HTTP.IdempotencyTTL(),
	}, api.Deps{
		Lifecycle: svc.Manager,
		Gate:      svc.Gate,
		Store:     svc.Store,
		Verifier:  verifier,
		Notes:     svc.noteBus,
		Locations: svc.locBus,
		Realtime:  svc.Hub,
		Clock:     svc.clock,
		Log:       logger.New("api"),
	})
	return svc, nil
}

// Handler returns the REST and socket handler.
func (s *Service) Handler() http.Handler { return s.API }

// StartReactors subscribes every reactor. The returned function waits for
// the loops to exit after ctx is cancelled.
func (s *Service) StartReactors(ctx context.Context) (wait func()) {
	log := logger.New("reactor")
	groups := []*sync.WaitGroup{
		reactor.Start(ctx, s.stopBus, log, s.stopHandlers...),
		reactor.Start(ctx, s.routeBus, log, s.broadcaster.OnRoute()),
		reactor.Start(ctx, s.noteBus, log, s.broadcaster.OnNote()),
		reactor.Start(ctx, s.locBus, log, s.broadcaster.OnLocation()),
	}
	return func() {
		for _, wg := range groups {
			wg.Wait()
		}
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTP.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.HTTP.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve starts reactors, the broker ingest and the metrics listener, then
// serves HTTP on ln. It blocks until ctx is cancelled or a listener fails.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MQTT.Enabled {
		ingest, err := mqtt.NewLocationIngest(s.cfg.MQTT, s.locBus)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("mqtt location ingest: %w", err)
		}
		s.ingest = ingest
	}

	g, ctx := errgroup.WithContext(ctx)
	wait := s.StartReactors(ctx)

	srv := &http.Server{
		Handler:           s.API,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		s.log.Infof("listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.Hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if s.cfg.Metrics.PrometheusEnabled {
		g.Go(func() error {
			return metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort)
		})
	}

	err := g.Wait()
	wait()
	return err
}

// Close releases the broker connection, the sinks, the buses and the store
// when New opened it.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.ingest != nil {
			s.ingest.Close()
		}
		s.stopBus.Close()
		s.routeBus.Close()
		s.noteBus.Close()
		s.locBus.Close()
		metrics.CloseSink(s.sink)
		monitoring.Flush(2 * time.Second)
		err = s.closeStore()
	})
	return err
}

func (s *Service) closeStore() error {
	if !s.ownsStore || s.Store == nil {
		return nil
	}
	return s.Store.Close()
}
