// Package app wires the configured components into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/vetdispatch/api"
	"github.com/kilianp07/vetdispatch/app/plugins"
	"github.com/kilianp07/vetdispatch/auth"
	"github.com/kilianp07/vetdispatch/config"
	"github.com/kilianp07/vetdispatch/core/clock"
	"github.com/kilianp07/vetdispatch/core/dispatch"
	dispatchlog "github.com/kilianp07/vetdispatch/core/dispatch/logging"
	coremetrics "github.com/kilianp07/vetdispatch/core/metrics"
	"github.com/kilianp07/vetdispatch/core/model"
	coremon "github.com/kilianp07/vetdispatch/core/monitoring"
	"github.com/kilianp07/vetdispatch/core/notify"
	"github.com/kilianp07/vetdispatch/core/policy"
	"github.com/kilianp07/vetdispatch/core/reliability"
	"github.com/kilianp07/vetdispatch/infra/logger"
	"github.com/kilianp07/vetdispatch/infra/metrics"
	"github.com/kilianp07/vetdispatch/infra/monitoring"
	"github.com/kilianp07/vetdispatch/infra/mqtt"
	"github.com/kilianp07/vetdispatch/infra/natsbus"
	"github.com/kilianp07/vetdispatch/infra/realtime"
	"github.com/kilianp07/vetdispatch/internal/eventbus"
)

// Service orchestrates the dispatch manager, its transports and the HTTP API.
type Service struct {
	Manager *dispatch.Manager
	Policy  *policy.Policy
	Stores  *plugins.Stores
	Audit   dispatchlog.LogStore

	cfg      *config.Config
	log      logger.Logger
	sink     coremetrics.MetricsSink
	bus      *eventbus.TypedBus[dispatchlog.TransitionRecord]
	hub      *notify.Hub
	mqtt     *mqtt.PahoClient
	nats     *natsbus.Notifier
	http     *http.Server
	promHTTP *http.Server
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	svc := &Service{cfg: cfg, log: logg, sink: sink}
	ok := false
	defer func() {
		if !ok {
			_ = svc.Close()
		}
	}()

	svc.Stores, err = plugins.NewStores(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if cfg.Store.SeedFile != "" {
		if err := seed(context.Background(), svc.Stores, cfg.Store.SeedFile); err != nil {
			return nil, err
		}
	}
	svc.Audit, err = plugins.NewLogStore(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("log store: %w", err)
	}

	svc.hub = notify.NewHub(cfg.Realtime.Buffer, nil)
	notifiers := notify.Multi{svc.hub}
	if cfg.MQTT.Enabled {
		svc.mqtt, err = mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		rn, err := mqtt.NewRoomNotifier(svc.mqtt, cfg.MQTT)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, rn)
	}
	if cfg.NATS.Enabled {
		svc.nats, err = natsbus.New(cfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		notifiers = append(notifiers, svc.nats)
	}

	clk := clock.Real{}
	svc.Policy, err = policy.New(cfg.Policy, svc.Stores.Providers, svc.Stores.Appointments, clk, logger.New("policy"), notifiers)
	if err != nil {
		return nil, err
	}
	svc.Manager, err = dispatch.NewManager(cfg.Dispatch, svc.Stores.Requests, svc.Stores.Providers, svc.Policy, clk, notifiers, sink, logger.New("dispatch"))
	if err != nil {
		return nil, fmt.Errorf("dispatch manager: %w", err)
	}
	svc.Manager.SetLogStore(svc.Audit)
	svc.bus = eventbus.NewTyped[dispatchlog.TransitionRecord]()
	svc.Manager.SetTransitionBus(svc.bus)

	if svc.mqtt != nil {
		pl, err := mqtt.NewPresenceListener(svc.mqtt, cfg.MQTT, svc.Manager.ProviderAvailabilityChanged)
		if err != nil {
			return nil, err
		}
		if err := pl.Start(); err != nil {
			return nil, fmt.Errorf("presence listener: %w", err)
		}
	}

	var rt *realtime.Server
	if cfg.Realtime.Enabled {
		rt, err = realtime.NewServer(svc.hub, cfg.Realtime)
		if err != nil {
			return nil, err
		}
	}
	signer, err := auth.NewSigner(cfg.HTTP.JWTSecret)
	if err != nil {
		return nil, err
	}
	router, err := api.NewRouter(api.Deps{
		Manager:      svc.Manager,
		Policy:       svc.Policy,
		Providers:    svc.Stores.Providers,
		Audit:        svc.Audit,
		Realtime:     rt,
		Signer:       signer,
		Log:          logger.New("api"),
		ServeMetrics: cfg.Metrics.PrometheusPort == "",
	})
	if err != nil {
		return nil, err
	}
	svc.http = &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: time.Duration(cfg.HTTP.ReadTimeoutSeconds) * time.Second,
	}
	if port := cfg.Metrics.PrometheusPort; port != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		svc.promHTTP = &http.Server{Addr: listenAddr(port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	ok = true
	return svc, nil
}

// listenAddr accepts both "9100" and ":9100" (or "host:9100").
func listenAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// seed loads providers and scheduled appointments into empty stores.
func seed(ctx context.Context, s *plugins.Stores, path string) error {
	data, err := config.LoadSeed(path)
	if err != nil {
		return err
	}
	for _, p := range data.Providers {
		p.Reliability = reliability.Recompute(p.Reliability)
		if err := s.Providers.Put(ctx, p); err != nil {
			return fmt.Errorf("seed provider %s: %w", p.ID, err)
		}
	}
	for _, a := range data.Appointments {
		appt := model.Appointment{
			ID:          a.ID,
			ProviderID:  a.ProviderID,
			RequesterID: a.RequesterID,
			Modality:    a.Modality,
			StartsAt:    a.StartsAt,
			Status:      model.AppointmentScheduled,
		}
		if err := s.Appointments.Put(ctx, appt); err != nil {
			return fmt.Errorf("seed appointment %s: %w", a.ID, err)
		}
	}
	return nil
}

// Run serves HTTP until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	collected := metrics.StartTransitionCollector(ctx, s.bus, s.sink)

	servers := []*http.Server{s.http}
	if s.promHTTP != nil {
		servers = append(servers, s.promHTTP)
	}
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			s.log.Infof("listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})
	err := g.Wait()
	<-collected
	return err
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	if s.Manager != nil {
		errs = append(errs, s.Manager.Close())
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if s.nats != nil {
		errs = append(errs, s.nats.Close())
	}
	if s.Audit != nil {
		errs = append(errs, s.Audit.Close())
	}
	if s.Stores != nil {
		errs = append(errs, s.Stores.Close())
	}
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
