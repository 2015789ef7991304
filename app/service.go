// Package app wires the dispatch engines, transports and observability
// into one runnable service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetglide/dispatchd/api"
	"github.com/fleetglide/dispatchd/config"
	"github.com/fleetglide/dispatchd/core/alert"
	"github.com/fleetglide/dispatchd/core/alert/audit"
	"github.com/fleetglide/dispatchd/core/assign"
	"github.com/fleetglide/dispatchd/core/ingest"
	coremetrics "github.com/fleetglide/dispatchd/core/metrics"
	"github.com/fleetglide/dispatchd/core/model"
	"github.com/fleetglide/dispatchd/core/notify"
	"github.com/fleetglide/dispatchd/core/reopt"
	"github.com/fleetglide/dispatchd/core/state"
	"github.com/fleetglide/dispatchd/core/travel"
	"github.com/fleetglide/dispatchd/infra/logger"
	"github.com/fleetglide/dispatchd/infra/metrics"
	"github.com/fleetglide/dispatchd/infra/mqtt"
)

// Service orchestrates the dispatch operations core: telemetry flows from
// MQTT through ingest into the live state store, classified telemetry feeds
// the alert engine, and every committed change fans out to subscribers.
type Service struct {
	Store  *state.Store
	Alerts *alert.Engine
	Assign *assign.Engine
	Reopt  *reopt.Engine
	Hub    *notify.Hub

	cfg       *config.Config
	log       logger.Logger
	sink      coremetrics.Sink
	trail     audit.Store
	ingestor  *ingest.Ingestor
	mqttCli   *mqtt.Client
	telemetry chan model.TelemetryEvent
	alertsIn  chan model.TelemetryEvent
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	log := logger.New("service")

	sink, err := metrics.NewSink(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	hub := notify.NewHub(cfg.Notify, logger.New("notify"), sink)
	store := state.New(
		state.WithStaleAfter(cfg.Ingest.StaleAfter()),
		state.WithChangeHook(hub.PublishChange),
	)

	trail, err := newAuditStore(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}

	alerts := alert.New(cfg.Alerts, trail, logger.New("alerts"), sink,
		alert.WithTransitionHook(hub.PublishAlert))

	est := travel.NewStaticEstimator(0)

	alertsIn := make(chan model.TelemetryEvent, cfg.Alerts.QueueSize)
	ingestor := ingest.New(store, alertsIn, logger.New("ingest"), sink)
	telemetry := make(chan model.TelemetryEvent, cfg.Ingest.QueueSize)

	svc := &Service{
		Store:     store,
		Alerts:    alerts,
		Hub:       hub,
		cfg:       cfg,
		log:       log,
		sink:      sink,
		trail:     trail,
		ingestor:  ingestor,
		telemetry: telemetry,
		alertsIn:  alertsIn,
	}
	svc.Assign = assign.New(cfg.Assignment, store, est, logger.New("assign"), sink,
		assign.WithOfferHook(svc.publishOffer))
	svc.Reopt = reopt.New(cfg.Reopt, store, est, logger.New("reopt"))

	if cfg.MQTT.Broker != "" {
		cli, err := mqtt.NewClient(cfg.MQTT, telemetry, svc.onDriverAction)
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		svc.mqttCli = cli
	}
	return svc, nil
}

func newAuditStore(cfg config.AuditConfig) (audit.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return audit.NewSQLiteStore(cfg.Path)
	case "memory":
		return audit.NewMemoryStore(), nil
	default:
		return audit.NewJSONLStore(cfg.Path)
	}
}

// Telemetry returns the inbound telemetry channel, used by the simulator
// to inject events without a broker.
func (s *Service) Telemetry() chan<- model.TelemetryEvent { return s.telemetry }

func (s *Service) onDriverAction(act mqtt.DriverAction) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	switch act.Action {
	case "accept":
		if _, err := s.Assign.Accept(ctx, act.JobID); err != nil {
			s.log.Warnf("driver %s accept for job %s refused: %v", act.DriverID, act.JobID, err)
		}
	case "decline":
		if err := s.Assign.Decline(act.JobID); err != nil {
			s.log.Warnf("driver %s decline for job %s refused: %v", act.DriverID, act.JobID, err)
		}
	case "start":
		if _, err := s.Assign.Start(act.JobID); err != nil {
			s.log.Warnf("driver %s start for job %s refused: %v", act.DriverID, act.JobID, err)
		}
	case "complete":
		if _, err := s.Assign.Complete(act.JobID); err != nil {
			s.log.Warnf("driver %s complete for job %s refused: %v", act.DriverID, act.JobID, err)
		}
	case "fail":
		if _, err := s.Assign.Fail(act.JobID); err != nil {
			s.log.Warnf("driver %s fail for job %s refused: %v", act.DriverID, act.JobID, err)
		}
	}
}

func (s *Service) publishOffer(o assign.Offer) {
	if s.mqttCli == nil {
		return
	}
	go func() {
		if err := s.mqttCli.PublishOffer(mqtt.OfferMessage{
			OfferID:   o.ID,
			JobID:     o.JobID,
			DriverID:  o.DriverID,
			VehicleID: o.VehicleID,
			ExpiresAt: o.ExpiresAt,
		}); err != nil {
			s.log.Errorf("offer %s publish failed: %v", o.ID, err)
		}
	}()
}

// Run starts all loops and blocks until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	go s.ingestor.Run(ctx, s.telemetry)
	go s.Alerts.Run(ctx, s.alertsIn)

	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	go s.reportFleetSize(ctx)

	srv := &http.Server{
		Addr:    s.cfg.API.Addr,
		Handler: api.New(s.Store, s.Alerts, s.Assign, s.Reopt, logger.New("api")).Handler(),
	}
	go func() {
		<-ctx.Done()
		grace := time.Duration(s.cfg.API.ShutdownGraceSeconds) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api shutdown: %v", err)
		}
	}()
	s.log.Infof("dispatchd listening on %s", s.cfg.API.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// reportFleetSize refreshes the fleet-size gauge every 30 seconds.
func (s *Service) reportFleetSize(ctx context.Context) {
	rec, ok := s.sink.(coremetrics.FleetSizeRecorder)
	if !ok {
		return
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := rec.RecordFleetSize(len(s.Store.Vehicles())); err != nil {
				s.log.Errorf("fleet size metrics: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.mqttCli != nil {
		s.mqttCli.Disconnect()
	}
	s.Assign.Close()
	s.Alerts.Stop()
	s.Hub.Close()
	return s.trail.Close()
}
