package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oshokin/ship-safety/internal/config"
	"github.com/oshokin/ship-safety/internal/coordinator"
	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/health"
	"github.com/oshokin/ship-safety/internal/logger"
	"github.com/oshokin/ship-safety/internal/repository/eventlog"
	repository "github.com/oshokin/ship-safety/internal/repository/state"
	"github.com/oshokin/ship-safety/internal/repository/telemetry"
	"github.com/oshokin/ship-safety/internal/subsystem"
	"github.com/oshokin/ship-safety/internal/subsystem/cctv"
	"github.com/oshokin/ship-safety/internal/subsystem/comms"
	"github.com/oshokin/ship-safety/internal/subsystem/compliance"
	"github.com/oshokin/ship-safety/internal/subsystem/estop"
	"github.com/oshokin/ship-safety/internal/subsystem/fire"
	"github.com/oshokin/ship-safety/internal/subsystem/paga"
)

// notificationBuffer is the per-observer channel size of the broadcaster.
const notificationBuffer = 64

// closer is implemented by adapters that own timers or sessions.
type closer interface {
	Close()
}

// service owns every long-lived component of the safety server.
// It is unexported to keep the transport decoupled from the wiring.
type service struct {
	// settings are the loaded process settings.
	settings *config.Config
	// registry holds every adapter, compliance last.
	registry *coordinator.Registry
	// coordinator runs protocols and answers commands.
	coordinator *coordinator.Coordinator
	// broadcaster fans out processed-event notifications.
	broadcaster *coordinator.Broadcaster
	// aggregator scores subsystem states.
	aggregator *health.Aggregator
	// metrics exports health gauges.
	metrics *health.Metrics
	// prometheus is the registry served on the metrics endpoint.
	prometheus *prometheus.Registry
	// archive is the SQLite event history.
	archive *eventlog.Store
	// samples receives periodic health samples.
	samples telemetry.Writer
	// adapters are closed on shutdown in registration order.
	adapters []safety.Adapter
}

// components are the external dependencies a service is built from.
// Tests replace the stores and sinks; Run fills them from settings.
type components struct {
	ship      *config.Ship
	catalogue *safety.Catalogue
	store     repository.Repository
	archive   *eventlog.Store
	samples   telemetry.Writer
	clock     subsystem.Clock
	scheduler subsystem.Scheduler
}

// newService builds adapters, the coordinator and its collaborators.
func newService(ctx context.Context, settings *config.Config, deps components) (*service, error) {
	if deps.clock == nil {
		deps.clock = time.Now
	}

	if deps.samples == nil {
		deps.samples = telemetry.LogWriter{}
	}

	adapterOpts := []subsystem.Option{
		subsystem.WithClock(deps.clock),
		subsystem.WithIODelay(settings.IODelay),
		subsystem.WithTestPolicy(safety.TestPolicy{MaxFailedRatio: settings.TestFailureRatio}),
	}

	if deps.scheduler != nil {
		adapterOpts = append(adapterOpts, subsystem.WithScheduler(deps.scheduler))
	}

	adapters, err := buildAdapters(deps.ship, adapterOpts)
	if err != nil {
		return nil, err
	}

	registry := coordinator.NewRegistry()
	for _, adapter := range adapters {
		if err = registry.Register(adapter); err != nil {
			closeAdapters(adapters)

			return nil, fmt.Errorf("register %s: %w", adapter.System(), err)
		}
	}

	// Compliance reads every other adapter through the registry, so it goes last.
	monitor, err := compliance.New(deps.ship.Compliance, registry, adapterOpts...)
	if err != nil {
		closeAdapters(adapters)

		return nil, fmt.Errorf("create compliance monitor: %w", err)
	}

	if err = registry.Register(monitor); err != nil {
		closeAdapters(adapters)

		return nil, fmt.Errorf("register compliance monitor: %w", err)
	}

	adapters = append(adapters, monitor)

	promRegistry := prometheus.NewRegistry()

	healthMetrics, err := health.NewMetrics(promRegistry)
	if err != nil {
		closeAdapters(adapters)

		return nil, fmt.Errorf("register health metrics: %w", err)
	}

	coordinatorMetrics, err := coordinator.NewMetrics(promRegistry)
	if err != nil {
		closeAdapters(adapters)

		return nil, fmt.Errorf("register coordinator metrics: %w", err)
	}

	aggregator := health.New(environmentSource(settings.Environment), deps.clock)
	broadcaster := coordinator.NewBroadcaster(notificationBuffer)

	opts := coordinator.Options{
		StepTimeout:  settings.StepTimeout,
		StepRetries:  settings.StepRetries,
		EventLogSize: settings.EventLogSize,
		Notifier:     broadcaster,
		Store:        deps.store,
		Metrics:      coordinatorMetrics,
		Health:       aggregator,
		Clock:        deps.clock,
	}

	// A nil *eventlog.Store must not become a non-nil Archive interface.
	if deps.archive != nil {
		opts.Archive = deps.archive
	}

	coord, err := coordinator.New(ctx, registry, deps.catalogue, opts)
	if err != nil {
		closeAdapters(adapters)

		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	return &service{
		settings:    settings,
		registry:    registry,
		coordinator: coord,
		broadcaster: broadcaster,
		aggregator:  aggregator,
		metrics:     healthMetrics,
		prometheus:  promRegistry,
		archive:     deps.archive,
		samples:     deps.samples,
		adapters:    adapters,
	}, nil
}

// buildAdapters creates every adapter except compliance from the ship layout.
func buildAdapters(ship *config.Ship, opts []subsystem.Option) ([]safety.Adapter, error) {
	if ship == nil {
		return nil, errors.New("ship layout is required")
	}

	stop, err := estop.New(ship.EmergencyStop, opts...)
	if err != nil {
		return nil, fmt.Errorf("create emergency stop: %w", err)
	}

	adapters := []safety.Adapter{stop}

	detection, err := fire.New(ship.Fire, opts...)
	if err != nil {
		closeAdapters(adapters)

		return nil, fmt.Errorf("create fire detection: %w", err)
	}

	adapters = append(adapters, detection)

	cameras, err := cctv.New(ship.CCTV, opts...)
	if err != nil {
		closeAdapters(adapters)

		return nil, fmt.Errorf("create cctv: %w", err)
	}

	adapters = append(adapters, cameras)

	address, err := paga.New(ship.PAGA, opts...)
	if err != nil {
		closeAdapters(adapters)

		return nil, fmt.Errorf("create paga: %w", err)
	}

	adapters = append(adapters, address)

	radio, err := comms.New(ship.Comms, opts...)
	if err != nil {
		closeAdapters(adapters)

		return nil, fmt.Errorf("create communication: %w", err)
	}

	return append(adapters, radio), nil
}

// environmentSource selects the conditions used for score penalties.
func environmentSource(env config.Environment) health.EnvironmentSource {
	if !env.Enabled {
		return health.NoEnvironment{}
	}

	return health.StaticEnvironment{Observed: health.Conditions{
		Visibility: env.Visibility,
		SeaState:   env.SeaState,
		WindSpeed:  env.WindSpeed,
	}}
}

// newSampleWriter picks GreptimeDB when an address is configured, else the log.
func newSampleWriter(cfg config.Telemetry) (telemetry.Writer, error) {
	if cfg.Address == "" {
		return telemetry.LogWriter{}, nil
	}

	writer, err := telemetry.NewGreptimeWriter(telemetry.GreptimeConfig{
		Address:  cfg.Address,
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
		Table:    cfg.Table,
	})
	if err != nil {
		return nil, fmt.Errorf("connect telemetry: %w", err)
	}

	return writer, nil
}

// close resets the ship, then releases adapters and stores.
func (s *service) close(ctx context.Context) {
	s.coordinator.Shutdown(ctx)
	s.broadcaster.Close()

	closeAdapters(s.adapters)

	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			logger.WarnKV(ctx, "Failed to close event archive", "error", err)
		}
	}

	if err := s.samples.Close(); err != nil {
		logger.WarnKV(ctx, "Failed to close telemetry writer", "error", err)
	}
}

func closeAdapters(adapters []safety.Adapter) {
	for _, adapter := range adapters {
		if c, ok := adapter.(closer); ok {
			c.Close()
		}
	}
}
