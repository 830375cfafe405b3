package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/mitchellh/go-ps"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	api "github.com/oshokin/ship-safety/internal/api/grpc/safety"
	"github.com/oshokin/ship-safety/internal/config"
	"github.com/oshokin/ship-safety/internal/logger"
	"github.com/oshokin/ship-safety/internal/repository/eventlog"
	repository "github.com/oshokin/ship-safety/internal/repository/state"
	"github.com/oshokin/ship-safety/internal/version"
)

// Options controls the safety-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// StateFile specifies the path to persist the ship snapshot.
	StateFile string
	// ShipFile overrides the ship layout from settings.
	ShipFile string
	// ProtocolsFile overrides the protocol catalogue from settings.
	ProtocolsFile string
	// AllowParallel skips the single instance check.
	AllowParallel bool
}

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// Run starts the coordinator, the periodic tasks and the gRPC server and blocks
// until ctx is canceled. On the way out every subsystem is reset.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "safety-server")

	// Load configuration first to get server settings.
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if err = logger.Configure(settings.LogLevel, settings.LogFormat); err != nil {
		logger.WarnKV(ctx, "Invalid logger settings, using defaults", "error", err)
	}

	overrideString(&settings.StateFile, opts.StateFile)
	overrideString(&settings.ShipFile, opts.ShipFile)
	overrideString(&settings.ProtocolsFile, opts.ProtocolsFile)

	if !opts.AllowParallel {
		if err = ensureSingleInstance(ctx, ps.Processes); err != nil {
			return err
		}
	}

	// Determine listen address: CLI argument overrides config.
	listenAddress, err := resolveListenAddress(settings.ListenAddress, settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	deps, err := loadComponents(settings)
	if err != nil {
		return err
	}

	svc, err := newService(ctx, settings, deps)
	if err != nil {
		closeStores(ctx, deps)

		return fmt.Errorf("initialise service: %w", err)
	}

	// Setup TCP listener for gRPC server.
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		svc.close(context.WithoutCancel(ctx))

		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	logger.InfoKV(ctx, "Safety server listening", append(version.KV(),
		"listen_address", listenAddress,
		"state_file", settings.StateFile,
		"event_db", settings.EventDB,
		"ship_status", svc.coordinator.ShipStatus())...)

	err = serve(ctx, svc, lis)

	svc.close(context.WithoutCancel(ctx))
	logger.Info(ctx, "Safety server stopped")

	return err
}

// serve runs the coordinator, the periodic tasks, the metrics endpoint and the
// gRPC server until ctx is canceled.
func serve(ctx context.Context, svc *service, lis net.Listener) error {
	group, groupCtx := errgroup.WithContext(ctx)
	mon := newMonitor(svc)

	// The consumer outlives ctx so queued events drain after a signal.
	group.Go(func() error {
		return svc.coordinator.Run(context.WithoutCancel(groupCtx))
	})

	group.Go(func() error {
		<-groupCtx.Done()
		svc.coordinator.Shutdown(context.WithoutCancel(groupCtx))

		return nil
	})

	mon.startupCheck(groupCtx)

	group.Go(func() error {
		return every(groupCtx, "compliance", svc.settings.ComplianceInterval, mon.checkCompliance)
	})

	group.Go(func() error {
		return every(groupCtx, "health", svc.settings.HealthInterval, func(ctx context.Context) error {
			mon.checkHealth(ctx)

			return nil
		})
	})

	group.Go(func() error {
		return every(groupCtx, "sampling", svc.settings.SampleInterval, mon.sample)
	})

	if svc.settings.MetricsAddress != "" {
		group.Go(func() error {
			return serveMetrics(groupCtx, svc, svc.settings.MetricsAddress)
		})
	}

	group.Go(func() error {
		return serveGRPC(groupCtx, svc, lis)
	})

	return group.Wait()
}

// serveGRPC blocks until ctx is canceled and the server has stopped.
func serveGRPC(ctx context.Context, svc *service, lis net.Listener) error {
	// Create and configure gRPC server with the safety service.
	grpcServer := grpc.NewServer()
	api.NewServer(svc.coordinator).Register(grpcServer)

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")

		// Subscription streams only end when the broadcaster closes.
		svc.broadcaster.Close()
		grpcServer.GracefulStop()
		close(done)
	}()

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "GRPC server stopped")

	return nil
}

// serveMetrics exposes the Prometheus registry over HTTP.
func serveMetrics(ctx context.Context, svc *service, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(svc.prometheus, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: config.DefaultTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.DefaultTimeout)
		defer cancel()

		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.InfoKV(ctx, "Metrics endpoint listening", "metrics_address", address)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}

	return nil
}

// loadComponents reads the ship layout and catalogue and opens the stores.
func loadComponents(settings *config.Config) (components, error) {
	ship, err := config.LoadShip(settings.ShipFile)
	if err != nil {
		return components{}, fmt.Errorf("load ship layout: %w", err)
	}

	catalogue, err := config.LoadCatalogue(settings.ProtocolsFile)
	if err != nil {
		return components{}, fmt.Errorf("load protocols: %w", err)
	}

	deps := components{
		ship:      ship,
		catalogue: catalogue,
		store:     repository.NewFileRepository(settings.StateFile),
	}

	if settings.EventDB != "" {
		if deps.archive, err = eventlog.Open(settings.EventDB); err != nil {
			return components{}, fmt.Errorf("open event archive: %w", err)
		}
	}

	if deps.samples, err = newSampleWriter(settings.Telemetry); err != nil {
		if deps.archive != nil {
			_ = deps.archive.Close()
		}

		return components{}, err
	}

	return deps, nil
}

// closeStores releases stores opened by loadComponents when the service never started.
func closeStores(ctx context.Context, deps components) {
	if deps.archive != nil {
		if err := deps.archive.Close(); err != nil {
			logger.WarnKV(ctx, "Failed to close event archive", "error", err)
		}
	}

	if deps.samples != nil {
		if err := deps.samples.Close(); err != nil {
			logger.WarnKV(ctx, "Failed to close telemetry writer", "error", err)
		}
	}
}

func overrideString(target *string, override string) {
	if override != "" {
		*target = override
	}
}

// resolveListenAddress determines the listen address for the gRPC server.
// An override wins, then the configured listen address. Otherwise the port is
// taken from the server address clients dial (e.g. ":50051" for all interfaces).
func resolveListenAddress(listenAddr, serverAddr, override string) (string, error) {
	// Use override address if provided (e.g., ":9090", "0.0.0.0:8080").
	if override != "" {
		return override, nil
	}

	if listenAddr != "" {
		return listenAddr, nil
	}

	// Extract port from config address (e.g., "bridge.local:50051" -> ":50051").
	if serverAddr == "" {
		return "", ErrNoServerAddress
	}

	// Parse the address to extract port.
	_, port, err := net.SplitHostPort(serverAddr)
	if err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", serverAddr, err)
	}

	// Return port-only listen address to bind on all interfaces.
	return ":" + port, nil
}
