package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/animat-simulator/core"
	"github.com/signalsfoundry/animat-simulator/internal/config"
	"github.com/signalsfoundry/animat-simulator/internal/coverage"
	"github.com/signalsfoundry/animat-simulator/internal/logging"
	"github.com/signalsfoundry/animat-simulator/internal/observability"
	"github.com/signalsfoundry/animat-simulator/internal/persistence"
	"github.com/signalsfoundry/animat-simulator/internal/remote"
	"github.com/signalsfoundry/animat-simulator/internal/sim/runner"
	"github.com/signalsfoundry/animat-simulator/internal/sim/state"
	"github.com/signalsfoundry/animat-simulator/kb"
	"github.com/signalsfoundry/animat-simulator/model"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file; embedded defaults when empty")
	grpcAddr := flag.String("grpc-addr", "", "TCP address the remote object server listens on (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides config)")
	autostart := flag.Bool("start", false, "Start stepping the simulation immediately")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.NewFromEnv().Error(ctx, "failed to load configuration", logging.String("path", *configPath), logging.Err(err))
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if *grpcAddr != "" {
		cfg.Remote.Address = *grpcAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.Address = *metricsAddr
	}

	log := logging.New(cfg.LoggerConfig())
	if err := cfg.Validate(); err != nil {
		log.Error(ctx, "invalid configuration", logging.Err(err))
		os.Exit(1)
	}

	lis, err := net.Listen("tcp", cfg.Remote.Address)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Remote.Address), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(stopCtx, cfg, log, lis, *autostart); err != nil {
		log.Error(ctx, "animat server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the configured simulation on lis until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener, autostart bool) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.ApplyTracingEnv(cfg.TracerConfig()), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	remoteMetrics, err := observability.NewRemoteCollector(reg)
	if err != nil {
		return fmt.Errorf("init remote metrics: %w", err)
	}
	simMetrics, err := observability.NewSimulationCollector(reg)
	if err != nil {
		return fmt.Errorf("init simulation metrics: %w", err)
	}

	sim, err := buildSimulation(ctx, cfg, log, simMetrics)
	if err != nil {
		return err
	}

	registry := remote.NewRegistry(log,
		remote.WithUnexportTimeout(cfg.Remote.UnexportTimeout),
		remote.WithMetrics(remoteMetrics),
	)
	if err := sim.Export(registry, cfg.Remote.Name); err != nil {
		return fmt.Errorf("export simulation: %w", err)
	}
	server := remote.NewGRPCServer(registry, log, remoteMetrics)
	metricsSrv := newMetricsServer(cfg.Metrics.Address, remoteMetrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(ctx, "starting remote object server",
			logging.String("addr", lis.Addr().String()),
			logging.String("name", cfg.Remote.Name),
		)
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("remote server: %w", err)
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			log.Info(ctx, "serving Prometheus metrics", logging.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down animat server")
		server.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs := []error{sim.Shutdown(shutdownCtx)}
		if metricsSrv != nil {
			errs = append(errs, metricsSrv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	if autostart {
		sim.Start()
	}
	return g.Wait()
}

// buildSimulation assembles the environment from cfg: coverage layers, the
// species catalog and one population per species seeded from the configured
// positions and, when set, the samples database.
func buildSimulation(ctx context.Context, cfg *config.Config, log logging.Logger, recorder runner.StepRecorder) (*runner.Simulation, error) {
	clock, err := cfg.Clock()
	if err != nil {
		return nil, fmt.Errorf("build clock: %w", err)
	}
	params, err := cfg.Catalog()
	if err != nil {
		return nil, fmt.Errorf("build parameters: %w", err)
	}
	species, err := cfg.BuildSpecies(params)
	if err != nil {
		return nil, fmt.Errorf("build species: %w", err)
	}

	layers := coverage.NewCatalog()
	for _, f := range cfg.Data.Coverage {
		if err := layers.LoadFile(f.Parameter, f.Path); err != nil {
			return nil, err
		}
	}

	knowledge := kb.NewKnowledgeBase()
	for _, s := range species {
		if err := knowledge.AddSpecies(s); err != nil {
			return nil, err
		}
	}
	for _, p := range cfg.Populations {
		for _, pos := range p.Positions {
			entry := model.SampleEntry{Species: p.Species, Time: clock.Now(), Position: core.Point{Lon: pos.Lon, Lat: pos.Lat}}
			if _, err := knowledge.AddSample(entry); err != nil {
				return nil, err
			}
		}
	}
	if cfg.Data.Samples != "" {
		store, err := persistence.Open(cfg.Data.Samples, params)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		if err := knowledge.Import(ctx, store); err != nil {
			return nil, err
		}
	}

	env := state.NewEnvironment(clock, log,
		state.WithDataSource(layers),
		state.WithSpecies(species...),
		state.WithSeed(cfg.Simulation.Seed),
	)
	if err := env.Populate(ctx, knowledge); err != nil {
		log.Warn(ctx, "some samples were not placed", logging.Err(err))
	}
	log.Info(ctx, "environment ready",
		logging.Int("populations", len(env.Populations())),
		logging.Int("coverage_layers_last_step", layers.LastStep()),
		logging.Time("start", clock.Now()),
	)

	return runner.New(env, log,
		runner.WithDelay(cfg.Simulation.Delay),
		runner.WithStepRecorder(recorder),
	), nil
}

func newMetricsServer(addr string, collector *observability.RemoteCollector) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
