package tests

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"

	"github.com/signalsfoundry/animat-simulator/core"
	"github.com/signalsfoundry/animat-simulator/internal/coverage"
	"github.com/signalsfoundry/animat-simulator/internal/logging"
	"github.com/signalsfoundry/animat-simulator/internal/remote"
	"github.com/signalsfoundry/animat-simulator/internal/sim/runner"
	"github.com/signalsfoundry/animat-simulator/internal/sim/state"
	"github.com/signalsfoundry/animat-simulator/model"
	"github.com/signalsfoundry/animat-simulator/timectrl"
)

const simName = "tuna-e2e"

type remoteTestEnv struct {
	ctx        context.Context
	env        *state.Environment
	sim        *runner.Simulation
	registry   *remote.Registry
	grpcServer *grpc.Server
	handle     *remote.SimulationHandle
}

// sstLayers builds steps layers of a 5x5 degree grid around (150, -10) whose
// value peaks in the north-east corner.
func sstLayers(t *testing.T, steps int) *coverage.Catalog {
	t.Helper()
	var b strings.Builder
	b.WriteString("step,lon,lat,value\n")
	for step := 0; step < steps; step++ {
		for lon := 148; lon <= 152; lon++ {
			for lat := -12; lat <= -8; lat++ {
				fmt.Fprintf(&b, "%d,%d,%d,%d\n", step, lon, lat, 20+(lon-148)+(lat+12))
			}
		}
	}
	cat := coverage.NewCatalog()
	if err := cat.LoadCSV("sst", strings.NewReader(b.String())); err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	return cat
}

func pointOf(m map[string]any) core.Point {
	lon, _ := m["lon"].(float64)
	lat, _ := m["lat"].(float64)
	return core.Point{Lon: lon, Lat: lat}
}

func newRemoteTestEnv(t *testing.T, steps int) *remoteTestEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)

	sst := model.NewParameter("sst", "degC", model.Range{Min: 10, Max: 35})
	species := &model.Species{
		Name:             "skipjack",
		MaxDailyDistance: 20,
		PerceptionRadius: 15,
		Parameters:       []*model.Parameter{model.Heading, sst},
	}
	clock := timectrl.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 24*time.Hour, time.UTC)
	env := state.NewEnvironment(clock, logging.Noop(),
		state.WithSeed(11),
		state.WithSpecies(species),
		state.WithDataSource(sstLayers(t, steps)),
	)
	sim := runner.New(env, logging.Noop(), runner.WithDelay(time.Millisecond))
	registry := remote.NewRegistry(logging.Noop())
	if err := sim.Export(registry, simName); err != nil {
		t.Fatalf("Export: %v", err)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	grpcServer := remote.NewGRPCServer(registry, logging.Noop(), nil)
	go func() { _ = grpcServer.Serve(lis) }()

	handle, err := remote.Lookup(ctx, lis.Addr().String(), simName)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	t.Cleanup(func() {
		_ = handle.Close()
		grpcServer.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sim.Shutdown(shutdownCtx)
	})

	return &remoteTestEnv{
		ctx:        ctx,
		env:        env,
		sim:        sim,
		registry:   registry,
		grpcServer: grpcServer,
		handle:     handle,
	}
}

func (e *remoteTestEnv) newAnimal(t *testing.T, lon, lat float64) (remote.ObjectRef, remote.ObjectRef) {
	t.Helper()
	c := e.handle.Client()
	envRef, err := e.handle.Environment(e.ctx)
	if err != nil {
		t.Fatalf("Environment: %v", err)
	}
	pop, err := c.InvokeRef(e.ctx, envRef, "newPopulation", "population", nil)
	if err != nil {
		t.Fatalf("newPopulation: %v", err)
	}
	animal, err := c.InvokeRef(e.ctx, pop, "newAnimal", "animal", map[string]any{
		"species": "skipjack",
		"lon":     lon,
		"lat":     lat,
	})
	if err != nil {
		t.Fatalf("newAnimal: %v", err)
	}
	return pop, animal
}

func (e *remoteTestEnv) waitFinished(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		st, err := e.handle.Status(e.ctx)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.Finished {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("simulation did not finish, status %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRemoteSimulationRunsToEndOfData(t *testing.T) {
	e := newRemoteTestEnv(t, 4)
	_, animal := e.newAnimal(t, 150, -10)
	c := e.handle.Client()

	if _, err := e.handle.Start(e.ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.waitFinished(t)

	st, err := e.handle.Status(e.ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Step != 3 || st.Running {
		t.Fatalf("Status() = %+v, want finished at step 3", st)
	}
	if want := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC); !st.Time.Equal(want) {
		t.Fatalf("Status().Time = %v, want %v", st.Time, want)
	}

	path, err := c.Invoke(e.ctx, animal, "path", nil)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	points, _ := path["points"].([]any)
	if len(points) != 4 {
		t.Fatalf("path has %d points, want one per step (4)", len(points))
	}
	first, _ := points[0].(map[string]any)
	last, _ := points[len(points)-1].(map[string]any)
	start := core.Point{Lon: 150, Lat: -10}
	if got := pointOf(first); !got.Equal(start, 1e-9) {
		t.Fatalf("path starts at %v, want (150, -10)", first)
	}
	end := pointOf(last)
	if d := core.Distance(start, end); d > 3*20+1e-6 {
		t.Fatalf("animal swam %.2f nmi in three days, want at most 60", d)
	}

	obs, err := c.Invoke(e.ctx, animal, "observations", nil)
	if err != nil {
		t.Fatalf("observations: %v", err)
	}
	entries, _ := obs["observations"].([]any)
	if len(entries) != 2 {
		t.Fatalf("observations = %v, want heading and sst", obs)
	}
	sstObs, _ := entries[1].(map[string]any)
	if sstObs["parameter"] != "sst" {
		t.Fatalf("second observation = %v, want sst", sstObs)
	}
	if _, ok := sstObs["location"]; !ok {
		t.Fatalf("sst observation has no peak location: %v", sstObs)
	}

	full, err := e.handle.Report(e.ctx, true)
	if err != nil {
		t.Fatalf("Report(full): %v", err)
	}
	if full.NumAnimals != 1 || full.PercentMissingData != 0 {
		t.Fatalf("Report(full) = %+v, want one animal and no missing data", full)
	}

	if _, err := e.handle.Start(e.ctx); err != nil {
		t.Fatalf("Start on a finished simulation: %v", err)
	}
	if st, _ := e.handle.Status(e.ctx); st.Running || st.Step != 3 {
		t.Fatalf("Status() after restart = %+v, want still finished at step 3", st)
	}
}

func TestRemoteKillUnexportsAnimals(t *testing.T) {
	e := newRemoteTestEnv(t, 2)
	pop, animal := e.newAnimal(t, 150, -10)
	c := e.handle.Client()
	before := e.registry.Len()

	if _, err := c.Invoke(e.ctx, animal, "kill", nil); err != nil {
		t.Fatalf("kill animal: %v", err)
	}
	if _, err := c.Invoke(e.ctx, animal, "position", nil); !errors.Is(err, remote.ErrObjectNotFound) {
		t.Fatalf("position of a killed animal error = %v, want ErrObjectNotFound", err)
	}
	if got := e.registry.Len(); got >= before {
		t.Fatalf("registry size %d after kill, want fewer than %d", got, before)
	}

	animals, err := c.InvokeRefs(e.ctx, pop, "animals", "animals")
	if err != nil {
		t.Fatalf("animals: %v", err)
	}
	if len(animals) != 0 {
		t.Fatalf("animals after kill = %v, want none", animals)
	}
}

func TestRemoteOutOfCoverageIsReported(t *testing.T) {
	e := newRemoteTestEnv(t, 2)
	e.newAnimal(t, 100, 40)

	r, err := e.handle.Report(e.ctx, false)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if r.PercentOutsideSpatialBounds != 1 || r.PercentMissingData != 1 {
		t.Fatalf("Report() = %+v, want every point outside and missing", r)
	}
}

func TestRemoteShutdownWithdrawsName(t *testing.T) {
	e := newRemoteTestEnv(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.sim.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if e.registry.Len() != 0 {
		t.Fatalf("registry holds %d objects after Shutdown, want 0", e.registry.Len())
	}
	if _, err := e.handle.Status(e.ctx); !errors.Is(err, remote.ErrObjectNotFound) {
		t.Fatalf("Status after Shutdown error = %v, want ErrObjectNotFound", err)
	}
}
