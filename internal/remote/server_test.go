package remote

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/animat-simulator/core"
	"github.com/signalsfoundry/animat-simulator/internal/logging"
	"github.com/signalsfoundry/animat-simulator/internal/observability"
	"github.com/signalsfoundry/animat-simulator/internal/sim/runner"
)

func structArgs(m map[string]any) (*structpb.Struct, error) {
	if m == nil {
		return nil, nil
	}
	return structpb.NewStruct(m)
}

func pointOf(m map[string]any) core.Point {
	lon, _ := m["lon"].(float64)
	lat, _ := m["lat"].(float64)
	return core.Point{Lon: lon, Lat: lat}
}

// startServer serves a registry holding sim, published as name, on a
// loopback port and returns the address.
func startServer(t *testing.T, sim *runner.Simulation, name string) (string, *observability.RemoteCollector) {
	t.Helper()
	collector, err := observability.NewRemoteCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewRemoteCollector: %v", err)
	}
	registry := NewRegistry(logging.Noop(), WithMetrics(collector))
	if err := sim.Export(registry, name); err != nil {
		t.Fatalf("Export: %v", err)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewGRPCServer(registry, logging.Noop(), collector)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		srv.Stop()
		_ = sim.Unexport()
	})
	return lis.Addr().String(), collector
}

func TestLookupAndDriveSimulation(t *testing.T) {
	env := newTestEnvironment(t)
	sim := runner.New(env, logging.Noop(), runner.WithDelay(time.Millisecond))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sim.Shutdown(ctx)
	})
	addr, collector := startServer(t, sim, "tuna")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, err := Lookup(ctx, addr, "tuna")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	defer h.Close()

	st, err := h.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Running || st.Finished || st.Step != 0 {
		t.Fatalf("Status() = %+v, want idle at step 0", st)
	}

	envRef, err := h.Environment(ctx)
	if err != nil {
		t.Fatalf("Environment: %v", err)
	}
	if envRef.Kind != KindEnvironment {
		t.Fatalf("Environment().Kind = %q, want environment", envRef.Kind)
	}

	c := h.Client()
	popRef, err := c.InvokeRef(ctx, envRef, "newPopulation", "population", nil)
	if err != nil {
		t.Fatalf("newPopulation: %v", err)
	}
	animalRef, err := c.InvokeRef(ctx, popRef, "newAnimal", "animal", map[string]any{
		"species": "yellowfin",
		"lon":     150.0,
		"lat":     -12.0,
	})
	if err != nil {
		t.Fatalf("newAnimal: %v", err)
	}
	pops, err := c.InvokeRefs(ctx, envRef, "populations", "populations")
	if err != nil {
		t.Fatalf("populations: %v", err)
	}
	if len(pops) != 1 || pops[0] != popRef {
		t.Fatalf("populations = %v, want [%v]", pops, popRef)
	}

	pos, err := c.Invoke(ctx, animalRef, "position", nil)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if got := pointOf(pos); !got.Equal(core.Point{Lon: 150, Lat: -12}, 1e-9) {
		t.Fatalf("position = %v, want lon 150 lat -12", pos)
	}

	report, err := h.Report(ctx, false)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.NumAnimals != 1 {
		t.Fatalf("Report().NumAnimals = %d, want 1", report.NumAnimals)
	}

	if _, err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := h.Status(ctx)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.Step >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("simulation did not advance, status %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := h.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	path, err := c.Invoke(ctx, animalRef, "path", nil)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if points, _ := path["points"].([]any); len(points) < 3 {
		t.Fatalf("path has %d points after two steps, want at least 3", len(points))
	}

	if got := testutil.ToFloat64(collector.InvocationsByOp.WithLabelValues(KindAnimal, "position")); got != 1 {
		t.Fatalf("remote_invocations_total{animal,position} = %v, want 1", got)
	}
}

func TestRemoteErrorsMapToSentinels(t *testing.T) {
	env := newTestEnvironment(t)
	sim := runner.New(env, logging.Noop())
	addr, _ := startServer(t, sim, "tuna")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := Lookup(ctx, addr, "bonito"); !errors.Is(err, ErrNameNotBound) {
		t.Fatalf("Lookup(bonito) error = %v, want ErrNameNotBound", err)
	}

	h, err := Lookup(ctx, addr, "tuna")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	defer h.Close()
	c := h.Client()

	if _, err := c.Invoke(ctx, h.Ref(), "fly", nil); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("Invoke(fly) error = %v, want ErrUnknownMethod", err)
	}
	if _, err := c.Invoke(ctx, ObjectRef{ID: "missing"}, "status", nil); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Invoke on unknown id error = %v, want ErrObjectNotFound", err)
	}

	envRef, err := h.Environment(ctx)
	if err != nil {
		t.Fatalf("Environment: %v", err)
	}
	popRef, err := c.InvokeRef(ctx, envRef, "newPopulation", "population", nil)
	if err != nil {
		t.Fatalf("newPopulation: %v", err)
	}
	_, err = c.Invoke(ctx, popRef, "newAnimal", map[string]any{"species": "marlin", "lon": 0.0, "lat": 0.0})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("newAnimal(marlin) error = %v, want ErrInvalidArgument", err)
	}

	if _, err := c.Invoke(ctx, popRef, "kill", nil); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if _, err := c.Invoke(ctx, popRef, "animals", nil); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Invoke on killed population error = %v, want ErrObjectNotFound", err)
	}
}
