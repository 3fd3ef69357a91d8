package state

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/animat-simulator/internal/logging"
	"github.com/signalsfoundry/animat-simulator/model"
	"github.com/signalsfoundry/animat-simulator/timectrl"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestEnvironment(t *testing.T, opts ...Option) *Environment {
	t.Helper()
	clock := timectrl.NewClock(testStart, 24*time.Hour, time.UTC)
	env := NewEnvironment(clock, logging.Noop(), append([]Option{WithSeed(42)}, opts...)...)
	t.Cleanup(func() {
		if !env.Disposed() {
			_ = env.Dispose()
		}
	})
	return env
}

func newTestPopulation(t *testing.T, env *Environment) *Population {
	t.Helper()
	p, err := env.NewPopulation()
	if err != nil {
		t.Fatalf("NewPopulation: %v", err)
	}
	return p
}

func flushEvents(t *testing.T, env *Environment) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

// layerSource serves one sampler per parameter name. A nil sampler means the
// parameter is known but has no layer for the step.
type layerSource struct {
	layers   map[string]model.Sampler
	maxSteps int
}

func (s *layerSource) Coverage(p *model.Parameter, step int, at time.Time) (model.Sampler, error) {
	l, ok := s.layers[p.Name]
	if !ok {
		return nil, model.ErrNoSuchParameter
	}
	return l, nil
}

func (s *layerSource) CoverageNames(step int, at time.Time) []string {
	var names []string
	for name, l := range s.layers {
		if l != nil {
			names = append(names, name)
		}
	}
	return names
}

func (s *layerSource) HasStep(step int) bool {
	return s.maxSteps == 0 || step < s.maxSteps
}

// countingExporter tracks export reference counts per object.
type countingExporter struct {
	refs map[any]int
}

func newCountingExporter() *countingExporter {
	return &countingExporter{refs: make(map[any]int)}
}

func (c *countingExporter) Export(obj any) error {
	c.refs[obj]++
	return nil
}

func (c *countingExporter) Unexport(obj any) error {
	c.refs[obj]--
	if c.refs[obj] <= 0 {
		delete(c.refs, obj)
	}
	return nil
}
