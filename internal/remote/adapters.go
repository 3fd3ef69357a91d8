package remote

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/animat-simulator/core"
	"github.com/signalsfoundry/animat-simulator/internal/sim/runner"
	"github.com/signalsfoundry/animat-simulator/internal/sim/state"
	"github.com/signalsfoundry/animat-simulator/model"
)

// ObjectRef identifies an exported object.
type ObjectRef struct {
	ID   string
	Kind string
}

func (o ObjectRef) encode() map[string]any {
	return map[string]any{"id": o.ID, "kind": o.Kind}
}

func decodeRef(v any) (ObjectRef, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return ObjectRef{}, fmt.Errorf("%w: object reference is %T", ErrInvalidArgument, v)
	}
	id, _ := m["id"].(string)
	kind, _ := m["kind"].(string)
	if id == "" {
		return ObjectRef{}, fmt.Errorf("%w: object reference without id", ErrInvalidArgument)
	}
	return ObjectRef{ID: id, Kind: kind}, nil
}

// dispatch runs method on obj. Results are plain maps so they encode as
// structpb values: numbers become float64, lists are []any.
//
// release ends the call's in-flight registration. Methods that unexport the
// object they run on call it first, so the unexport does not wait on them.
func dispatch(ctx context.Context, r *Registry, obj any, method string, args map[string]any, release func()) (map[string]any, error) {
	switch o := obj.(type) {
	case *runner.Simulation:
		return invokeSimulation(r, o, method, args)
	case *state.Environment:
		return invokeEnvironment(r, o, method, args)
	case *state.Population:
		return invokePopulation(r, o, method, args, release)
	case *state.Animal:
		return invokeAnimal(o, method, release)
	case *model.Parameter:
		return invokeParameter(o, method)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedObject, obj)
	}
}

func unknownMethod(kind, method string) error {
	return fmt.Errorf("%w: %s.%s", ErrUnknownMethod, kind, method)
}

func invokeSimulation(r *Registry, sim *runner.Simulation, method string, args map[string]any) (map[string]any, error) {
	switch method {
	case "start":
		sim.Start()
		return encodeStatus(sim.Status()), nil
	case "stop":
		sim.Stop()
		return encodeStatus(sim.Status()), nil
	case "status":
		return encodeStatus(sim.Status()), nil
	case "environment":
		return refResult(r, "environment", sim.Environment())
	case "report":
		return encodeReport(sim.Environment().Report(argBool(args, "full"))), nil
	default:
		return nil, unknownMethod(KindSimulation, method)
	}
}

func invokeEnvironment(r *Registry, env *state.Environment, method string, args map[string]any) (map[string]any, error) {
	switch method {
	case "populations":
		return map[string]any{"populations": refList(r, env.Populations())}, nil
	case "newPopulation":
		p, err := env.NewPopulation()
		if err != nil {
			return nil, err
		}
		return refResult(r, "population", p)
	case "report":
		return encodeReport(env.Report(argBool(args, "full"))), nil
	case "clock":
		return map[string]any{
			"step":                  env.StepIndex(),
			"time":                  env.Time().Format(time.RFC3339),
			"step_duration_seconds": env.StepDuration().Seconds(),
		}, nil
	case "coverageNames":
		names := env.CoverageNames()
		out := make([]any, len(names))
		for i, n := range names {
			out[i] = n
		}
		return map[string]any{"names": out}, nil
	default:
		return nil, unknownMethod(KindEnvironment, method)
	}
}

func invokePopulation(r *Registry, p *state.Population, method string, args map[string]any, release func()) (map[string]any, error) {
	switch method {
	case "animals":
		return map[string]any{"animals": refList(r, p.Animals())}, nil
	case "newAnimal":
		env := p.Environment()
		if env == nil {
			return nil, state.ErrPopulationDead
		}
		name, err := argString(args, "species")
		if err != nil {
			return nil, err
		}
		lon, err := argFloat(args, "lon")
		if err != nil {
			return nil, err
		}
		lat, err := argFloat(args, "lat")
		if err != nil {
			return nil, err
		}
		species, err := env.Species(name)
		if err != nil {
			return nil, err
		}
		a, err := p.NewAnimal(species, core.Point{Lon: lon, Lat: lat})
		if err != nil {
			return nil, err
		}
		return refResult(r, "animal", a)
	case "kill":
		release()
		p.Kill()
		return map[string]any{"alive": p.Alive()}, nil
	case "bounds":
		// west > east when the box crosses the antimeridian.
		b := p.SpatialBounds()
		if b.Empty() {
			return map[string]any{"empty": true}, nil
		}
		return map[string]any{
			"empty": false,
			"west":  b.West,
			"south": b.South,
			"east":  b.East,
			"north": b.North,
		}, nil
	default:
		return nil, unknownMethod(KindPopulation, method)
	}
}

func invokeAnimal(a *state.Animal, method string, release func()) (map[string]any, error) {
	switch method {
	case "position":
		return encodePoint(a.Position()), nil
	case "heading":
		return map[string]any{"heading": a.Heading()}, nil
	case "path":
		points := a.Path()
		out := make([]any, len(points))
		for i, pt := range points {
			out[i] = encodePoint(pt)
		}
		return map[string]any{"points": out}, nil
	case "observations":
		obs := a.Observations()
		out := make([]any, len(obs))
		for i, o := range obs {
			entry := map[string]any{
				"parameter": o.Parameter.Name,
				"values":    encodeValues(o.Values),
			}
			if o.HasLocation {
				entry["location"] = encodePoint(o.Location)
			}
			out[i] = entry
		}
		return map[string]any{"observations": out}, nil
	case "kill":
		release()
		a.Kill()
		return map[string]any{"alive": false}, nil
	default:
		return nil, unknownMethod(KindAnimal, method)
	}
}

func invokeParameter(p *model.Parameter, method string) (map[string]any, error) {
	if method != "describe" {
		return nil, unknownMethod(KindParameter, method)
	}
	return map[string]any{
		"name":           p.Name,
		"units":          p.Units,
		"min":            p.Range.Min,
		"max":            p.Range.Max,
		"dimensions":     p.Dimensions,
		"default_weight": p.DefaultWeight,
		"intrinsic":      p.Intrinsic,
	}, nil
}

func refResult(r *Registry, key string, obj any) (map[string]any, error) {
	ref, ok := r.Ref(obj)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not exported", ErrObjectNotFound, key)
	}
	return map[string]any{key: ref.encode()}, nil
}

// refList encodes the exported members of objs, skipping any that were
// unexported in the meantime.
func refList[T any](r *Registry, objs []T) []any {
	out := make([]any, 0, len(objs))
	for _, o := range objs {
		if ref, ok := r.Ref(o); ok {
			out = append(out, ref.encode())
		}
	}
	return out
}

func encodeStatus(st runner.Status) map[string]any {
	return map[string]any{
		"running":  st.Running,
		"finished": st.Finished,
		"step":     st.Step,
		"time":     st.Time.Format(time.RFC3339),
	}
}

func encodeReport(r model.Report) map[string]any {
	s := r.Summary()
	return map[string]any{
		"num_animals":                    s.NumAnimals,
		"percent_outside_spatial_bounds": s.PercentOutsideSpatialBounds,
		"percent_missing_data":           s.PercentMissingData,
	}
}

func encodePoint(p core.Point) map[string]any {
	return map[string]any{"lon": p.Lon, "lat": p.Lat}
}

// encodeValues maps NaN to null.
func encodeValues(values []float64) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = nil
		} else {
			out[i] = v
		}
	}
	return out
}

func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidArgument, key)
	}
	return v, nil
}

func argFloat(args map[string]any, key string) (float64, error) {
	v, ok := args[key].(float64)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q must be a finite number", ErrInvalidArgument, key)
	}
	return v, nil
}
