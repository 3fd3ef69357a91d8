package model

import (
	"errors"
	"math"

	"github.com/signalsfoundry/animat-simulator/core"
)

var (
	// ErrOutsideCoverage is returned by a Sampler when the requested point
	// lies outside the geographic extent of its layer. It is a counted
	// statistic, not a failure.
	ErrOutsideCoverage = errors.New("point outside spatial coverage")
	// ErrResourceExhausted is returned by a Sampler that ran out of a
	// critical resource. It aborts every further read for the run.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrNoSuchParameter is returned when no data source knows a parameter.
	ErrNoSuchParameter = errors.New("no such parameter")
)

// Sampler is one environmental data layer for the current step.
type Sampler interface {
	// Evaluate returns the layer values at p. NaN entries mean missing data.
	Evaluate(p core.Point) ([]float64, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(p core.Point) ([]float64, error)

// Evaluate implements Sampler.
func (f SamplerFunc) Evaluate(p core.Point) ([]float64, error) { return f(p) }

// Observation is the result of evaluating one parameter for one animal during
// one step.
type Observation struct {
	Parameter *Parameter

	// Values holds Parameter.Dimensions values sampled at the animal's
	// position; NaN when missing.
	Values []float64

	// Location is where, within the perception area, the first value peaks.
	// Only meaningful when HasLocation is true.
	Location    core.Point
	HasLocation bool
}

// Missing reports whether the first value is unavailable.
func (o Observation) Missing() bool {
	return len(o.Values) == 0 || math.IsNaN(o.Values[0])
}

// Value returns the first value, or NaN.
func (o Observation) Value() float64 {
	if len(o.Values) == 0 {
		return math.NaN()
	}
	return o.Values[0]
}
