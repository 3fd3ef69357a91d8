// Package movement implements the default animal movement policy: steer
// toward the weighted centroid of what the animal perceives, or wander when it
// perceives nothing worth steering to.
package movement

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/signalsfoundry/animat-simulator/core"
	"github.com/signalsfoundry/animat-simulator/model"
)

// Default tuning of the random walk.
const (
	DefaultWanderFraction = 0.75 // mean distance as a fraction of the maximum
	DefaultWanderSpread   = 0.10 // distance standard deviation, same unit
	DefaultTurnSigma      = 15.0 // heading perturbation standard deviation, degrees
)

// CentroidPolicy is the default MovementPolicy.
//
// Each observation that carries a location contributes that location with the
// parameter's weight for the species. If the total weight is positive the
// animal heads for the weighted centroid, at most the species' maximum
// distance for the step. Otherwise it performs a biased random walk: a small
// normal perturbation of its heading and a distance drawn around
// WanderFraction of the maximum, clamped to [0, maximum].
type CentroidPolicy struct {
	WanderFraction float64
	WanderSpread   float64
	TurnSigma      float64
}

// Default returns a CentroidPolicy with default tuning.
func Default() *CentroidPolicy {
	return &CentroidPolicy{
		WanderFraction: DefaultWanderFraction,
		WanderSpread:   DefaultWanderSpread,
		TurnSigma:      DefaultTurnSigma,
	}
}

// Move implements model.MovementPolicy.
func (c *CentroidPolicy) Move(m model.Movement) {
	if m.Path == nil || m.Species == nil {
		return
	}
	maxDist := m.Species.MaxDistance(m.Duration)

	if target, ok := WeightedCentroid(m.Path.Position(), m.Species, m.Observations); ok {
		m.Path.MoveToward(target, maxDist)
		return
	}
	c.wander(m, maxDist)
}

func (c *CentroidPolicy) wander(m model.Movement, maxDist float64) {
	rng := m.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	turn := distuv.Normal{Mu: 0, Sigma: c.TurnSigma}
	m.Path.Rotate(turn.Quantile(uniform(rng)))

	if maxDist <= 0 {
		m.Path.MoveForward(0)
		return
	}
	step := distuv.Normal{Mu: c.WanderFraction * maxDist, Sigma: c.WanderSpread * maxDist}
	dist := step.Quantile(uniform(rng))
	m.Path.MoveForward(math.Max(0, math.Min(maxDist, dist)))
}

// uniform draws from the open interval (0, 1) so quantiles stay finite.
func uniform(rng *rand.Rand) float64 {
	for {
		if u := rng.Float64(); u > 0 {
			return u
		}
	}
}

// WeightedCentroid returns the weighted centroid of every located observation,
// computed in a local frame centred on origin. It reports false when no
// observation carries a location with positive weight.
func WeightedCentroid(origin core.Point, species *model.Species, observations []model.Observation) (core.Point, bool) {
	frame := core.NewLocalFrame(origin)
	var xs, ys, ws []float64
	for _, obs := range observations {
		if !obs.HasLocation || obs.Parameter == nil {
			continue
		}
		w := obs.Parameter.Weight(species)
		if w <= 0 || math.IsNaN(w) {
			continue
		}
		x, y := frame.Project(obs.Location)
		xs = append(xs, x)
		ys = append(ys, y)
		ws = append(ws, w)
	}
	if len(ws) == 0 || floats.Sum(ws) <= 0 {
		return core.Point{}, false
	}
	return frame.Unproject(stat.Mean(xs, ws), stat.Mean(ys, ws)), true
}
