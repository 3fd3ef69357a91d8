package model

import (
	"math/rand/v2"
	"time"

	"github.com/signalsfoundry/animat-simulator/core"
)

// Species is the immutable descriptor shared by all animals of one kind.
type Species struct {
	Name string

	// MaxDailyDistance is the farthest an animal swims in 24 hours, in
	// nautical miles.
	MaxDailyDistance float64

	// PerceptionRadius is the radius of the area, in nautical miles, over
	// which parameters are sampled around the animal. Zero samples only the
	// animal's own position.
	PerceptionRadius float64

	// Parameters lists what animals of this species observe each step.
	Parameters []*Parameter

	// Weights overrides Parameter.DefaultWeight per parameter name.
	Weights map[string]float64

	// Policy decides how animals move. Nil selects the default policy.
	Policy MovementPolicy
}

// Weight returns the weight this species gives to p.
func (s *Species) Weight(p *Parameter) float64 {
	return p.Weight(s)
}

// MaxDistance returns how far an animal of this species may swim during d.
func (s *Species) MaxDistance(d time.Duration) float64 {
	return s.MaxDailyDistance * d.Hours() / 24
}

// Movement carries everything a policy needs to move one animal for one step.
// Observations holds the animal's latest observation for each of its species'
// parameters, in Species.Parameters order.
type Movement struct {
	Path         *core.Path
	Species      *Species
	Observations []Observation
	Duration     time.Duration
	Rand         *rand.Rand
}

// MovementPolicy moves an animal along its path. Implementations append to
// Movement.Path and must not retain it.
type MovementPolicy interface {
	Move(m Movement)
}

// MovementPolicyFunc adapts a function to MovementPolicy.
type MovementPolicyFunc func(m Movement)

// Move implements MovementPolicy.
func (f MovementPolicyFunc) Move(m Movement) { f(m) }
