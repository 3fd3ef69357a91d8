package state

import (
	"slices"
	"sync"
	"time"

	"github.com/signalsfoundry/animat-simulator/core"
	"github.com/signalsfoundry/animat-simulator/model"
)

// Animal is one simulated individual. Its path holds one point per elapsed
// step, so Path().PointCount() is normally StepIndex()+1.
type Animal struct {
	id         int
	lock       *sync.Mutex
	population *Population
	species    *model.Species
	path       *core.Path

	// observations follows species.Parameters order and is refreshed once
	// per step.
	observations []model.Observation
}

// ID is unique within the owning environment.
func (a *Animal) ID() int { return a.id }

// Species is immutable and may be read without the lock.
func (a *Animal) Species() *model.Species { return a.species }

// Population returns the owner, or nil once the animal is dead.
func (a *Animal) Population() *Population {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.population
}

// Alive reports whether the animal still belongs to a population.
func (a *Animal) Alive() bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.population != nil
}

// Position returns the latest point of the path.
func (a *Animal) Position() core.Point {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.path.Position()
}

// Heading returns the current heading in degrees.
func (a *Animal) Heading() float64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.path.Heading()
}

// PointCount returns the number of points in the path.
func (a *Animal) PointCount() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.path.PointCount()
}

// Path returns a copy of the trajectory, oldest first.
func (a *Animal) Path() []core.Point {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.path.Points()
}

// Observations returns the observations of the current step.
func (a *Animal) Observations() []model.Observation {
	a.lock.Lock()
	defer a.lock.Unlock()
	out := make([]model.Observation, len(a.observations))
	for i, o := range a.observations {
		o.Values = slices.Clone(o.Values)
		out[i] = o
	}
	return out
}

// Observation returns the current observation of p.
func (a *Animal) Observation(p *model.Parameter) (model.Observation, bool) {
	a.lock.Lock()
	defer a.lock.Unlock()
	for _, o := range a.observations {
		if o.Parameter == p {
			o.Values = slices.Clone(o.Values)
			return o, true
		}
	}
	return model.Observation{}, false
}

// Move lets the animal's movement policy move it for a period of d.
func (a *Animal) Move(d time.Duration) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.population == nil {
		return ErrAnimalDead
	}
	a.moveLocked(d)
	return nil
}

func (a *Animal) moveLocked(d time.Duration) {
	pop := a.population
	if pop == nil || pop.env == nil {
		return
	}
	env := pop.env
	policy := a.species.Policy
	if policy == nil {
		policy = env.policy
	}
	policy.Move(model.Movement{
		Path:         a.path,
		Species:      a.species,
		Observations: a.observations,
		Duration:     d,
		Rand:         env.rng,
	})
	pop.boundsValid = false
}

// observeLocked aligns the path with the clock and evaluates every parameter
// of the species at the current position.
func (a *Animal) observeLocked() {
	pop := a.population
	if pop == nil || pop.env == nil {
		return
	}
	env := pop.env
	a.path.SetPointCount(env.clock.Step() + 1)

	obs := a.observations[:0]
	for _, p := range a.species.Parameters {
		if p == nil {
			continue
		}
		obs = append(obs, env.evaluateLocked(p, a))
	}
	a.observations = obs
}

// Kill removes the animal from its population. Killing a dead animal does
// nothing.
func (a *Animal) Kill() {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.killLocked()
}

func (a *Animal) killLocked() {
	pop := a.population
	if pop == nil {
		return
	}
	pop.removeAnimalLocked(a)
	a.population = nil
	a.observations = nil
}
