package state

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/signalsfoundry/animat-simulator/core"
	"github.com/signalsfoundry/animat-simulator/internal/logging"
	"github.com/signalsfoundry/animat-simulator/internal/sim/events"
	"github.com/signalsfoundry/animat-simulator/model"
)

// Population is a group of animals inside an Environment. A killed population
// has no environment and no animals; its lock reference stays valid.
type Population struct {
	id    int
	lock  *sync.Mutex
	env   *Environment
	queue *events.Queue

	animals []*Animal

	bounds      core.Rect
	boundsValid bool

	listeners listenerList[PopulationListener]
}

// ID is unique within the owning environment.
func (p *Population) ID() int { return p.id }

// Environment returns the owner, or nil once the population is dead.
func (p *Population) Environment() *Environment {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.env
}

// Alive reports whether the population still belongs to an environment.
func (p *Population) Alive() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.env != nil
}

// NewAnimal adds an animal of species at pos. The animal starts with a random
// heading and observes its surroundings immediately.
func (p *Population) NewAnimal(species *model.Species, pos core.Point) (*Animal, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.newAnimalLocked(species, pos)
}

func (p *Population) newAnimalLocked(species *model.Species, pos core.Point) (*Animal, error) {
	env := p.env
	if env == nil {
		return nil, ErrPopulationDead
	}
	if species == nil {
		return nil, fmt.Errorf("%w: nil species", ErrUnknownSpecies)
	}
	a := &Animal{
		id:         env.allocIDLocked(),
		lock:       p.lock,
		population: p,
		species:    species,
		path:       core.NewPath(pos, env.rng.Float64()*360),
	}
	a.path.SetPointCount(env.clock.Step() + 1)
	p.animals = append(p.animals, a)
	p.boundsValid = false
	env.currentCounted = false

	a.observeLocked()
	p.fireLocked(PopulationEvent{Kind: AnimalsAdded, Population: p, Animals: []*Animal{a}})
	if env.exporter != nil {
		env.logExportErr(env.exportAnimalLocked(env.exporter, a))
	}
	return a, nil
}

// Animals returns a snapshot of the live animals, in creation order.
func (p *Population) Animals() []*Animal {
	p.lock.Lock()
	defer p.lock.Unlock()
	return slices.Clone(p.animals)
}

// Len returns the number of live animals.
func (p *Population) Len() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.animals)
}

// SpatialBounds returns the union of every animal's trajectory bounds. The
// result is empty when the population has no animals.
func (p *Population) SpatialBounds() core.Rect {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.boundsValid {
		b := core.Rect{}
		for _, a := range p.animals {
			b = b.Union(a.path.Bounds())
		}
		p.bounds = b
		p.boundsValid = true
	}
	return p.bounds
}

// Evolve moves every animal for a period of d.
func (p *Population) Evolve(d time.Duration) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.evolveLocked(d)
}

func (p *Population) evolveLocked(d time.Duration) {
	if p.env == nil {
		return
	}
	for _, a := range p.animals {
		a.moveLocked(d)
	}
	p.boundsValid = false
}

// Observe refreshes every animal's observations for the current step.
func (p *Population) Observe() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.observeLocked()
}

func (p *Population) observeLocked() {
	for _, a := range p.animals {
		a.observeLocked()
	}
	p.boundsValid = false
}

// Kill kills every animal and detaches the population from its environment.
// Killing a dead population does nothing.
func (p *Population) Kill() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.killLocked()
}

func (p *Population) killLocked() {
	// Killing an animal removes it from p.animals.
	for _, a := range slices.Clone(p.animals) {
		a.killLocked()
	}
	if env := p.env; env != nil {
		env.removePopulationLocked(p)
		p.env = nil
		env.log.Debug(context.Background(), "population killed", logging.Int("population", p.id))
	}
	p.listeners.clear()
}

func (p *Population) removeAnimalLocked(a *Animal) {
	idx := slices.Index(p.animals, a)
	if idx < 0 {
		return
	}
	p.animals = slices.Delete(p.animals, idx, idx+1)
	p.boundsValid = false
	if env := p.env; env != nil {
		env.currentCounted = false
		if env.exporter != nil {
			env.logExportErr(env.unexportAnimalLocked(env.exporter, a))
		}
	}
	p.fireLocked(PopulationEvent{Kind: AnimalsRemoved, Population: p, Animals: []*Animal{a}})
}

// AddListener registers fn for animal additions and removals.
func (p *Population) AddListener(fn PopulationListener) int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.listeners.add(fn)
}

// RemoveListener unregisters a listener.
func (p *Population) RemoveListener(id int) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.listeners.remove(id)
}

func (p *Population) fireLocked(ev PopulationEvent) {
	ls := p.listeners.snapshot()
	if len(ls) == 0 {
		return
	}
	_ = p.queue.InvokeLater(func() {
		for _, l := range ls {
			l(ev)
		}
	})
}
