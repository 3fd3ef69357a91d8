// Package state holds the live simulation: an Environment owning its
// Populations, each owning its Animals, all guarded by the Environment's single
// lock.
//
// Lock discipline: every exported method of Environment, Population and Animal
// takes the Environment lock; unexported *Locked helpers expect the caller to
// hold it. Change listeners are invoked by the event queue with the lock held,
// so they must only use the event payload and never call back into these
// methods.
package state

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/signalsfoundry/animat-simulator/internal/logging"
	"github.com/signalsfoundry/animat-simulator/internal/sim/events"
	"github.com/signalsfoundry/animat-simulator/internal/sim/movement"
	"github.com/signalsfoundry/animat-simulator/model"
	"github.com/signalsfoundry/animat-simulator/timectrl"
)

var (
	// ErrEnvironmentDisposed indicates an operation on a disposed Environment,
	// including a second Dispose.
	ErrEnvironmentDisposed = errors.New("environment disposed")
	// ErrPopulationDead indicates an operation on a killed Population.
	ErrPopulationDead = errors.New("population is dead")
	// ErrAnimalDead indicates an operation on a killed Animal.
	ErrAnimalDead = errors.New("animal is dead")
	// ErrUnknownSpecies indicates a species name missing from the catalog.
	ErrUnknownSpecies = errors.New("unknown species")
	// ErrNoSuchParameter is re-exported so callers can depend on state.*.
	ErrNoSuchParameter = model.ErrNoSuchParameter
)

// DataSource supplies the environmental layers for each step.
type DataSource interface {
	// Coverage returns the layer of p for the given step, or (nil, nil) when
	// no layer exists for that step. Unknown parameters yield
	// model.ErrNoSuchParameter.
	Coverage(p *model.Parameter, step int, at time.Time) (model.Sampler, error)
	// CoverageNames lists the parameters with a layer for the given step.
	CoverageNames(step int, at time.Time) []string
}

// StepLimiter is implemented by data sources that know when their data ends.
type StepLimiter interface {
	HasStep(step int) bool
}

// Environment owns the populations, the clock and the environmental data of a
// simulation, and drives the transition from one step to the next.
type Environment struct {
	// mu is the single lock guarding the environment, its populations and
	// their animals. Populations and animals hold a pointer to it.
	mu sync.Mutex

	clock   *timectrl.Clock
	data    DataSource
	species map[string]*model.Species
	policy  model.MovementPolicy
	rng     *rand.Rand
	log     logging.Logger
	queue   *events.Queue

	populations []*Population
	nextID      int

	current        model.Report
	currentCounted bool
	cumulative     model.Report

	listeners listenerList[EnvironmentListener]
	exporter  Exporter

	// readErr is set once a resource exhaustion aborts all further reads.
	readErr  error
	disposed bool
}

// Option customises Environment construction.
type Option func(*Environment)

// WithDataSource attaches the provider of environmental layers.
func WithDataSource(d DataSource) Option {
	return func(e *Environment) {
		e.data = d
	}
}

// WithSpecies registers species in the environment's catalog.
func WithSpecies(species ...*model.Species) Option {
	return func(e *Environment) {
		for _, s := range species {
			if s != nil && s.Name != "" {
				e.species[s.Name] = s
			}
		}
	}
}

// WithSeed makes animal movement reproducible.
func WithSeed(seed uint64) Option {
	return func(e *Environment) {
		e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithDefaultPolicy replaces the movement policy used by species without one.
func WithDefaultPolicy(p model.MovementPolicy) Option {
	return func(e *Environment) {
		if p != nil {
			e.policy = p
		}
	}
}

// NewEnvironment builds an active environment on clock. A nil clock starts a
// daily clock at the current UTC day.
func NewEnvironment(clock *timectrl.Clock, log logging.Logger, opts ...Option) *Environment {
	if log == nil {
		log = logging.Noop()
	}
	if clock == nil {
		clock = timectrl.NewClock(time.Now().UTC().Truncate(24*time.Hour), 24*time.Hour, time.UTC)
	}
	e := &Environment{
		clock:   clock,
		species: make(map[string]*model.Species),
		policy:  movement.Default(),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		log:     log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.queue = events.NewQueue(&e.mu, log)
	return e
}

// NewPopulation creates and registers an empty population.
func (e *Environment) NewPopulation() (*Population, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.newPopulationLocked()
}

func (e *Environment) newPopulationLocked() (*Population, error) {
	if e.disposed {
		return nil, ErrEnvironmentDisposed
	}
	p := &Population{
		id:    e.allocIDLocked(),
		lock:  &e.mu,
		env:   e,
		queue: e.queue,
	}
	e.populations = append(e.populations, p)
	e.fireLocked(EnvironmentEvent{Kind: PopulationsAdded, Environment: e, Populations: []*Population{p}})
	if e.exporter != nil {
		e.logExportErr(e.exportPopulationLocked(e.exporter, p))
	}
	return p, nil
}

// Populations returns a snapshot of the live populations, in creation order.
func (e *Environment) Populations() []*Population {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.populations)
}

// Species returns the catalogued species called name.
func (e *Environment) Species(name string) (*model.Species, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.species[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSpecies, name)
	}
	return s, nil
}

// StepIndex returns the current clock step.
func (e *Environment) StepIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.Step()
}

// Time returns the start time of the current step.
func (e *Environment) Time() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.Now()
}

// StepDuration returns the simulated length of one step.
func (e *Environment) StepDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.StepDuration()
}

// Coverage returns the current layer for p, or nil when there is none for this
// step. With no data source configured every parameter is unknown.
func (e *Environment) Coverage(p *model.Parameter) (model.Sampler, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coverageLocked(p)
}

func (e *Environment) coverageLocked(p *model.Parameter) (model.Sampler, error) {
	if e.data == nil || p == nil {
		return nil, ErrNoSuchParameter
	}
	return e.data.Coverage(p, e.clock.Step(), e.clock.Now())
}

// CoverageNames lists the parameters with a layer for the current step.
func (e *Environment) CoverageNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.data == nil {
		return nil
	}
	return e.data.CoverageNames(e.clock.Step(), e.clock.Now())
}

// Report returns a copy of the cumulative report when full is set, otherwise of
// the current step's report.
func (e *Environment) Report(full bool) model.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	if full {
		return e.cumulative
	}
	return e.currentReportLocked()
}

// currentReportLocked fills the animal count the first time the current
// report is read during a step.
func (e *Environment) currentReportLocked() model.Report {
	if !e.currentCounted {
		e.current.NumAnimals = e.countAnimalsLocked()
		e.currentCounted = true
	}
	return e.current
}

func (e *Environment) countAnimalsLocked() int {
	n := 0
	for _, p := range e.populations {
		n += len(p.animals)
	}
	return n
}

// Err returns the error that aborted observation reads, if any.
func (e *Environment) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readErr
}

// NextTimeStep closes the current step and opens the next one: the step report
// is folded into the cumulative report, the clock advances, every population
// re-observes and a DateChanged event is queued. It returns false when no data
// exists beyond the new step.
func (e *Environment) NextTimeStep() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextTimeStepLocked()
}

func (e *Environment) nextTimeStepLocked() bool {
	if e.disposed {
		return false
	}
	e.cumulative.Add(e.currentReportLocked())
	e.current.Reset()
	e.currentCounted = false

	e.clock.Advance()
	for _, p := range e.populations {
		p.observeLocked()
	}
	e.fireLocked(EnvironmentEvent{
		Kind:        DateChanged,
		Environment: e,
		Step:        e.clock.Step(),
		Time:        e.clock.Now(),
	})
	return e.hasDataLocked(e.clock.Step() + 1)
}

func (e *Environment) hasDataLocked(step int) bool {
	if limiter, ok := e.data.(StepLimiter); ok {
		return limiter.HasStep(step)
	}
	return true
}

// RunStep evolves every population by one clock step and then moves to the
// next step, all under a single hold of the lock. It returns NextTimeStep's
// result.
func (e *Environment) RunStep() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return false
	}
	d := e.clock.StepDuration()
	for _, p := range e.populations {
		p.evolveLocked(d)
	}
	return e.nextTimeStepLocked()
}

// Populate creates one population per species found in src and one animal at
// the position of each catch sample of that species. Species unknown to the
// environment are added to its catalog.
func (e *Environment) Populate(ctx context.Context, src model.SampleSource) error {
	species, err := src.Species(ctx)
	if err != nil {
		return fmt.Errorf("load species: %w", err)
	}
	samples, err := src.Samples(ctx)
	if err != nil {
		return fmt.Errorf("load samples: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrEnvironmentDisposed
	}

	for _, s := range species {
		if s == nil || s.Name == "" {
			continue
		}
		if _, ok := e.species[s.Name]; !ok {
			e.species[s.Name] = s
		}
	}

	populations := make(map[string]*Population)
	var errs []error
	for _, sample := range samples {
		sp, ok := e.species[sample.Species]
		if !ok {
			errs = append(errs, fmt.Errorf("sample %s: %w: %q", sample.ID, ErrUnknownSpecies, sample.Species))
			continue
		}
		pop, ok := populations[sp.Name]
		if !ok {
			pop, err = e.newPopulationLocked()
			if err != nil {
				return err
			}
			populations[sp.Name] = pop
		}
		if _, err := pop.newAnimalLocked(sp, sample.Position); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddListener registers fn for environment-level changes and returns an id for
// RemoveListener. Listeners run on the event queue with the environment lock
// held and must not call back into the environment, its populations or its
// animals.
func (e *Environment) AddListener(fn EnvironmentListener) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listeners.add(fn)
}

// RemoveListener unregisters a listener. Events already queued still reach it.
func (e *Environment) RemoveListener(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners.remove(id)
}

// Flush waits until every change event queued so far has been delivered. It
// must not be called from a listener.
func (e *Environment) Flush(ctx context.Context) error {
	return e.queue.Flush(ctx)
}

// Dispose tears the environment down: it is unexported, every population is
// killed, listeners are dropped and the event queue stops. Disposing twice is a
// caller error and returns ErrEnvironmentDisposed.
func (e *Environment) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrEnvironmentDisposed
	}

	var errs []error
	if e.exporter != nil {
		errs = append(errs, e.unexportLocked())
	}
	// Killing a population removes it from e.populations.
	for _, p := range slices.Clone(e.populations) {
		p.killLocked()
	}
	e.listeners.clear()
	e.queue.Dispose()
	e.disposed = true
	return errors.Join(errs...)
}

// Disposed reports whether Dispose has run.
func (e *Environment) Disposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

func (e *Environment) removePopulationLocked(p *Population) {
	idx := slices.Index(e.populations, p)
	if idx < 0 {
		return
	}
	e.populations = slices.Delete(e.populations, idx, idx+1)
	if e.exporter != nil {
		e.logExportErr(e.exporter.Unexport(p))
	}
	e.fireLocked(EnvironmentEvent{Kind: PopulationsRemoved, Environment: e, Populations: []*Population{p}})
}

// abortReadsLocked records a resource exhaustion. No further coverage reads
// happen for the remainder of the run.
func (e *Environment) abortReadsLocked(err error) {
	if e.readErr != nil {
		return
	}
	e.readErr = err
	e.log.Error(context.Background(), "aborting observation reads for the rest of the run",
		logging.Step(e.clock.Step()),
		logging.Err(err),
	)
	e.fireLocked(EnvironmentEvent{Kind: ObservationFailed, Environment: e, Step: e.clock.Step(), Time: e.clock.Now(), Err: err})
}

func (e *Environment) allocIDLocked() int {
	e.nextID++
	return e.nextID
}

func (e *Environment) fireLocked(ev EnvironmentEvent) {
	ls := e.listeners.snapshot()
	if len(ls) == 0 {
		return
	}
	err := e.queue.InvokeLater(func() {
		for _, l := range ls {
			l(ev)
		}
	})
	if err != nil {
		e.log.Debug(context.Background(), "dropped environment event", logging.String("kind", ev.Kind.String()), logging.Err(err))
	}
}
