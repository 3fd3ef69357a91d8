// Package runner drives an Environment through time on a dedicated worker.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/animat-simulator/internal/logging"
	"github.com/signalsfoundry/animat-simulator/internal/observability"
	"github.com/signalsfoundry/animat-simulator/internal/sim/state"
	"github.com/signalsfoundry/animat-simulator/model"
)

// Publisher is an Exporter that can also bind an exported object to a name
// resolvable by remote clients.
type Publisher interface {
	state.Exporter
	Publish(name string, obj any) error
	Withdraw(name string) error
}

// StepRecorder receives one call per completed step.
type StepRecorder interface {
	RecordStep(step int, elapsed time.Duration, populations int, report model.Report)
}

// Status is a snapshot of the simulation state machine and clock.
type Status struct {
	Running  bool
	Finished bool
	Step     int
	Time     time.Time
}

// Simulation owns the worker that steps an Environment.
//
// State machine: idle -> running on Start, running -> idle on Stop, and
// running -> finished once the environment runs out of data. Finished is
// terminal: Start does nothing afterwards.
type Simulation struct {
	env      *state.Environment
	log      logging.Logger
	delay    time.Duration
	recorder StepRecorder
	tracer   trace.Tracer

	mu            sync.Mutex
	running       bool
	stopRequested bool
	finished      bool
	wake          chan struct{}
	done          chan struct{}

	publisher Publisher
	name      string
}

// Option customises a Simulation.
type Option func(*Simulation)

// WithDelay sets the minimum wall-clock duration of one step. The worker
// sleeps whatever part of it the step itself did not use.
func WithDelay(d time.Duration) Option {
	return func(s *Simulation) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithStepRecorder reports every completed step to r.
func WithStepRecorder(r StepRecorder) Option {
	return func(s *Simulation) {
		s.recorder = r
	}
}

// New returns an idle simulation of env.
func New(env *state.Environment, log logging.Logger, opts ...Option) *Simulation {
	if log == nil {
		log = logging.Noop()
	}
	s := &Simulation{
		env:    env,
		log:    log,
		tracer: observability.Tracer(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Environment returns the simulated environment.
func (s *Simulation) Environment() *state.Environment {
	return s.env
}

// Start launches the worker. It does nothing once the simulation has
// finished; on a running simulation it only cancels a pending Stop.
func (s *Simulation) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	if s.running {
		s.stopRequested = false
		return
	}
	s.running = true
	s.stopRequested = false
	s.wake = make(chan struct{}, 1)
	s.done = make(chan struct{})
	go s.run(s.wake, s.done)
	s.log.Info(context.Background(), "simulation started", logging.Step(s.env.StepIndex()))
}

// Stop asks the worker to exit before its next step. A step in progress runs
// to completion; a pending delay is cut short.
func (s *Simulation) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.stopRequested = true
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until the current worker, if any, has exited.
func (s *Simulation) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for simulation worker: %w", ctx.Err())
	}
}

// Running reports whether a worker is active.
func (s *Simulation) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Finished reports whether the environment ran out of data.
func (s *Simulation) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Status returns the state machine and clock position.
func (s *Simulation) Status() Status {
	s.mu.Lock()
	st := Status{Running: s.running, Finished: s.finished}
	s.mu.Unlock()
	st.Step = s.env.StepIndex()
	st.Time = s.env.Time()
	return st
}

func (s *Simulation) run(wake <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ctx := context.Background()
	for {
		if s.takeStopRequest() {
			s.log.Info(ctx, "simulation stopped", logging.Step(s.env.StepIndex()))
			return
		}

		start := time.Now()
		more := s.step(ctx)
		elapsed := time.Since(start)

		if !more {
			s.mu.Lock()
			s.finished = true
			s.running = false
			s.mu.Unlock()
			s.log.Info(ctx, "simulation finished", logging.Step(s.env.StepIndex()))
			return
		}

		if remaining := s.delay - elapsed; remaining > 0 {
			timer := time.NewTimer(remaining)
			select {
			case <-timer.C:
			case <-wake:
				timer.Stop()
			}
		}
	}
}

// takeStopRequest consumes a pending stop and marks the worker idle.
func (s *Simulation) takeStopRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopRequested {
		return false
	}
	s.stopRequested = false
	s.running = false
	return true
}

func (s *Simulation) step(ctx context.Context) bool {
	ctx, span := s.tracer.Start(ctx, "simulation.step")
	defer span.End()

	start := time.Now()
	more := s.env.RunStep()
	elapsed := time.Since(start)

	step := s.env.StepIndex()
	span.SetAttributes(attribute.Int("simulation.step", step), attribute.Bool("simulation.more", more))
	s.log.Debug(ctx, "simulation step", logging.Step(step), logging.Duration("elapsed", elapsed))

	if s.recorder != nil {
		s.recorder.RecordStep(step, elapsed, len(s.env.Populations()), s.env.Report(false))
	}
	return more
}

// Export makes the simulation and its environment reachable through pub and,
// when name is set, binds the simulation to name.
func (s *Simulation) Export(pub Publisher, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publisher != nil {
		return fmt.Errorf("simulation already exported as %q", s.name)
	}

	if err := pub.Export(s); err != nil {
		return err
	}
	if err := s.env.Export(pub); err != nil {
		_ = pub.Unexport(s)
		return fmt.Errorf("export environment: %w", err)
	}
	if name != "" {
		if err := pub.Publish(name, s); err != nil {
			return errors.Join(fmt.Errorf("publish %q: %w", name, err), s.env.Unexport(), pub.Unexport(s))
		}
	}
	s.publisher = pub
	s.name = name
	return nil
}

// Unexport reverses Export. It is a no-op when the simulation is not exported.
func (s *Simulation) Unexport() error {
	s.mu.Lock()
	pub, name := s.publisher, s.name
	s.publisher, s.name = nil, ""
	s.mu.Unlock()
	if pub == nil {
		return nil
	}

	var errs []error
	if name != "" {
		errs = append(errs, pub.Withdraw(name))
	}
	errs = append(errs, s.env.Unexport(), pub.Unexport(s))
	return errors.Join(errs...)
}

// Shutdown stops the worker, withdraws every export and disposes of the
// environment.
func (s *Simulation) Shutdown(ctx context.Context) error {
	s.Stop()
	if err := s.Wait(ctx); err != nil {
		return err
	}
	errs := []error{s.Unexport()}
	if err := s.env.Dispose(); err != nil && !errors.Is(err, state.ErrEnvironmentDisposed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
