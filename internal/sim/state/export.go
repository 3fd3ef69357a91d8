package state

import (
	"context"
	"errors"

	"github.com/signalsfoundry/animat-simulator/internal/logging"
)

// Exporter makes simulation objects reachable from outside the process.
// Implementations reference-count: an object exported n times stays reachable
// until it has been unexported n times.
type Exporter interface {
	Export(obj any) error
	Unexport(obj any) error
}

// ErrAlreadyExported is returned when exporting an environment that is
// already exported through a different exporter.
var ErrAlreadyExported = errors.New("environment already exported")

// Export exports the environment and everything it owns: populations,
// animals and the parameters each animal observes. While exported, new
// populations and animals are exported as they are created and unexported
// when they die. Exporting again through the same exporter is a no-op.
func (e *Environment) Export(x Exporter) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrEnvironmentDisposed
	}
	switch e.exporter {
	case nil:
	case x:
		return nil
	default:
		return ErrAlreadyExported
	}

	errs := []error{x.Export(e)}
	for _, p := range e.populations {
		errs = append(errs, e.exportPopulationLocked(x, p))
	}
	e.exporter = x
	return errors.Join(errs...)
}

// Unexport reverses Export. It is a no-op when the environment is not
// exported.
func (e *Environment) Unexport() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unexportLocked()
}

// Exported reports whether the environment is currently exported.
func (e *Environment) Exported() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exporter != nil
}

func (e *Environment) unexportLocked() error {
	x := e.exporter
	if x == nil {
		return nil
	}
	var errs []error
	for _, p := range e.populations {
		for _, a := range p.animals {
			errs = append(errs, e.unexportAnimalLocked(x, a))
		}
		errs = append(errs, x.Unexport(p))
	}
	errs = append(errs, x.Unexport(e))
	e.exporter = nil
	return errors.Join(errs...)
}

func (e *Environment) exportPopulationLocked(x Exporter, p *Population) error {
	errs := []error{x.Export(p)}
	for _, a := range p.animals {
		errs = append(errs, e.exportAnimalLocked(x, a))
	}
	return errors.Join(errs...)
}

func (e *Environment) exportAnimalLocked(x Exporter, a *Animal) error {
	errs := []error{x.Export(a)}
	for _, p := range a.species.Parameters {
		if p != nil {
			errs = append(errs, x.Export(p))
		}
	}
	return errors.Join(errs...)
}

func (e *Environment) unexportAnimalLocked(x Exporter, a *Animal) error {
	var errs []error
	for _, p := range a.species.Parameters {
		if p != nil {
			errs = append(errs, x.Unexport(p))
		}
	}
	errs = append(errs, x.Unexport(a))
	return errors.Join(errs...)
}

func (e *Environment) logExportErr(err error) {
	if err != nil {
		e.log.Warn(context.Background(), "export bookkeeping failed", logging.Err(err))
	}
}
