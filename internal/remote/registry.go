// Package remote makes simulation objects invocable from other processes.
//
// A Registry reference-counts exported objects and assigns each an opaque id.
// Server exposes the registry over gRPC; Client and Lookup reach it from the
// other side.
package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/animat-simulator/internal/logging"
	"github.com/signalsfoundry/animat-simulator/internal/sim/runner"
	"github.com/signalsfoundry/animat-simulator/internal/sim/state"
	"github.com/signalsfoundry/animat-simulator/model"
)

// Object kinds reachable remotely.
const (
	KindSimulation  = "simulation"
	KindEnvironment = "environment"
	KindPopulation  = "population"
	KindAnimal      = "animal"
	KindParameter   = "parameter"
)

// DefaultUnexportTimeout bounds how long Unexport waits for in-flight calls.
const DefaultUnexportTimeout = time.Second

// Metrics receives registry bookkeeping.
type Metrics interface {
	SetExportedObjects(kind string, n int)
	IncForcedUnexports()
	IncInvocation(kind, op string)
}

type binding struct {
	id   string
	kind string
	obj  any
	refs int

	// revoked is guarded by Registry.mu; no call is admitted once set.
	revoked  bool
	inflight sync.WaitGroup
}

// Registry tracks exported objects. It implements runner.Publisher.
type Registry struct {
	log             logging.Logger
	metrics         Metrics
	unexportTimeout time.Duration

	mu       sync.Mutex
	byObject map[any]*binding
	byID     map[string]*binding
	names    map[string]string
	perKind  map[string]int
}

var _ runner.Publisher = (*Registry)(nil)

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithUnexportTimeout bounds the wait for in-flight calls on unexport.
func WithUnexportTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.unexportTimeout = d
		}
	}
}

// WithMetrics reports registry counts to m.
func WithMetrics(m Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(log logging.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = logging.Noop()
	}
	r := &Registry{
		log:             log,
		unexportTimeout: DefaultUnexportTimeout,
		byObject:        make(map[any]*binding),
		byID:            make(map[string]*binding),
		names:           make(map[string]string),
		perKind:         make(map[string]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func kindOf(obj any) (string, error) {
	switch obj.(type) {
	case *runner.Simulation:
		return KindSimulation, nil
	case *state.Environment:
		return KindEnvironment, nil
	case *state.Population:
		return KindPopulation, nil
	case *state.Animal:
		return KindAnimal, nil
	case *model.Parameter:
		return KindParameter, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedObject, obj)
	}
}

// Export makes obj reachable, or adds a reference when it already is.
func (r *Registry) Export(obj any) error {
	kind, err := kindOf(obj)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byObject[obj]; ok {
		b.refs++
		return nil
	}
	b := &binding{id: uuid.NewString(), kind: kind, obj: obj, refs: 1}
	r.byObject[obj] = b
	r.byID[b.id] = b
	r.perKind[kind]++
	r.reportKindLocked(kind)
	return nil
}

// Unexport drops one reference to obj. When the last reference goes the
// binding is revoked: new calls fail with ErrObjectNotFound, and Unexport
// waits up to the unexport timeout for calls already running before it
// gives up on them and returns.
func (r *Registry) Unexport(obj any) error {
	r.mu.Lock()
	b, ok := r.byObject[obj]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %T", ErrObjectNotFound, obj)
	}
	b.refs--
	if b.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	b.revoked = true
	delete(r.byObject, obj)
	delete(r.byID, b.id)
	for name, id := range r.names {
		if id == b.id {
			delete(r.names, name)
		}
	}
	r.perKind[b.kind]--
	r.reportKindLocked(b.kind)
	r.mu.Unlock()

	r.awaitInflight(b)
	return nil
}

func (r *Registry) awaitInflight(b *binding) {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(r.unexportTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		r.log.Warn(context.Background(), "forced unexport with calls still in flight",
			logging.Object(b.kind, b.id),
			logging.Duration("timeout", r.unexportTimeout),
		)
		if r.metrics != nil {
			r.metrics.IncForcedUnexports()
		}
	}
}

func (r *Registry) reportKindLocked(kind string) {
	if r.metrics != nil {
		r.metrics.SetExportedObjects(kind, r.perKind[kind])
	}
}

// Publish binds name to the exported obj.
func (r *Registry) Publish(name string, obj any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byObject[obj]
	if !ok {
		return fmt.Errorf("%w: %T", ErrObjectNotFound, obj)
	}
	if id, taken := r.names[name]; taken && id != b.id {
		return fmt.Errorf("%w: %q", ErrNameInUse, name)
	}
	r.names[name] = b.id
	return nil
}

// Withdraw unbinds name.
func (r *Registry) Withdraw(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNameNotBound, name)
	}
	delete(r.names, name)
	return nil
}

// Resolve returns the id and kind bound to name.
func (r *Registry) Resolve(name string) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.names[name]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrNameNotBound, name)
	}
	b, ok := r.byID[id]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrNameNotBound, name)
	}
	return id, b.kind, nil
}

// Names lists the bound names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.names))
	for name := range r.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Ref returns the id and kind of an exported object.
func (r *Registry) Ref(obj any) (ObjectRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byObject[obj]
	if !ok {
		return ObjectRef{}, false
	}
	return ObjectRef{ID: b.id, Kind: b.kind}, true
}

// Refs returns the reference count of obj, 0 when it is not exported.
func (r *Registry) Refs(obj any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byObject[obj]; ok {
		return b.refs
	}
	return 0
}

// Len returns the number of exported objects.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// acquire admits one call on id. The caller must release the binding.
func (r *Registry) acquire(id string) (*binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok || b.revoked {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	b.inflight.Add(1)
	return b, nil
}

// Invoke calls method on the object exported as id.
func (r *Registry) Invoke(ctx context.Context, id, method string, args *structpb.Struct) (*structpb.Struct, error) {
	b, err := r.acquire(id)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	release := func() { once.Do(b.inflight.Done) }
	defer release()

	if r.metrics != nil {
		r.metrics.IncInvocation(b.kind, method)
	}
	ctx, span := startInvokeSpan(ctx, b.kind, id, method)
	defer span.End()

	result, err := dispatch(ctx, r, b.obj, method, args.AsMap(), release)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out, err := structpb.NewStruct(result)
	if err != nil {
		return nil, fmt.Errorf("encode %s.%s result: %w", b.kind, method, err)
	}
	return out, nil
}
