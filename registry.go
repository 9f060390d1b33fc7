package reflux

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/zoobzio/capitan"
)

// Phase is a component's position in the Register, Awake, Start lifecycle.
type Phase int32

const (
	// PhaseUninitialized is a component added but not flushed yet.
	PhaseUninitialized Phase = iota
	// PhaseRegistered is a component whose fields, handlers and bindings are wired.
	PhaseRegistered
	// PhaseAwake is a component whose Awake hook has run.
	PhaseAwake
	// PhaseStarted is a fully started component.
	PhaseStarted
	// PhaseDestroyed is a torn down component.
	PhaseDestroyed
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseRegistered:
		return "registered"
	case PhaseAwake:
		return "awake"
	case PhaseStarted:
		return "started"
	case PhaseDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Awaker is implemented by components with a post-registration hook. It
// runs after every component in the batch is registered.
type Awaker interface {
	Awake(ctx context.Context) error
}

// Starter is implemented by components with a startup hook. It runs after
// every component in the batch is awake.
type Starter interface {
	Start(ctx context.Context) error
}

// Destroyer is implemented by components with a teardown hook.
type Destroyer interface {
	Destroy(ctx context.Context)
}

type componentEntry struct {
	component any
	name      string
	phase     Phase
	fields    *FieldSet
	subs      Group
}

// Registry drives components through Register, Awake and Start. Each phase
// is applied to the whole pending batch before the next one begins, so an
// Awake or Start hook can rely on every property and handler of the batch.
type Registry struct {
	factory  *Factory
	bus      *Bus
	manager  *Manager
	bindings *Bindings

	mu      sync.Mutex
	entries map[any]*componentEntry
	order   []*componentEntry
	pending []*componentEntry
}

// NewRegistry creates a Registry wiring components into the given runtime parts.
func NewRegistry(factory *Factory, bus *Bus, manager *Manager, bindings *Bindings) *Registry {
	return &Registry{
		factory:  factory,
		bus:      bus,
		manager:  manager,
		bindings: bindings,
		entries:  make(map[any]*componentEntry),
	}
}

// Add queues components for the next Flush. Components must be non-nil
// pointers; one already known to the registry is ignored.
func (r *Registry) Add(components ...any) error {
	var errs []error

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range components {
		rv := reflect.ValueOf(c)
		if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() {
			errs = append(errs, fmt.Errorf("%w: component %T", ErrNotPointer, c))
			continue
		}
		if _, ok := r.entries[c]; ok {
			continue
		}
		e := &componentEntry{component: c, name: identify(c)}
		r.entries[c] = e
		r.order = append(r.order, e)
		r.pending = append(r.pending, e)
	}
	return errors.Join(errs...)
}

// Pending returns the number of components waiting for Flush.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush runs the three phases over every pending component. Failures are
// reported per component and joined; they never stop the batch. A component
// whose Awake fails is not started.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	var errs []error
	for _, e := range batch {
		if err := r.register(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	for _, e := range batch {
		if r.Phase(e.component) != PhaseRegistered {
			continue
		}
		if a, ok := e.component.(Awaker); ok {
			if err := r.runPhase(ctx, e, PhaseAwake, a.Awake); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		r.setPhase(e, PhaseAwake)
	}
	for _, e := range batch {
		if r.Phase(e.component) != PhaseAwake {
			continue
		}
		if s, ok := e.component.(Starter); ok {
			if err := r.runPhase(ctx, e, PhaseStarted, s.Start); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		r.setPhase(e, PhaseStarted)
	}
	return errors.Join(errs...)
}

// register wires fields, handlers and bindings for one component.
func (r *Registry) register(ctx context.Context, e *componentEntry) error {
	var errs []error

	if isStructPointer(e.component) {
		fields, err := r.factory.RegisterFields(ctx, e.component)
		if err != nil {
			errs = append(errs, err)
		}
		if fields != nil {
			r.mu.Lock()
			e.fields = fields
			r.mu.Unlock()
		}

		bound, err := r.bindings.BindFields(e.component)
		for _, b := range bound {
			e.subs.Add(b.Subscription())
		}
		if err != nil {
			errs = append(errs, r.phaseFailed(ctx, e, PhaseRegistered, err))
		}
	}

	if p, ok := e.component.(BindingProvider); ok {
		w := NewWiring(e.name, r.bus, r.manager, r.bindings, &e.subs)
		for _, spec := range p.Bindings() {
			_ = w.Bind(spec) //nolint:errcheck // Collected by w.Err
		}
		if err := w.Err(); err != nil {
			errs = append(errs, err)
		}
	}

	if wr, ok := e.component.(Wirer); ok {
		w := NewWiring(e.name, r.bus, r.manager, r.bindings, &e.subs)
		err := r.runPhase(ctx, e, PhaseRegistered, func(context.Context) error {
			wr.Wire(w)
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
		if err := w.Err(); err != nil {
			errs = append(errs, err)
		}
	}

	r.setPhase(e, PhaseRegistered)
	count := 0
	if fs := e.fields; fs != nil {
		count = len(fs.Keys)
	}
	capitan.Emit(ctx, ComponentRegistered,
		KeyComponent.Field(e.name),
		KeyCount.Field(count),
	)
	return errors.Join(errs...)
}

// runPhase calls hook, converting a panic into an error. Failures are
// reported with the component and phase.
func (r *Registry) runPhase(ctx context.Context, e *componentEntry, phase Phase, hook func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = r.phaseFailed(ctx, e, phase, fmt.Errorf("panic: %v", rec))
		}
	}()
	if err := hook(ctx); err != nil {
		return r.phaseFailed(ctx, e, phase, err)
	}
	return nil
}

func (r *Registry) phaseFailed(ctx context.Context, e *componentEntry, phase Phase, err error) error {
	err = fmt.Errorf("%s %s: %w", e.name, phase, err)
	capitan.Emit(ctx, ComponentPhaseFailed,
		KeyComponent.Field(e.name),
		KeyPhase.Field(phase.String()),
		KeyError.Field(err.Error()),
	)
	return err
}

func (r *Registry) setPhase(e *componentEntry, phase Phase) {
	r.mu.Lock()
	e.phase = phase
	r.mu.Unlock()
}

// Phase returns the lifecycle phase of c. Unknown components report
// PhaseUninitialized.
func (r *Registry) Phase(c any) Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[c]
	if !ok {
		return PhaseUninitialized
	}
	return e.phase
}

// Keys returns the property keys registered from c's fields.
func (r *Registry) Keys(c any) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[c]
	if !ok || e.fields == nil {
		return nil
	}
	return append([]string(nil), e.fields.Keys...)
}

// Len returns the number of components known to the registry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Destroy tears c down: its Destroy hook runs, then every subscription it
// made is disposed. The properties it registered stay in the Manager.
func (r *Registry) Destroy(ctx context.Context, c any) bool {
	r.mu.Lock()
	e, ok := r.entries[c]
	if ok {
		delete(r.entries, c)
		r.order = removeEntry(r.order, e)
		r.pending = removeEntry(r.pending, e)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.teardown(ctx, e)
	return true
}

// Clear destroys every component, most recently added first, and returns
// how many were destroyed.
func (r *Registry) Clear(ctx context.Context) int {
	r.mu.Lock()
	order := r.order
	r.order = nil
	r.pending = nil
	r.entries = make(map[any]*componentEntry)
	r.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		r.teardown(ctx, order[i])
	}
	return len(order)
}

func (r *Registry) teardown(ctx context.Context, e *componentEntry) {
	r.mu.Lock()
	flushed := e.phase != PhaseUninitialized
	r.mu.Unlock()

	if d, ok := e.component.(Destroyer); ok && flushed {
		_ = r.runPhase(ctx, e, PhaseDestroyed, func(ctx context.Context) error { //nolint:errcheck // Reported by runPhase
			d.Destroy(ctx)
			return nil
		})
	}
	e.subs.Dispose()
	if e.fields != nil {
		e.fields.Dispose()
	}
	r.setPhase(e, PhaseDestroyed)
	capitan.Emit(ctx, ComponentDestroyed, KeyComponent.Field(e.name))
}

func removeEntry(entries []*componentEntry, target *componentEntry) []*componentEntry {
	for i, e := range entries {
		if e == target {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

func isStructPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Kind() == reflect.Struct
}
