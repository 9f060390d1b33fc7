package reflux

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/zoobzio/capitan"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
	eventType   = reflect.TypeFor[Event]()
)

// Wirer is implemented by components that connect handlers during the
// register phase.
//
//	func (h *HUD) Wire(w *reflux.Wiring) {
//	    w.Event(h.onDamage, reflux.Priority(10))
//	    w.OnChange("player.health", h.onHealth)
//	}
type Wirer interface {
	Wire(w *Wiring)
}

// Wiring connects one owner's handlers to the bus, to properties and to
// widgets. Everything it subscribes is tracked and disposed with the owner.
// A handler that cannot be wired is reported and skipped; the rest of the
// owner's handlers are still wired.
type Wiring struct {
	owner    string
	bus      *Bus
	manager  *Manager
	bindings *Bindings
	subs     *Group

	mu   sync.Mutex
	errs []error
}

// NewWiring creates a Wiring for owner. Subscriptions are added to subs.
func NewWiring(owner string, bus *Bus, manager *Manager, bindings *Bindings, subs *Group) *Wiring {
	return &Wiring{
		owner:    owner,
		bus:      bus,
		manager:  manager,
		bindings: bindings,
		subs:     subs,
	}
}

// Owner returns the owner's diagnostic name.
func (w *Wiring) Owner() string {
	return w.owner
}

// Err joins every wiring failure so far, including deferred OnChange
// failures reported after the owner's Wire returned.
func (w *Wiring) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.errs...)
}

// Track adds subscriptions created elsewhere to the owner's teardown set.
func (w *Wiring) Track(subs ...*Subscription) {
	w.subs.Add(subs...)
}

// Event subscribes handler to the bus. Accepted shapes are
//
//	func(E)
//	func(E) error
//	func(context.Context, E)
//	func(context.Context, E) error
//
// The event type is the type of the last parameter unless EventType is
// given, in which case it must be assignable to that parameter.
func (w *Wiring) Event(handler any, opts ...HandlerOption) error {
	var cfg handlerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	t, fn, err := eventHandler(handler, cfg.eventType)
	if err != nil {
		return w.fail("", fmt.Errorf("event handler %T: %w", handler, err))
	}

	opts = append([]HandlerOption{Owner(w.owner)}, opts...)
	w.subs.Add(w.bus.SubscribeType(t, fn, opts...))
	return nil
}

// OnChange calls handler whenever the property under key changes. Accepted
// shapes are func(), func(new T) and func(old, new T). When the key is not
// registered yet the handler is attached the moment it is; a parameter type
// that does not match the property is reported then, as HandlerWiringFailed
// and in Err. A failure reported after the register phase is not part of the
// Registry.Flush error.
func (w *Wiring) OnChange(key string, handler any) error {
	fv := reflect.ValueOf(handler)
	if err := checkChangeHandler(fv); err != nil {
		return w.fail(key, fmt.Errorf("change handler %T for %q: %w", handler, key, err))
	}

	sub, err := w.manager.Observe(key, func(p AnyProperty) (*Subscription, error) {
		call, err := changeCaller(fv, p.ValueType())
		if err != nil {
			return nil, w.fail(key, fmt.Errorf("change handler %T for %q: %w", handler, key, err))
		}
		return p.SubscribeAny(call, false), nil
	})
	w.subs.Add(sub)
	return err
}

// Bind connects a widget to a property. See Bindings.Bind.
func (w *Wiring) Bind(spec BindingSpec) error {
	b, err := w.bindings.Bind(spec)
	if err != nil {
		return w.fail(spec.Key, err)
	}
	w.subs.Add(b.Subscription())
	return nil
}

func (w *Wiring) fail(key string, err error) error {
	w.mu.Lock()
	w.errs = append(w.errs, err)
	w.mu.Unlock()
	capitan.Emit(context.Background(), HandlerWiringFailed,
		KeyOwner.Field(w.owner),
		KeyProperty.Field(key),
		KeyError.Field(err.Error()),
	)
	return err
}

// eventHandler adapts a reflective event handler to the bus handler shape.
func eventHandler(handler any, override reflect.Type) (reflect.Type, func(context.Context, any) error, error) {
	fv := reflect.ValueOf(handler)
	if !fv.IsValid() || fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, nil, fmt.Errorf("%w: not a function", ErrInvalidHandler)
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return nil, nil, fmt.Errorf("%w: variadic", ErrInvalidHandler)
	}

	withCtx := false
	switch ft.NumIn() {
	case 1:
	case 2:
		if ft.In(0) != contextType {
			return nil, nil, fmt.Errorf("%w: first of two parameters must be context.Context, got %s", ErrInvalidHandler, ft.In(0))
		}
		withCtx = true
	default:
		return nil, nil, fmt.Errorf("%w: want 1 or 2 parameters, got %d", ErrInvalidHandler, ft.NumIn())
	}

	switch {
	case ft.NumOut() == 0:
	case ft.NumOut() == 1 && ft.Out(0) == errorType:
	default:
		return nil, nil, fmt.Errorf("%w: may only return error", ErrInvalidHandler)
	}

	param := ft.In(ft.NumIn() - 1)
	t := param
	if override != nil {
		if !override.AssignableTo(param) {
			return nil, nil, fmt.Errorf("%w: event type %s is not assignable to %s", ErrInvalidHandler, override, param)
		}
		t = override
	} else if param.Kind() == reflect.Interface {
		return nil, nil, fmt.Errorf("%w: cannot infer event type from %s, use EventType", ErrInvalidHandler, param)
	}
	if !t.Implements(eventType) {
		return nil, nil, fmt.Errorf("%w: %s does not implement reflux.Event", ErrInvalidHandler, t)
	}

	fn := func(ctx context.Context, e any) error {
		args := make([]reflect.Value, 0, 2)
		if withCtx {
			args = append(args, reflect.ValueOf(&ctx).Elem())
		}
		arg := reflect.New(param).Elem()
		arg.Set(reflect.ValueOf(e))
		args = append(args, arg)

		out := fv.Call(args)
		if len(out) == 1 && !out[0].IsNil() {
			return out[0].Interface().(error)
		}
		return nil
	}
	return t, fn, nil
}

// checkChangeHandler validates the parts of a change handler's shape that
// do not depend on the property.
func checkChangeHandler(fv reflect.Value) error {
	if !fv.IsValid() || fv.Kind() != reflect.Func || fv.IsNil() {
		return fmt.Errorf("%w: not a function", ErrInvalidHandler)
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return fmt.Errorf("%w: variadic", ErrInvalidHandler)
	}
	if ft.NumIn() > 2 {
		return fmt.Errorf("%w: want 0, 1 or 2 parameters, got %d", ErrInvalidHandler, ft.NumIn())
	}
	if ft.NumOut() != 0 {
		return fmt.Errorf("%w: must not return values", ErrInvalidHandler)
	}
	return nil
}

// changeCaller adapts a change handler to SubscribeAny for a property
// holding values of type vt.
func changeCaller(fv reflect.Value, vt reflect.Type) (func(old, new any), error) {
	ft := fv.Type()
	for i := 0; i < ft.NumIn(); i++ {
		if !vt.AssignableTo(ft.In(i)) {
			return nil, fmt.Errorf("%w: parameter %d is %s, property holds %s", ErrTypeMismatch, i, ft.In(i), vt)
		}
	}

	switch ft.NumIn() {
	case 0:
		return func(_, _ any) { fv.Call(nil) }, nil
	case 1:
		in := ft.In(0)
		return func(_, v any) { fv.Call([]reflect.Value{argValue(v, in)}) }, nil
	default:
		in0, in1 := ft.In(0), ft.In(1)
		return func(old, v any) { fv.Call([]reflect.Value{argValue(old, in0), argValue(v, in1)}) }, nil
	}
}

// argValue builds a call argument of type t, using the zero value for nil.
func argValue(v any, t reflect.Type) reflect.Value {
	rv := reflect.New(t).Elem()
	if v != nil {
		rv.Set(reflect.ValueOf(v))
	}
	return rv
}
