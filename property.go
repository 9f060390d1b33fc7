package reflux

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
)

// AnyProperty is the type-erased view of a Property used by the Manager,
// the binding system and reflective wiring. Only *Property[T] implements it.
type AnyProperty interface {
	// Key returns the key the property is registered under, or "".
	Key() string

	// ValueType returns the static value type T.
	ValueType() reflect.Type

	// Any returns the current value.
	Any() any

	// SetAny writes v, which must be assignable or numerically convertible
	// to T, and notifies every subscriber.
	SetAny(v any) error

	// SetAnyValue is SetAny with SetValue's forceNotify semantics.
	SetAnyValue(v any, forceNotify bool) error

	// SubscribeAny subscribes with an untyped callback.
	SubscribeAny(fn func(old, new any), fireOnSubscribe bool) *Subscription

	// Subscribers returns the number of live subscribers.
	Subscribers() int

	// Validated reports whether any validator is attached.
	Validated() bool

	setKey(key string)
	attachRules(rules []tagRule)
	close()
}

type subscriber[T any] struct {
	id     uint64
	fn     func(old, new T)
	active atomic.Bool
}

// Property is an observable value cell. Writes run through the attached
// validators, commit under a lock, and then notify subscribers in
// subscription order on the writing goroutine.
//
// The zero value is an unvalidated property holding the zero T.
type Property[T any] struct {
	mu         sync.Mutex
	key        string
	value      T
	validators []Validator[T]
	subs       []*subscriber[T]
	nextID     uint64
	closed     bool
}

// NewProperty creates a property seeded with initial. The seed is passed
// through the validators so a coercing validator can adjust it; a seed that
// is rejected outright is kept, since there is no prior value to fall back on.
func NewProperty[T any](initial T, validators ...Validator[T]) *Property[T] {
	p := &Property[T]{validators: validators}
	if v, ok, _ := p.validate(initial); ok {
		initial = v
	}
	p.value = initial
	return p
}

// Key returns the key the property is registered under.
func (p *Property[T]) Key() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key
}

// ValueType returns the static value type T.
func (p *Property[T]) ValueType() reflect.Type {
	return reflect.TypeFor[T]()
}

// Get returns the current value.
func (p *Property[T]) Get() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// Any returns the current value as an interface.
func (p *Property[T]) Any() any {
	return p.Get()
}

// Set stores v and notifies every subscriber, changed or not.
func (p *Property[T]) Set(v T) {
	p.SetValue(v, true)
}

// SetValue stores v. Subscribers are notified when forceNotify is set or the
// committed value differs from the previous one. A write rejected by a
// validator leaves the stored value untouched and notifies nobody.
func (p *Property[T]) SetValue(v T, forceNotify bool) {
	p.mu.Lock()
	p.commit(v, forceNotify)
}

// Update applies fn to the current value and commits the result. The read,
// validation and commit happen under one lock so concurrent writers cannot
// interleave; fn must not call back into the property.
func (p *Property[T]) Update(fn func(T) T) {
	p.mu.Lock()
	next, ok := p.apply(fn)
	if !ok {
		p.mu.Unlock()
		return
	}
	p.commit(next, true)
}

// apply runs fn against the stored value. The caller must hold p.mu.
func (p *Property[T]) apply(fn func(T) T) (next T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			capitan.Emit(context.Background(), PropertyUpdateFailed,
				KeyProperty.Field(p.key),
				KeyError.Field(fmt.Sprint(r)),
			)
			ok = false
		}
	}()
	return fn(p.value), true
}

// commit validates and stores v, then releases the lock and notifies.
// The caller must hold p.mu.
func (p *Property[T]) commit(v T, forceNotify bool) {
	next, ok, msgs := p.validate(v)
	if !ok {
		key := p.key
		p.mu.Unlock()
		capitan.Emit(context.Background(), PropertyRejected,
			KeyProperty.Field(key),
			KeyError.Field(strings.Join(msgs, "; ")),
		)
		return
	}

	old := p.value
	p.value = next

	var subs []*subscriber[T]
	if forceNotify || !valuesEqual(old, next) {
		subs = make([]*subscriber[T], len(p.subs))
		copy(subs, p.subs)
	}
	p.mu.Unlock()

	for _, s := range subs {
		if s.active.Load() {
			p.invoke(s.fn, old, next)
		}
	}
}

// validate runs the validator chain in declaration order. Coercions are
// adopted and passed on; the first outright rejection stops the chain.
func (p *Property[T]) validate(v T) (T, bool, []string) {
	for _, val := range p.validators {
		r := val.Validate(v)
		switch {
		case r.Valid:
		case r.Coerced:
			v = r.Value
		default:
			return v, false, r.Errors
		}
	}
	return v, true, nil
}

// Subscribe registers fn to receive every committed value. With
// fireOnSubscribe, fn is called with the current value before Subscribe returns.
func (p *Property[T]) Subscribe(fn func(T), fireOnSubscribe bool) *Subscription {
	return p.SubscribeChange(func(_, v T) { fn(v) }, fireOnSubscribe)
}

// SubscribeChange registers fn to receive the previous and committed value
// of every write. With fireOnSubscribe, fn is called once with the current
// value as both arguments before SubscribeChange returns.
func (p *Property[T]) SubscribeChange(fn func(old, new T), fireOnSubscribe bool) *Subscription {
	p.mu.Lock()
	current := p.value
	if p.closed {
		p.mu.Unlock()
		if fireOnSubscribe {
			p.invoke(fn, current, current)
		}
		return newSubscription(nil)
	}
	p.nextID++
	s := &subscriber[T]{id: p.nextID, fn: fn}
	s.active.Store(true)
	p.subs = append(p.subs, s)
	p.mu.Unlock()

	if fireOnSubscribe {
		p.invoke(fn, current, current)
	}
	return newSubscription(func() { p.remove(s) })
}

// SubscribeAny registers an untyped callback.
func (p *Property[T]) SubscribeAny(fn func(old, new any), fireOnSubscribe bool) *Subscription {
	return p.SubscribeChange(func(old, v T) { fn(old, v) }, fireOnSubscribe)
}

// SetAny writes v after converting it to T.
func (p *Property[T]) SetAny(v any) error {
	return p.SetAnyValue(v, true)
}

// SetAnyValue writes v after converting it to T.
func (p *Property[T]) SetAnyValue(v any, forceNotify bool) error {
	tv, ok := convertTo[T](v)
	if !ok {
		return fmt.Errorf("%w: cannot assign %T to %s", ErrTypeMismatch, v, reflect.TypeFor[T]())
	}
	p.SetValue(tv, forceNotify)
	return nil
}

// Subscribers returns the number of live subscribers.
func (p *Property[T]) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// AddValidators appends validators to the chain. The current value is kept
// as is and only later writes are checked.
func (p *Property[T]) AddValidators(validators ...Validator[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validators = append(p.validators, validators...)
}

// Validated reports whether any validator is attached.
func (p *Property[T]) Validated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.validators) > 0
}

func (p *Property[T]) setKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.key == "" {
		p.key = key
	}
}

func (p *Property[T]) attachRules(rules []tagRule) {
	vs := make([]Validator[T], 0, len(rules))
	for _, r := range rules {
		vs = append(vs, ruleValidator[T]{rule: r})
	}
	p.AddValidators(vs...)
}

// close drops every subscriber. Later subscriptions are not retained.
func (p *Property[T]) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.subs {
		s.active.Store(false)
	}
	p.subs = nil
	p.closed = true
}

func (p *Property[T]) remove(target *subscriber[T]) {
	target.active.Store(false)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subs {
		if s.id == target.id {
			p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
			return
		}
	}
}

func (p *Property[T]) invoke(fn func(old, new T), old, v T) {
	defer func() {
		if r := recover(); r != nil {
			capitan.Emit(context.Background(), PropertySubscriberFailed,
				KeyProperty.Field(p.Key()),
				KeyError.Field(fmt.Sprint(r)),
			)
		}
	}()
	fn(old, v)
}

// valuesEqual compares by value for comparable types and by identity for
// slices, maps, funcs and channels. Anything else is never equal.
func valuesEqual(a, b any) (eq bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta.Comparable() {
		// Interface fields can still hold incomparable values.
		defer func() {
			if recover() != nil {
				eq = false
			}
		}()
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch ta.Kind() {
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	case reflect.Map, reflect.Func, reflect.Chan:
		return va.Pointer() == vb.Pointer()
	default:
		return false
	}
}

// convertTo asserts v to T, falling back to numeric conversion between
// number kinds. Numbers T cannot represent are refused. A nil v yields the
// zero T when T can hold nil.
func convertTo[T any](v any) (T, bool) {
	var zero T
	if tv, ok := v.(T); ok {
		return tv, true
	}
	target := reflect.TypeFor[T]()
	if v == nil {
		switch target.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return zero, true
		}
		return zero, false
	}
	rv := reflect.ValueOf(v)
	if isNumberKind(rv.Kind()) && isNumberKind(target.Kind()) {
		cv, ok := convertNumber(rv, target)
		if !ok {
			return zero, false
		}
		return cv.Interface().(T), true
	}
	if rv.Kind() == target.Kind() && rv.Type().ConvertibleTo(target) {
		return rv.Convert(target).Interface().(T), true
	}
	return zero, false
}

// convertNumber converts the number rv to the number type target. It fails
// instead of wrapping when the value is out of the target's range, and for
// NaN or infinities into integers. Fractions truncate toward zero.
func convertNumber(rv reflect.Value, target reflect.Type) (reflect.Value, bool) {
	out := reflect.New(target).Elem()
	switch {
	case rv.CanInt():
		n := rv.Int()
		switch {
		case out.CanInt():
			if out.OverflowInt(n) {
				return out, false
			}
		case out.CanUint():
			if n < 0 || out.OverflowUint(uint64(n)) {
				return out, false
			}
		}
	case rv.CanUint():
		n := rv.Uint()
		switch {
		case out.CanInt():
			if n > math.MaxInt64 || out.OverflowInt(int64(n)) {
				return out, false
			}
		case out.CanUint():
			if out.OverflowUint(n) {
				return out, false
			}
		}
	case rv.CanFloat():
		f := rv.Float()
		switch {
		case out.CanInt():
			if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 || out.OverflowInt(int64(f)) {
				return out, false
			}
		case out.CanUint():
			if math.IsNaN(f) || f < 0 || f >= math.MaxUint64 || out.OverflowUint(uint64(f)) {
				return out, false
			}
		case out.CanFloat():
			if out.OverflowFloat(f) {
				return out, false
			}
		}
	}
	return rv.Convert(target), true
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
