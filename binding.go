package reflux

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
)

// BindTagName is the struct tag binding a widget field to a property:
//
//	type HUD struct {
//	    Health *Label  `bind:"player.health,converter=percent"`
//	    Name   *Input  `bind:"player.name,twoway"`
//	}
const BindTagName = "bind"

// Widget is anything that can display a value.
type Widget interface {
	Render(v any)
}

// EditableWidget is a Widget that reports user edits. OnEdit returns a
// function that stops the reports.
type EditableWidget interface {
	Widget
	OnEdit(fn func(v any)) (cancel func())
}

// BindingMode is the direction values flow through a binding.
type BindingMode int

const (
	// OneWay renders every property change.
	OneWay BindingMode = iota
	// TwoWay renders property changes and writes widget edits back.
	TwoWay
	// OneTime renders the value present when the binding attaches.
	OneTime
)

// String returns the tag spelling of the mode.
func (m BindingMode) String() string {
	switch m {
	case OneWay:
		return "oneway"
	case TwoWay:
		return "twoway"
	case OneTime:
		return "onetime"
	default:
		return "unknown"
	}
}

// BindingSpec declares one widget to property connection.
type BindingSpec struct {
	Key       string
	Widget    Widget
	Mode      BindingMode
	Converter Converter
}

// BindingProvider is implemented by components that declare bindings in
// code rather than with bind tags.
type BindingProvider interface {
	Bindings() []BindingSpec
}

// Binding is a live connection between a widget and a property.
type Binding struct {
	spec      BindingSpec
	sub       *Subscription
	bound     atomic.Bool
	rendering atomic.Bool
}

// Key returns the bound property key.
func (b *Binding) Key() string {
	return b.spec.Key
}

// Mode returns the binding mode.
func (b *Binding) Mode() BindingMode {
	return b.spec.Mode
}

// Bound reports whether the property has been found and attached.
func (b *Binding) Bound() bool {
	return b.bound.Load()
}

// Subscription returns the handle that tears the binding down.
func (b *Binding) Subscription() *Subscription {
	return b.sub
}

// Dispose tears the binding down.
func (b *Binding) Dispose() {
	b.sub.Dispose()
}

// Bindings connects widgets to properties held by a Manager.
type Bindings struct {
	manager    *Manager
	converters *converterTable

	mu     sync.Mutex
	active map[*Binding]struct{}
}

// NewBindings creates a binding system over m with the built-in named
// converters identity, string, invert and percent.
func NewBindings(m *Manager) *Bindings {
	return &Bindings{
		manager:    m,
		converters: newConverterTable(),
		active:     make(map[*Binding]struct{}),
	}
}

// RegisterConverter makes c available to bind tags under name.
func (bs *Bindings) RegisterConverter(name string, c Converter) *Bindings {
	bs.converters.register(name, c)
	return bs
}

// Converter returns the converter registered under name.
func (bs *Bindings) Converter(name string) (Converter, bool) {
	return bs.converters.lookup(name)
}

// Bind connects spec.Widget to the property under spec.Key. When the key is
// not registered yet the binding waits and attaches the moment it is.
// Converter failures are reported and leave the widget or property as is.
func (bs *Bindings) Bind(spec BindingSpec) (*Binding, error) {
	if spec.Key == "" {
		return nil, ErrEmptyKey
	}
	if spec.Widget == nil {
		return nil, fmt.Errorf("%w: nil widget for %q", ErrInvalidBinding, spec.Key)
	}
	if spec.Converter == nil {
		spec.Converter = Identity{}
	}
	var editable EditableWidget
	if spec.Mode == TwoWay {
		ew, ok := spec.Widget.(EditableWidget)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not editable, %q cannot bind two-way", ErrInvalidBinding, spec.Widget, spec.Key)
		}
		editable = ew
	}

	b := &Binding{spec: spec}
	inner, _ := bs.manager.Observe(spec.Key, func(p AnyProperty) (*Subscription, error) {
		return bs.attach(b, p, editable), nil
	})

	bs.mu.Lock()
	bs.active[b] = struct{}{}
	bs.mu.Unlock()

	b.sub = newSubscription(func() {
		inner.Dispose()
		b.bound.Store(false)
		bs.mu.Lock()
		delete(bs.active, b)
		bs.mu.Unlock()
	})
	return b, nil
}

func (bs *Bindings) attach(b *Binding, p AnyProperty, editable EditableWidget) *Subscription {
	b.bound.Store(true)

	if b.spec.Mode == OneTime {
		bs.render(b, p.Any())
		return newSubscription(nil)
	}

	sub := p.SubscribeAny(func(_, v any) {
		bs.render(b, v)
	}, true)
	if editable == nil {
		return sub
	}

	valueType := p.ValueType()
	cancel := editable.OnEdit(func(v any) {
		// Widgets that echo programmatic renders as edits are ignored.
		if b.rendering.Load() {
			return
		}
		back, err := b.spec.Converter.ConvertBack(v, valueType)
		if err == nil {
			err = p.SetAny(back)
		}
		if err != nil {
			bs.fail(b, err)
		}
	})
	return newSubscription(func() {
		sub.Dispose()
		if cancel != nil {
			cancel()
		}
	})
}

func (bs *Bindings) render(b *Binding, v any) {
	out, err := b.spec.Converter.Convert(v)
	if err != nil {
		bs.fail(b, err)
		return
	}
	b.rendering.Store(true)
	defer b.rendering.Store(false)
	b.spec.Widget.Render(out)
}

func (bs *Bindings) fail(b *Binding, err error) {
	capitan.Emit(context.Background(), BindingFailed,
		KeyProperty.Field(b.spec.Key),
		KeyError.Field(err.Error()),
	)
}

// BindFields binds every widget field of owner tagged with bind. Fields
// that fail are reported and skipped; the returned error joins them.
func (bs *Bindings) BindFields(owner any) ([]*Binding, error) {
	rv := reflect.ValueOf(owner)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: got %T", ErrNotPointer, owner)
	}
	sv := rv.Elem()
	st := sv.Type()

	var (
		bound []*Binding
		errs  []error
	)
	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		tag, ok := sf.Tag.Lookup(BindTagName)
		if !ok || tag == "-" {
			continue
		}
		b, err := bs.bindField(sv.Field(i), sf, tag)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.%s: %w", identify(owner), sf.Name, err))
			continue
		}
		bound = append(bound, b)
	}
	return bound, errors.Join(errs...)
}

func (bs *Bindings) bindField(fv reflect.Value, sf reflect.StructField, tag string) (*Binding, error) {
	if !sf.IsExported() {
		return nil, fmt.Errorf("%w: field is unexported", ErrInvalidBinding)
	}
	spec, err := bs.parseBindTag(tag)
	if err != nil {
		return nil, err
	}
	w, ok := fv.Interface().(Widget)
	if !ok || (fv.Kind() == reflect.Pointer || fv.Kind() == reflect.Interface) && fv.IsNil() {
		return nil, fmt.Errorf("%w: %s is not a non-nil Widget", ErrInvalidBinding, sf.Type)
	}
	spec.Widget = w
	return bs.Bind(spec)
}

// parseBindTag parses "key[,oneway|twoway|onetime][,converter=name]".
func (bs *Bindings) parseBindTag(tag string) (BindingSpec, error) {
	parts := strings.Split(tag, ",")
	spec := BindingSpec{Key: strings.TrimSpace(parts[0])}
	if spec.Key == "" {
		return spec, ErrEmptyKey
	}
	for _, raw := range parts[1:] {
		opt := strings.TrimSpace(raw)
		switch {
		case opt == "":
		case opt == OneWay.String():
			spec.Mode = OneWay
		case opt == TwoWay.String():
			spec.Mode = TwoWay
		case opt == OneTime.String():
			spec.Mode = OneTime
		case strings.HasPrefix(opt, "converter="):
			name := strings.TrimPrefix(opt, "converter=")
			c, ok := bs.converters.lookup(name)
			if !ok {
				return spec, fmt.Errorf("%w: unknown converter %q", ErrInvalidBinding, name)
			}
			spec.Converter = c
		default:
			return spec, fmt.Errorf("%w: unknown option %q", ErrInvalidBinding, opt)
		}
	}
	return spec, nil
}

// Len returns the number of live bindings.
func (bs *Bindings) Len() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return len(bs.active)
}

// Clear disposes every live binding.
func (bs *Bindings) Clear() {
	bs.mu.Lock()
	active := make([]*Binding, 0, len(bs.active))
	for b := range bs.active {
		active = append(active, b)
	}
	bs.mu.Unlock()

	for _, b := range active {
		b.Dispose()
	}
}
