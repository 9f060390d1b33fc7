package reflux

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/zoobzio/capitan"
)

// TagName is the struct tag declaring a reactive field:
//
//	type Player struct {
//	    Health float64                 `reflux:"player.health,persistent" range:"0,100"`
//	    Name   string                  `reflux:"player.name" length:"1,16"`
//	    Email  string                  `reflux:"player.email" validate:"omitempty,email"`
//	    Level  *reflux.Property[int]   `reflux:"player.level"`
//	}
//
// Plain fields become properties whose changes are mirrored back into the
// field. *Property[T] fields are registered as they are.
const TagName = "reflux"

// Identifier may be implemented by owners and components to control how
// they are named in signals and errors.
type Identifier interface {
	Identity() string
}

// identify returns a diagnostic name for an owner.
func identify(owner any) string {
	if id, ok := owner.(Identifier); ok {
		return id.Identity()
	}
	return fmt.Sprintf("%T@%p", owner, owner)
}

var anyPropertyType = reflect.TypeFor[AnyProperty]()

// FieldSet records what RegisterFields did for one owner.
type FieldSet struct {
	// Owner is the owner's diagnostic name.
	Owner string
	// Keys lists the registered property keys in field order.
	Keys []string

	subs Group
}

// Dispose removes the field write-back subscriptions. The properties stay
// registered.
func (s *FieldSet) Dispose() {
	s.subs.Dispose()
}

// Factory turns tagged struct fields into registered properties.
type Factory struct {
	manager     *Manager
	persistence *Persistence
}

// NewFactory creates a Factory registering into m. Persistent fields are
// handed to p; a nil p ignores the persistent flag.
func NewFactory(m *Manager, p *Persistence) *Factory {
	return &Factory{manager: m, persistence: p}
}

// declaration is a parsed reflux tag.
type declaration struct {
	key        string
	persistent bool
}

func parseDeclaration(tag string) (declaration, error) {
	parts := strings.Split(tag, ",")
	d := declaration{key: strings.TrimSpace(parts[0])}
	if d.key == "" {
		return d, ErrEmptyKey
	}
	for _, opt := range parts[1:] {
		switch strings.TrimSpace(opt) {
		case "persistent":
			d.persistent = true
		case "":
		default:
			return d, fmt.Errorf("unknown option %q", opt)
		}
	}
	return d, nil
}

// RegisterFields registers every tagged field of owner, which must be a
// non-nil pointer to a struct. A failing field is reported with the owner's
// identity and skipped; the others are still registered. The returned error
// joins the per-field failures.
func (f *Factory) RegisterFields(ctx context.Context, owner any) (*FieldSet, error) {
	rv := reflect.ValueOf(owner)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: got %T", ErrNotPointer, owner)
	}

	set := &FieldSet{Owner: identify(owner)}
	sv := rv.Elem()
	st := sv.Type()

	var errs []error
	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		tag, ok := sf.Tag.Lookup(TagName)
		if !ok || tag == "-" {
			continue
		}

		d, err := parseDeclaration(tag)
		if err == nil {
			err = f.registerField(ctx, sv.Field(i), sf, d, set)
		}
		if err != nil {
			err = fmt.Errorf("%s.%s: %w", set.Owner, sf.Name, err)
			errs = append(errs, err)
			capitan.Emit(ctx, FieldRegistrationFailed,
				KeyOwner.Field(set.Owner),
				KeyProperty.Field(d.key),
				KeyError.Field(err.Error()),
			)
			continue
		}
		set.Keys = append(set.Keys, d.key)
	}
	return set, errors.Join(errs...)
}

func (f *Factory) registerField(ctx context.Context, fv reflect.Value, sf reflect.StructField, d declaration, set *FieldSet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if !sf.IsExported() {
		return fmt.Errorf("%w: field is unexported", ErrUnsupportedField)
	}
	if sf.Type.Implements(anyPropertyType) {
		return f.registerExplicit(ctx, fv, sf, d, set)
	}
	return f.registerImplicit(ctx, fv, sf, d, set)
}

// registerExplicit handles *Property[T] fields.
func (f *Factory) registerExplicit(ctx context.Context, fv reflect.Value, sf reflect.StructField, d declaration, set *FieldSet) error {
	if fv.IsNil() {
		fv.Set(reflect.New(sf.Type.Elem()))
		capitan.Emit(ctx, FieldDefaulted,
			KeyOwner.Field(set.Owner),
			KeyProperty.Field(d.key),
		)
	}
	prop := fv.Interface().(AnyProperty)

	rules, err := rulesFromField(sf, prop.ValueType())
	if err != nil {
		return err
	}

	registered, err := f.manager.Register(d.key, prop, d.persistent)
	switch {
	case err == nil:
		if len(rules) > 0 {
			prop.attachRules(rules)
		}
	case errors.Is(err, ErrPropertyConflict) && reflect.TypeOf(registered) == sf.Type:
		// Share the authoritative instance instead of keeping a private copy.
		fv.Set(reflect.ValueOf(registered))
		prop = registered
		if d.persistent {
			f.manager.MarkPersistent(d.key)
		}
	default:
		return err
	}

	if d.persistent {
		f.persist(d.key, prop)
	}
	return nil
}

// registerImplicit handles plain value fields.
func (f *Factory) registerImplicit(ctx context.Context, fv reflect.Value, sf reflect.StructField, d declaration, set *FieldSet) error {
	rules, err := rulesFromField(sf, sf.Type)
	if err != nil {
		return err
	}

	var sub *Subscription
	switch seed := fv.Interface().(type) {
	case bool:
		sub, err = bindImplicit(f, fv, seed, d, rules)
	case int:
		sub, err = bindImplicit(f, fv, seed, d, rules)
	case int32:
		sub, err = bindImplicit(f, fv, seed, d, rules)
	case int64:
		sub, err = bindImplicit(f, fv, seed, d, rules)
	case uint:
		sub, err = bindImplicit(f, fv, seed, d, rules)
	case uint32:
		sub, err = bindImplicit(f, fv, seed, d, rules)
	case uint64:
		sub, err = bindImplicit(f, fv, seed, d, rules)
	case float32:
		sub, err = bindImplicit(f, fv, seed, d, rules)
	case float64:
		sub, err = bindImplicit(f, fv, seed, d, rules)
	case string:
		sub, err = bindImplicit(f, fv, seed, d, rules)
	case time.Duration:
		sub, err = bindImplicit(f, fv, seed, d, rules)
	default:
		return fmt.Errorf("%w: %s is not a supported value type; declare the field as *reflux.Property[%s]",
			ErrUnsupportedField, sf.Type, sf.Type)
	}
	if err != nil {
		return err
	}
	set.subs.Add(sub)
	return nil
}

// bindImplicit registers (or joins) the property for a plain field and
// mirrors its value back into the field, starting with the current one.
func bindImplicit[T any](f *Factory, fv reflect.Value, seed T, d declaration, rules []tagRule) (*Subscription, error) {
	validators := make([]Validator[T], 0, len(rules))
	for _, r := range rules {
		validators = append(validators, ruleValidator[T]{rule: r})
	}
	prop, err := implicitProperty(f.manager, d, seed, validators)
	if err != nil {
		return nil, err
	}
	if d.persistent {
		f.persist(d.key, prop)
	}
	return prop.Subscribe(func(v T) {
		fv.Set(reflect.ValueOf(v))
	}, true), nil
}

// implicitProperty joins the property already registered under the key or
// registers a new one seeded with seed.
func implicitProperty[T any](m *Manager, d declaration, seed T, validators []Validator[T]) (*Property[T], error) {
	if existing, ok := m.Lookup(d.key); ok {
		typed, ok := existing.(*Property[T])
		if !ok {
			return nil, fmt.Errorf("%w: %q holds %s, field is %s",
				ErrTypeMismatch, d.key, existing.ValueType(), reflect.TypeFor[T]())
		}
		if d.persistent {
			m.MarkPersistent(d.key)
		}
		return typed, nil
	}

	created := NewProperty(seed, validators...)
	got, err := m.Register(d.key, created, d.persistent)
	if err != nil {
		if typed, ok := got.(*Property[T]); ok {
			return typed, nil
		}
		return nil, err
	}
	return created, nil
}

// persist hands a registered property to the persistence layer. Load
// failures are reported there and leave the in-memory value in place.
func (f *Factory) persist(key string, p AnyProperty) {
	if f.persistence == nil {
		return
	}
	_ = f.persistence.RegisterPersistentProperty(key, p)
}
