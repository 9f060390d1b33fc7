package reflux

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

// label records what it was asked to display.
type label struct {
	mu       sync.Mutex
	rendered []any
}

func (l *label) Render(v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rendered = append(l.rendered, v)
}

func (l *label) values() []any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]any(nil), l.rendered...)
}

// input is an editable label that echoes renders as edits, like many
// toolkit widgets do.
type input struct {
	label
	onEdit func(any)
}

func (i *input) Render(v any) {
	i.label.Render(v)
	if i.onEdit != nil {
		i.onEdit(v)
	}
}

func (i *input) OnEdit(fn func(any)) func() {
	i.onEdit = fn
	return func() { i.onEdit = nil }
}

func (i *input) edit(v any) {
	if i.onEdit != nil {
		i.onEdit(v)
	}
}

func TestBindings_OneWay(t *testing.T) {
	m := NewManager()
	bs := NewBindings(m)
	p := NewProperty(1)
	m.Register("score", p, false)

	w := &label{}
	b, err := bs.Bind(BindingSpec{Key: "score", Widget: w})
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	p.Set(2)
	b.Dispose()
	p.Set(3)

	if !reflect.DeepEqual(w.values(), []any{1, 2}) {
		t.Errorf("expected [1 2], got %v", w.values())
	}
	if b.Bound() {
		t.Error("expected disposed binding to be unbound")
	}
	if bs.Len() != 0 {
		t.Errorf("expected no live bindings, got %d", bs.Len())
	}
}

func TestBindings_DeferredUntilRegistered(t *testing.T) {
	m := NewManager()
	bs := NewBindings(m)

	w := &label{}
	b, err := bs.Bind(BindingSpec{Key: "later", Widget: w, Converter: StringConverter{}})
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if b.Bound() {
		t.Error("expected binding to wait for the key")
	}

	m.Register("later", NewProperty(0.5), false)

	if !b.Bound() {
		t.Error("expected binding attached on registration")
	}
	if !reflect.DeepEqual(w.values(), []any{"0.5"}) {
		t.Errorf("expected [0.5], got %v", w.values())
	}
}

func TestBindings_OneTime(t *testing.T) {
	m := NewManager()
	bs := NewBindings(m)
	p := NewProperty("first")
	m.Register("title", p, false)

	w := &label{}
	bs.Bind(BindingSpec{Key: "title", Widget: w, Mode: OneTime})
	p.Set("second")

	if !reflect.DeepEqual(w.values(), []any{"first"}) {
		t.Errorf("expected [first], got %v", w.values())
	}
}

func TestBindings_TwoWayWithEchoGuard(t *testing.T) {
	m := NewManager()
	bs := NewBindings(m)
	p := NewProperty(0.5, Range(0.0, 1.0))
	m.Register("volume", p, false)

	writes := 0
	p.Subscribe(func(float64) { writes++ }, false)

	w := &input{}
	if _, err := bs.Bind(BindingSpec{Key: "volume", Widget: w, Mode: TwoWay, Converter: Percent{}}); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if writes != 0 {
		t.Errorf("expected echoed initial render ignored, got %d writes", writes)
	}

	w.edit("30%")
	if p.Get() != 0.3 {
		t.Errorf("expected 0.3, got %v", p.Get())
	}
	if writes != 1 {
		t.Errorf("expected exactly one write, got %d", writes)
	}

	w.edit("250")
	if p.Get() != 1.0 {
		t.Errorf("expected edit clamped by the validator, got %v", p.Get())
	}

	w.edit("loud")
	if p.Get() != 1.0 {
		t.Errorf("expected unparseable edit ignored, got %v", p.Get())
	}
}

func TestBindings_TwoWayOutOfRangeEdit(t *testing.T) {
	m := NewManager()
	bs := NewBindings(m)
	p := NewProperty[uint](50, Range[uint](0, 100))
	m.Register("volume", p, false)

	w := &input{}
	if _, err := bs.Bind(BindingSpec{Key: "volume", Widget: w, Mode: TwoWay}); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	w.edit(-5)
	if p.Get() != 50 {
		t.Errorf("expected negative edit refused, got %d", p.Get())
	}
	w.edit(150)
	if p.Get() != 100 {
		t.Errorf("expected in-range conversion then clamp to 100, got %d", p.Get())
	}
}

func TestBindings_InvalidSpecs(t *testing.T) {
	bs := NewBindings(NewManager())

	if _, err := bs.Bind(BindingSpec{Widget: &label{}}); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}
	if _, err := bs.Bind(BindingSpec{Key: "x"}); !errors.Is(err, ErrInvalidBinding) {
		t.Errorf("expected ErrInvalidBinding for nil widget, got %v", err)
	}
	if _, err := bs.Bind(BindingSpec{Key: "x", Widget: &label{}, Mode: TwoWay}); !errors.Is(err, ErrInvalidBinding) {
		t.Errorf("expected ErrInvalidBinding for read-only two-way, got %v", err)
	}
}

type hud struct {
	Health  *label `bind:"player.health,converter=percent"`
	Name    *input `bind:"player.name,twoway"`
	Title   *label `bind:"level.title,onetime,converter=shout"`
	Missing *label `bind:"player.mana"`
	Broken  *label `bind:"player.xp,converter=nope"`
	Plain   *label
}

func TestBindings_BindFields(t *testing.T) {
	m := NewManager()
	bs := NewBindings(m).RegisterConverter("shout", ConverterFunc(func(v any) (any, error) {
		return formatValue(v) + "!", nil
	}))
	m.Register("player.health", NewProperty(0.5), false)
	name := NewProperty("ada")
	m.Register("player.name", name, false)
	m.Register("level.title", NewProperty("cave"), false)

	h := &hud{Health: &label{}, Name: &input{}, Title: &label{}, Broken: &label{}, Plain: &label{}}
	bound, err := bs.BindFields(h)

	if err == nil {
		t.Error("expected errors for the nil and misconfigured fields")
	}
	if len(bound) != 3 {
		t.Fatalf("expected 3 bindings, got %d", len(bound))
	}
	if !reflect.DeepEqual(h.Health.values(), []any{50.0}) {
		t.Errorf("expected [50], got %v", h.Health.values())
	}
	if !reflect.DeepEqual(h.Title.values(), []any{"cave!"}) {
		t.Errorf("expected [cave!], got %v", h.Title.values())
	}

	h.Name.edit("grace")
	if name.Get() != "grace" {
		t.Errorf("expected two-way edit applied, got %q", name.Get())
	}

	bs.Clear()
	if bs.Len() != 0 {
		t.Errorf("expected no live bindings after Clear, got %d", bs.Len())
	}
}

func TestBindingMode_String(t *testing.T) {
	tests := map[BindingMode]string{
		OneWay:         "oneway",
		TwoWay:         "twoway",
		OneTime:        "onetime",
		BindingMode(9): "unknown",
	}
	for mode, want := range tests {
		if mode.String() != want {
			t.Errorf("expected %s, got %s", want, mode.String())
		}
	}
}
