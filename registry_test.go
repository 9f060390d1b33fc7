package reflux

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func newTestRegistry() (*Registry, *Manager, *Bus) {
	m := NewManager()
	bus := NewBus()
	return NewRegistry(NewFactory(m, nil), bus, m, NewBindings(m)), m, bus
}

// lifecycleLog records hook calls across components.
type lifecycleLog struct {
	calls []string
}

func (l *lifecycleLog) add(s string) {
	l.calls = append(l.calls, s)
}

type scoreKeeper struct {
	log   *lifecycleLog
	Score int `reflux:"score"`

	events int
	seen   []int
}

func (s *scoreKeeper) Identity() string { return "keeper" }

func (s *scoreKeeper) Wire(w *Wiring) {
	s.log.add("keeper.wire")
	w.Event(func(testEvent) { s.events++ })
	w.OnChange("bonus", func(v int) { s.seen = append(s.seen, v) })
	w.Event("not a handler")
}

func (s *scoreKeeper) Awake(context.Context) error {
	s.log.add("keeper.awake")
	return nil
}

func (s *scoreKeeper) Start(context.Context) error {
	s.log.add("keeper.start")
	return nil
}

func (s *scoreKeeper) Destroy(context.Context) {
	s.log.add("keeper.destroy")
}

type bonusGiver struct {
	log   *lifecycleLog
	Bonus int `reflux:"bonus"`

	// Read during Awake, after the whole batch registered.
	scoreAtAwake bool
	manager      *Manager
}

func (b *bonusGiver) Identity() string { return "giver" }

func (b *bonusGiver) Awake(context.Context) error {
	b.log.add("giver.awake")
	_, b.scoreAtAwake = b.manager.Lookup("score")
	return nil
}

func (b *bonusGiver) Start(context.Context) error {
	b.log.add("giver.start")
	return nil
}

func TestRegistry_BatchPhases(t *testing.T) {
	r, m, bus := newTestRegistry()
	log := &lifecycleLog{}

	keeper := &scoreKeeper{log: log}
	giver := &bonusGiver{log: log, Bonus: 5, manager: m}

	if err := r.Add(giver, keeper); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if r.Pending() != 2 {
		t.Errorf("expected 2 pending, got %d", r.Pending())
	}

	err := r.Flush(context.Background())
	if err == nil {
		t.Error("expected the bad handler to be reported")
	}

	want := []string{"keeper.wire", "giver.awake", "keeper.awake", "giver.start", "keeper.start"}
	if !reflect.DeepEqual(log.calls, want) {
		t.Errorf("expected %v, got %v", want, log.calls)
	}
	if !giver.scoreAtAwake {
		t.Error("expected every property of the batch registered before Awake")
	}
	if r.Phase(keeper) != PhaseStarted || r.Phase(giver) != PhaseStarted {
		t.Errorf("expected both started, got %s and %s", r.Phase(keeper), r.Phase(giver))
	}

	// The bad handler did not stop the rest of the wiring.
	Publish(context.Background(), bus, testEvent{})
	if keeper.events != 1 {
		t.Errorf("expected event handler wired, got %d", keeper.events)
	}
	bonus, _ := GetProperty[int](m, "bonus")
	bonus.Set(8)
	if !reflect.DeepEqual(keeper.seen, []int{8}) {
		t.Errorf("expected [8], got %v", keeper.seen)
	}
	if giver.Bonus != 8 {
		t.Errorf("expected field mirrored to 8, got %d", giver.Bonus)
	}
	if !reflect.DeepEqual(r.Keys(giver), []string{"bonus"}) {
		t.Errorf("expected [bonus], got %v", r.Keys(giver))
	}
}

type failingAwake struct {
	started bool
}

func (f *failingAwake) Awake(context.Context) error { return errors.New("not ready") }
func (f *failingAwake) Start(context.Context) error { f.started = true; return nil }

type panickingStart struct{}

func (panickingStart) Start(context.Context) error { panic("boom") }

func TestRegistry_PhaseFailuresIsolated(t *testing.T) {
	r, _, _ := newTestRegistry()

	bad := &failingAwake{}
	boom := &panickingStart{}
	log := &lifecycleLog{}
	ok := &scoreKeeper{log: log}

	r.Add(bad, boom, ok)
	err := r.Flush(context.Background())

	if err == nil {
		t.Fatal("expected joined failures")
	}
	if bad.started {
		t.Error("expected a component whose Awake failed not to start")
	}
	if r.Phase(bad) != PhaseRegistered {
		t.Errorf("expected registered, got %s", r.Phase(bad))
	}
	if r.Phase(boom) != PhaseAwake {
		t.Errorf("expected awake, got %s", r.Phase(boom))
	}
	if r.Phase(ok) != PhaseStarted {
		t.Errorf("expected healthy component started, got %s", r.Phase(ok))
	}
}

func TestRegistry_AddValidation(t *testing.T) {
	r, _, _ := newTestRegistry()
	c := &failingAwake{}

	err := r.Add(nil, failingAwake{}, c, c)
	if !errors.Is(err, ErrNotPointer) {
		t.Errorf("expected ErrNotPointer, got %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("expected duplicates ignored, got %d", r.Len())
	}
	r.Flush(context.Background())
	r.Add(c)
	if r.Pending() != 0 {
		t.Errorf("expected a known component not to be queued again, got %d", r.Pending())
	}
}

func TestRegistry_DestroyDisposesSubscriptions(t *testing.T) {
	r, m, bus := newTestRegistry()
	log := &lifecycleLog{}
	keeper := &scoreKeeper{log: log}

	r.Add(keeper)
	r.Flush(context.Background())

	if !r.Destroy(context.Background(), keeper) {
		t.Fatal("expected destroy to succeed")
	}
	if r.Destroy(context.Background(), keeper) {
		t.Error("expected second destroy to report false")
	}

	Publish(context.Background(), bus, testEvent{})
	if keeper.events != 0 {
		t.Errorf("expected handlers disposed, got %d", keeper.events)
	}
	score, ok := GetProperty[int](m, "score")
	if !ok {
		t.Fatal("expected properties to outlive the component")
	}
	score.Set(3)
	if keeper.Score != 0 {
		t.Errorf("expected field write-back disposed, got %d", keeper.Score)
	}
	if log.calls[len(log.calls)-1] != "keeper.destroy" {
		t.Errorf("expected Destroy hook, got %v", log.calls)
	}
}

func TestRegistry_ClearReverseOrder(t *testing.T) {
	r, _, _ := newTestRegistry()
	log := &lifecycleLog{}
	first := &scoreKeeper{log: log}
	unflushed := &scoreKeeper{log: log}

	r.Add(first)
	r.Flush(context.Background())
	r.Add(unflushed)

	log.calls = nil
	if n := r.Clear(context.Background()); n != 2 {
		t.Errorf("expected 2 destroyed, got %d", n)
	}
	if !reflect.DeepEqual(log.calls, []string{"keeper.destroy"}) {
		t.Errorf("expected Destroy only for the flushed component, got %v", log.calls)
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}
