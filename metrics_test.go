package reflux

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestNoOpMetricsProvider_DoesNotPanic(_ *testing.T) {
	var m NoOpMetricsProvider

	m.OnEventPublished("reflux.testEvent", 2)
	m.OnHandlerFailure("event")
	m.OnPersistenceSave("score", errors.New("disk full"))
	m.OnStateChange(StateLoading, StateHealthy)
	m.OnChangeReceived()
}

// recordingMetrics counts the callbacks it receives.
type recordingMetrics struct {
	NoOpMetricsProvider

	mu        sync.Mutex
	published map[string]int
	failures  map[string]int
	saves     int
	saveErrs  int
	states    []State
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		published: make(map[string]int),
		failures:  make(map[string]int),
	}
}

func (m *recordingMetrics) OnEventPublished(eventType string, handlers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[eventType] += handlers
}

func (m *recordingMetrics) OnHandlerFailure(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[kind]++
}

func (m *recordingMetrics) OnPersistenceSave(_ string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if err != nil {
		m.saveErrs++
	}
}

func (m *recordingMetrics) OnStateChange(_, to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, to)
}

func TestMetrics_BusAndDispatcher(t *testing.T) {
	m := newRecordingMetrics()
	d := NewDispatcher().Metrics(m)
	b := NewBus().Metrics(m)

	Subscribe(b, func(context.Context, testEvent) error { return nil })
	Subscribe(b, func(context.Context, testEvent) error { return errors.New("handler failed") })

	Publish(context.Background(), b, testEvent{})
	d.Post(func(context.Context) { panic("boom") })
	d.Pump(context.Background())

	if m.published["reflux.testEvent"] != 2 {
		t.Errorf("expected 2 handlers reported, got %d", m.published["reflux.testEvent"])
	}
	if m.failures["event"] != 1 {
		t.Errorf("expected 1 event failure, got %d", m.failures["event"])
	}
	if m.failures["dispatch"] != 1 {
		t.Errorf("expected 1 dispatch failure, got %d", m.failures["dispatch"])
	}
}

func TestMetrics_PersistenceSaves(t *testing.T) {
	m := newRecordingMetrics()
	store := NewMemoryStore()
	p := NewPersistence(store).Metrics(m)

	prop := NewProperty(1)
	if err := p.RegisterPersistentProperty("score", prop); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	prop.Set(2)
	prop.Set(3)

	if m.saves != 2 {
		t.Errorf("expected 2 saves, got %d", m.saves)
	}
	if m.saveErrs != 0 {
		t.Errorf("expected no save errors, got %d", m.saveErrs)
	}
}
