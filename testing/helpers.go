// Package testing provides test utilities and helpers for reflux runtimes.
package testing

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/reflux"
)

// TestPlayer is a standard component for testing reflux runtimes. Its
// health is persistent and clamped, and its name is length-checked.
type TestPlayer struct {
	Health float64 `reflux:"player.health,persistent" range:"0,100"`
	Name   string  `reflux:"player.name" length:"1,12"`
	Level  int     `reflux:"player.level"`
}

// Identity implements reflux.Identifier.
func (p *TestPlayer) Identity() string { return "test-player" }

// NewRuntime builds a Runtime on a fake clock and a fresh MemoryStore and
// closes it when the test ends.
func NewRuntime(t *testing.T, opts ...reflux.Option) (*reflux.Runtime, *clockz.FakeClock) {
	t.Helper()
	clock := clockz.NewFakeClock()
	opts = append([]reflux.Option{reflux.WithClock(clock)}, opts...)
	rt, err := reflux.New(opts...)
	if err != nil {
		t.Fatalf("reflux.New() error = %v", err)
	}
	t.Cleanup(func() {
		rt.Close(context.Background()) //nolint:errcheck // Closing twice is fine in tests
	})
	return rt, clock
}

// NewSyncedRuntime builds a Runtime whose store is synchronized, in sync
// mode, from the returned channel. Send store documents to the channel and
// call Persistence().Process to apply each one.
func NewSyncedRuntime(t *testing.T, store reflux.Store, opts ...reflux.Option) (*reflux.Runtime, chan<- []byte) {
	t.Helper()
	opts = append([]reflux.Option{reflux.WithStore(store), reflux.WithSyncMode()}, opts...)
	rt, _ := NewRuntime(t, opts...)

	ch := make(chan []byte, 10)
	ch <- []byte{}
	ctx := rt.MainContext(context.Background())
	if err := rt.SyncStore(ctx, reflux.NewSyncChannelWatcher(ch)); err != nil {
		t.Fatalf("SyncStore() error = %v", err)
	}
	return rt, ch
}

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForState waits until persistence reaches the expected sync state or
// timeout occurs.
func WaitForState(t *testing.T, p *reflux.Persistence, expected reflux.State, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return p.State() == expected
	})
}

// RequireState fails the test immediately if persistence is not in the
// expected sync state.
func RequireState(t *testing.T, p *reflux.Persistence, expected reflux.State) {
	t.Helper()
	if got := p.State(); got != expected {
		t.Fatalf("expected state %s, got %s", expected, got)
	}
}

// RequireValue fails the test if the property under key is missing or does
// not hold want.
func RequireValue[T any](t *testing.T, rt *reflux.Runtime, key string, want T) {
	t.Helper()
	got, ok := reflux.Get[T](rt, key)
	if !ok {
		t.Fatalf("expected property %q of type %s, got none", key, reflect.TypeFor[T]())
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q to be %v, got %v", key, want, got)
	}
}

// RecordingWidget is an editable reflux.Widget that records every render.
// Edit simulates user input.
type RecordingWidget struct {
	mu       sync.Mutex
	rendered []any
	onEdit   func(any)
}

// Render implements reflux.Widget.
func (w *RecordingWidget) Render(v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rendered = append(w.rendered, v)
}

// OnEdit implements reflux.EditableWidget.
func (w *RecordingWidget) OnEdit(fn func(any)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onEdit = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.onEdit = nil
	}
}

// Edit reports v as a user edit. It is a no-op when nothing listens.
func (w *RecordingWidget) Edit(v any) {
	w.mu.Lock()
	fn := w.onEdit
	w.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}

// Rendered returns a copy of every rendered value, oldest first.
func (w *RecordingWidget) Rendered() []any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]any(nil), w.rendered...)
}

// Last returns the most recently rendered value.
func (w *RecordingWidget) Last() (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.rendered) == 0 {
		return nil, false
	}
	return w.rendered[len(w.rendered)-1], true
}

var _ reflux.EditableWidget = (*RecordingWidget)(nil)
