package testing

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/reflux"
)

func TestWaitFor(t *testing.T) {
	t.Run("condition met immediately", func(t *testing.T) {
		if !WaitFor(t, 100*time.Millisecond, func() bool { return true }) {
			t.Error("expected WaitFor to return true")
		}
	})

	t.Run("condition never met", func(t *testing.T) {
		if WaitFor(t, 50*time.Millisecond, func() bool { return false }) {
			t.Error("expected WaitFor to return false on timeout")
		}
	})

	t.Run("condition met after delay", func(t *testing.T) {
		done := make(chan struct{})
		go func() {
			time.Sleep(30 * time.Millisecond)
			close(done)
		}()
		met := WaitFor(t, time.Second, func() bool {
			select {
			case <-done:
				return true
			default:
				return false
			}
		})
		if !met {
			t.Error("expected WaitFor to return true")
		}
	})
}

func TestNewRuntime_LoadsTestPlayer(t *testing.T) {
	rt, _ := NewRuntime(t)
	player := &TestPlayer{Health: 150, Name: "ada", Level: 2}

	if err := rt.Load(context.Background(), player); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	RequireValue(t, rt, "player.health", 100.0)
	RequireValue(t, rt, "player.name", "ada")
	if player.Health != 100 {
		t.Errorf("expected field written back as 100, got %v", player.Health)
	}

	if err := reflux.Set(rt, "player.level", 3); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if player.Level != 3 {
		t.Errorf("expected level 3, got %d", player.Level)
	}
}

func TestNewSyncedRuntime(t *testing.T) {
	rt, ch := NewSyncedRuntime(t, reflux.NewMemoryStore())
	ctx := rt.MainContext(context.Background())

	RequireState(t, rt.Persistence(), reflux.StateHealthy)

	volume, err := reflux.DeclarePersistent(rt, "audio.volume", 0.8)
	if err != nil {
		t.Fatalf("DeclarePersistent() error = %v", err)
	}

	ch <- []byte(`{"reflux.audio.volume":"0.25"}`)
	if !rt.Persistence().Process(ctx) {
		t.Fatal("expected a document to be processed")
	}
	if volume.Get() != 0.25 {
		t.Errorf("expected 0.25, got %v", volume.Get())
	}

	ch <- []byte("not a document")
	rt.Persistence().Process(ctx)
	if !WaitForState(t, rt.Persistence(), reflux.StateDegraded, time.Second) {
		t.Errorf("expected degraded, got %s", rt.Persistence().State())
	}
	if volume.Get() != 0.25 {
		t.Errorf("expected the last good value kept, got %v", volume.Get())
	}
}

func TestRecordingWidget_TwoWay(t *testing.T) {
	rt, _ := NewRuntime(t)
	volume, err := reflux.Declare(rt, "audio.volume", 0.5, reflux.Range(0.0, 1.0))
	if err != nil {
		t.Fatalf("Declare() error = %v", err)
	}

	w := &RecordingWidget{}
	_, err = rt.Bindings().Bind(reflux.BindingSpec{
		Key:       "audio.volume",
		Widget:    w,
		Mode:      reflux.TwoWay,
		Converter: reflux.Percent{},
	})
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	if last, ok := w.Last(); !ok || last != 50.0 {
		t.Errorf("expected initial render of 50, got %v (%v)", last, ok)
	}

	w.Edit("20%")
	if volume.Get() != 0.2 {
		t.Errorf("expected edit to write 0.2, got %v", volume.Get())
	}
	if got := len(w.Rendered()); got != 2 {
		t.Errorf("expected 2 renders, got %d", got)
	}
}

func TestRecordingWidget_EditWithoutListener(t *testing.T) {
	w := &RecordingWidget{}
	w.Edit("ignored")
	if _, ok := w.Last(); ok {
		t.Error("expected nothing rendered")
	}

	cancel := w.OnEdit(func(any) { t.Error("expected cancelled listener to stay silent") })
	cancel()
	w.Edit("ignored")
}
