package reflux

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for document")
	}
	return nil
}

func TestFileWatcher_MissingFileEmitsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := NewFileWatcher(path).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if data := receive(t, ch); len(data) != 0 {
		t.Errorf("expected empty document, got %s", data)
	}
}

func TestFileWatcher_EmitsOnAtomicSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte(`{"reflux.a":"1"}`), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := NewFileWatcher(path).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if data := receive(t, ch); string(data) != `{"reflux.a":"1"}` {
		t.Errorf("expected initial contents, got %s", data)
	}

	if err := writeAtomic(path, []byte(`{"reflux.a":"2"}`)); err != nil {
		t.Fatalf("writeAtomic failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-ch:
			if string(data) == `{"reflux.a":"2"}` {
				return
			}
		case <-deadline:
			t.Fatal("expected updated contents after save")
		}
	}
}

func TestFileWatcher_ClosesOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewFileWatcher(path).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	receive(t, ch)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// Drain a racing event; the close must follow.
			<-ch
		}
	case <-time.After(time.Second):
		t.Error("expected channel to close after cancel")
	}
}

func TestFileWatcher_MissingDirectoryFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "prefs.json")
	if _, err := NewFileWatcher(path).Watch(context.Background()); err == nil {
		t.Error("expected watching a missing directory to fail")
	}
}
