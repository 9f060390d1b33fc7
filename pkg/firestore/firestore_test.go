package firestore

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/gcloud"
	"github.com/zoobzio/reflux"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func setupFirestore(t *testing.T) *firestore.Client {
	t.Helper()
	ctx := context.Background()

	container, err := gcloud.RunFirestore(ctx, "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators",
		gcloud.WithProjectID("test-project"),
	)
	if err != nil {
		t.Fatalf("failed to start firestore container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	conn, err := grpc.NewClient(container.URI,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to create grpc connection: %v", err)
	}

	client, err := firestore.NewClient(ctx, "test-project",
		option.WithGRPCConn(conn),
	)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func TestDocument_ReadWrite(t *testing.T) {
	client := setupFirestore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	doc := NewDocument(client, "reflux", "prefs")
	data, err := doc.Read(ctx)
	if err != nil || data != nil {
		t.Fatalf("expected missing document to read as nil, got %q (%v)", data, err)
	}

	if err := doc.Write(ctx, []byte(`{"reflux.v":"1"}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data, err = doc.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != `{"reflux.v":"1"}` {
		t.Errorf("expected written document, got %q", data)
	}
}

func TestDocument_WithFieldKeepsOtherFields(t *testing.T) {
	client := setupFirestore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	ref := client.Collection("reflux").Doc("player-1")
	if _, err := ref.Set(ctx, map[string]interface{}{"name": "ada"}); err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}

	doc := NewDocument(client, "reflux", "player-1", WithField("prefs"))
	if err := doc.Write(ctx, []byte("{}")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		t.Fatalf("failed to read document: %v", err)
	}
	if snap.Data()["name"] != "ada" {
		t.Errorf("expected name kept, got %v", snap.Data()["name"])
	}
	if _, ok := snap.Data()["data"]; ok {
		t.Error("expected the default field to be untouched")
	}
}

func TestWatcher_EmitsInitialValue(t *testing.T) {
	client := setupFirestore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	value := []byte(`{"reflux.v":"1"}`)
	if err := NewDocument(client, "reflux", "prefs").Write(ctx, value); err != nil {
		t.Fatalf("failed to create document: %v", err)
	}

	ch, err := New(client, "reflux", "prefs").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	select {
	case data := <-ch:
		if string(data) != string(value) {
			t.Errorf("expected %q, got %q", value, data)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for initial value")
	}
}

func TestWatcher_EmitsOnChange(t *testing.T) {
	client := setupFirestore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	updated := []byte(`{"reflux.v":"2"}`)

	ch, err := New(client, "reflux", "prefs").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	select {
	case data := <-ch:
		if len(data) != 0 {
			t.Errorf("expected empty initial document, got %q", data)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for initial document")
	}

	if err := NewDocument(client, "reflux", "prefs").Write(ctx, updated); err != nil {
		t.Fatalf("failed to update document: %v", err)
	}

	select {
	case data := <-ch:
		if string(data) != string(updated) {
			t.Errorf("expected %q, got %q", updated, data)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for update")
	}
}

func TestWatcher_ClosesOnContextCancel(t *testing.T) {
	client := setupFirestore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)

	ch, err := New(client, "reflux", "prefs").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	<-ch

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestStore_SaveAndReopen(t *testing.T) {
	client := setupFirestore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	rt, err := reflux.New(reflux.WithStore(mustStore(ctx, t, client)))
	if err != nil {
		t.Fatalf("reflux.New() error = %v", err)
	}
	name, err := reflux.DeclarePersistent(rt, "player.name", "anon")
	if err != nil {
		t.Fatalf("DeclarePersistent() error = %v", err)
	}
	name.Set("ada")
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	rt, err = reflux.New(reflux.WithStore(mustStore(ctx, t, client)))
	if err != nil {
		t.Fatalf("reflux.New() error = %v", err)
	}
	defer rt.Close(ctx)
	name, err = reflux.DeclarePersistent(rt, "player.name", "anon")
	if err != nil {
		t.Fatalf("DeclarePersistent() error = %v", err)
	}
	if name.Get() != "ada" {
		t.Errorf("expected ada after restart, got %q", name.Get())
	}
}

func mustStore(ctx context.Context, t *testing.T, client *firestore.Client) *reflux.DocumentStore {
	t.Helper()
	store, err := NewStore(ctx, client, "reflux", "prefs")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}
