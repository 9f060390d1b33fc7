package zookeeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/zoobzio/reflux"
)

func setupZookeeper(t *testing.T) *zk.Conn {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "zookeeper:3.9",
			ExposedPorts: []string{"2181/tcp"},
			WaitingFor:   wait.ForListeningPort("2181/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start zookeeper container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get host: %v", err)
	}

	port, err := container.MappedPort(ctx, "2181/tcp")
	if err != nil {
		t.Fatalf("failed to get port: %v", err)
	}

	conn, _, err := zk.Connect([]string{host + ":" + port.Port()}, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

func createParent(t *testing.T, conn *zk.Conn) {
	t.Helper()
	_, err := conn.Create("/reflux", nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		t.Fatalf("failed to create parent: %v", err)
	}
}

func TestDocument_WriteCreatesThenSets(t *testing.T) {
	conn := setupZookeeper(t)
	createParent(t, conn)
	ctx := context.Background()

	doc := NewDocument(conn, "/reflux/prefs")
	data, err := doc.Read(ctx)
	if err != nil || data != nil {
		t.Fatalf("expected missing node to read as nil, got %q (%v)", data, err)
	}

	for _, v := range []string{`{"reflux.v":"1"}`, `{"reflux.v":"2"}`} {
		if err := doc.Write(ctx, []byte(v)); err != nil {
			t.Fatalf("Write(%s) error = %v", v, err)
		}
		data, err := doc.Read(ctx)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if string(data) != v {
			t.Errorf("expected %s, got %q", v, data)
		}
	}
}

func TestWatcher_EmitsInitialValue(t *testing.T) {
	conn := setupZookeeper(t)
	createParent(t, conn)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	path := "/reflux/prefs"
	value := []byte(`{"reflux.v":"1"}`)
	if _, err := conn.Create(path, value, 0, zk.WorldACL(zk.PermAll)); err != nil {
		t.Fatalf("failed to create node: %v", err)
	}

	ch, err := New(conn, path).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	select {
	case data := <-ch:
		if string(data) != string(value) {
			t.Errorf("expected %q, got %q", value, data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for initial value")
	}
}

func TestWatcher_EmitsOnChange(t *testing.T) {
	conn := setupZookeeper(t)
	createParent(t, conn)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	path := "/reflux/prefs"
	updated := []byte(`{"reflux.v":"2"}`)
	if _, err := conn.Create(path, []byte(`{"reflux.v":"1"}`), 0, zk.WorldACL(zk.PermAll)); err != nil {
		t.Fatalf("failed to create node: %v", err)
	}

	ch, err := New(conn, path).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	<-ch

	if _, err := conn.Set(path, updated, -1); err != nil {
		t.Fatalf("failed to update value: %v", err)
	}

	select {
	case data := <-ch:
		if string(data) != string(updated) {
			t.Errorf("expected %q, got %q", updated, data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for update")
	}
}

func TestWatcher_MissingNodeEmitsEmptyThenCreation(t *testing.T) {
	conn := setupZookeeper(t)
	createParent(t, conn)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	path := "/reflux/later"
	value := []byte(`{"reflux.v":"1"}`)

	ch, err := New(conn, path).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	select {
	case data := <-ch:
		if len(data) != 0 {
			t.Errorf("expected empty initial document, got %q", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for initial document")
	}

	if _, err := conn.Create(path, value, 0, zk.WorldACL(zk.PermAll)); err != nil {
		t.Fatalf("failed to create node: %v", err)
	}

	select {
	case data := <-ch:
		if string(data) != string(value) {
			t.Errorf("expected %q, got %q", value, data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for node creation")
	}
}

func TestWatcher_DeletionEmitsNothing(t *testing.T) {
	conn := setupZookeeper(t)
	createParent(t, conn)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	path := "/reflux/prefs"
	recreated := []byte(`{"reflux.v":"2"}`)
	if _, err := conn.Create(path, []byte(`{"reflux.v":"1"}`), 0, zk.WorldACL(zk.PermAll)); err != nil {
		t.Fatalf("failed to create node: %v", err)
	}

	ch, err := New(conn, path).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	<-ch

	if err := conn.Delete(path, -1); err != nil {
		t.Fatalf("failed to delete node: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := conn.Create(path, recreated, 0, zk.WorldACL(zk.PermAll)); err != nil {
		t.Fatalf("failed to recreate node: %v", err)
	}

	select {
	case data := <-ch:
		if string(data) != string(recreated) {
			t.Errorf("expected %q, got %q", recreated, data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for recreated value")
	}
}

func TestWatcher_ClosesOnContextCancel(t *testing.T) {
	conn := setupZookeeper(t)
	createParent(t, conn)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	ch, err := New(conn, "/reflux/never").Watch(ctx)
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
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestStore_SyncsWithRuntime(t *testing.T) {
	conn := setupZookeeper(t)
	createParent(t, conn)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	path := "/reflux/prefs"
	store, err := NewStore(ctx, conn, path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	rt, err := reflux.New(reflux.WithStore(store), reflux.WithSyncMode())
	if err != nil {
		t.Fatalf("reflux.New() error = %v", err)
	}
	defer rt.Close(ctx)

	level, err := reflux.DeclarePersistent(rt, "player.level", 1)
	if err != nil {
		t.Fatalf("DeclarePersistent() error = %v", err)
	}
	level.Set(2)

	mainCtx := rt.MainContext(ctx)
	if err := rt.SyncStore(mainCtx, New(conn, path)); err != nil {
		t.Fatalf("SyncStore() error = %v", err)
	}
	if level.Get() != 2 {
		t.Errorf("expected the flushed value to survive the initial reload, got %d", level.Get())
	}

	if _, err := conn.Set(path, []byte(`{"reflux.player.level":"7"}`), -1); err != nil {
		t.Fatalf("failed to write remote document: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for level.Get() != 7 && time.Now().Before(deadline) {
		rt.Persistence().Process(mainCtx)
		time.Sleep(20 * time.Millisecond)
	}
	if level.Get() != 7 {
		t.Errorf("expected 7 after the remote edit, got %d", level.Get())
	}
}
