// Package zookeeper keeps a reflux store document in a ZooKeeper node and
// watches it with node watches.
package zookeeper

import (
	"context"
	"errors"

	"github.com/go-zookeeper/zk"
	"github.com/zoobzio/reflux"
)

// Document is a reflux.Document held in the data of a single node. The
// node's parent must exist.
type Document struct {
	conn *zk.Conn
	path string
}

// NewDocument creates a Document for path.
func NewDocument(conn *zk.Conn, path string) *Document {
	return &Document{conn: conn, path: path}
}

// Read implements reflux.Document.
func (d *Document) Read(_ context.Context) ([]byte, error) {
	data, _, err := d.conn.Get(d.path)
	if errors.Is(err, zk.ErrNoNode) {
		return nil, nil
	}
	return data, err
}

// Write implements reflux.Document, creating the node on first write.
func (d *Document) Write(_ context.Context, data []byte) error {
	_, err := d.conn.Set(d.path, data, -1)
	if !errors.Is(err, zk.ErrNoNode) {
		return err
	}
	_, err = d.conn.Create(d.path, data, 0, zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNodeExists) {
		// Lost a creation race; overwrite.
		_, err = d.conn.Set(d.path, data, -1)
	}
	return err
}

// NewStore opens a reflux store kept in the node at path.
func NewStore(ctx context.Context, conn *zk.Conn, path string) (*reflux.DocumentStore, error) {
	return reflux.NewDocumentStore(ctx, NewDocument(conn, path), reflux.JSONCodec{})
}

// Watcher watches a ZooKeeper node for changes.
type Watcher struct {
	conn *zk.Conn
	path string
}

// New creates a new Watcher for the given ZooKeeper path.
func New(conn *zk.Conn, path string) *Watcher {
	return &Watcher{
		conn: conn,
		path: path,
	}
}

// Watch implements reflux.Watcher. The current document is emitted first,
// as an empty document when the node does not exist yet. Deleting the node
// emits nothing; the next creation emits its data.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)

	go func() {
		defer close(out)

		emitted := false
		for {
			data, _, eventCh, err := w.conn.GetW(w.path)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				exists, _, existsCh, err := w.conn.ExistsW(w.path)
				if err != nil {
					return
				}
				if exists {
					continue
				}
				if !emitted {
					select {
					case out <- []byte{}:
						emitted = true
					case <-ctx.Done():
						return
					}
				}
				select {
				case <-ctx.Done():
					return
				case <-existsCh:
					continue
				}
			}

			select {
			case out <- data:
				emitted = true
			case <-ctx.Done():
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-eventCh:
				// Re-read and re-arm the watch.
			}
		}
	}()

	return out, nil
}

var (
	_ reflux.Document = (*Document)(nil)
	_ reflux.Watcher  = (*Watcher)(nil)
)
