// Package etcd keeps a reflux store document in an etcd key and watches it
// with the native Watch API.
package etcd

import (
	"context"
	"fmt"

	"github.com/zoobzio/reflux"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Document is a reflux.Document held in a single etcd key.
type Document struct {
	client *clientv3.Client
	key    string
}

// NewDocument creates a Document for key.
func NewDocument(client *clientv3.Client, key string) *Document {
	return &Document{client: client, key: key}
}

// Read implements reflux.Document.
func (d *Document) Read(ctx context.Context) ([]byte, error) {
	resp, err := d.client.Get(ctx, d.key)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return resp.Kvs[0].Value, nil
}

// Write implements reflux.Document.
func (d *Document) Write(ctx context.Context, data []byte) error {
	_, err := d.client.Put(ctx, d.key, string(data))
	return err
}

// NewStore opens a reflux store kept under key.
func NewStore(ctx context.Context, client *clientv3.Client, key string) (*reflux.DocumentStore, error) {
	return reflux.NewDocumentStore(ctx, NewDocument(client, key), reflux.JSONCodec{})
}

// Watcher watches an etcd key for changes using the Watch API.
type Watcher struct {
	client *clientv3.Client
	key    string
}

// New creates a new Watcher for the given etcd key.
func New(client *clientv3.Client, key string) *Watcher {
	return &Watcher{
		client: client,
		key:    key,
	}
}

// Watch implements reflux.Watcher. The current document is emitted first,
// as an empty document when the key does not exist yet.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	resp, err := w.client.Get(ctx, w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)

		initial := []byte{}
		if len(resp.Kvs) > 0 {
			initial = resp.Kvs[0].Value
		}
		select {
		case out <- initial:
		case <-ctx.Done():
			return
		}

		// Resume right after the revision the initial read saw.
		watchChan := w.client.Watch(ctx, w.key, clientv3.WithRev(resp.Header.Revision+1))

		for {
			select {
			case <-ctx.Done():
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if watchResp.Err() != nil {
					continue
				}
				for _, event := range watchResp.Events {
					if event.Type != clientv3.EventTypePut {
						continue
					}
					select {
					case out <- event.Kv.Value:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

var (
	_ reflux.Document = (*Document)(nil)
	_ reflux.Watcher  = (*Watcher)(nil)
)
