// Package consul keeps a reflux store document in a Consul KV entry and
// watches it with blocking queries.
package consul

import (
	"context"
	"fmt"

	"github.com/hashicorp/consul/api"
	"github.com/zoobzio/reflux"
)

// Document is a reflux.Document held in a single Consul KV entry.
type Document struct {
	client *api.Client
	key    string
}

// NewDocument creates a Document for key.
func NewDocument(client *api.Client, key string) *Document {
	return &Document{client: client, key: key}
}

// Read implements reflux.Document.
func (d *Document) Read(ctx context.Context) ([]byte, error) {
	pair, _, err := d.client.KV().Get(d.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, nil
	}
	return pair.Value, nil
}

// Write implements reflux.Document.
func (d *Document) Write(ctx context.Context, data []byte) error {
	_, err := d.client.KV().Put(&api.KVPair{Key: d.key, Value: data}, (&api.WriteOptions{}).WithContext(ctx))
	return err
}

// NewStore opens a reflux store kept under key.
func NewStore(ctx context.Context, client *api.Client, key string) (*reflux.DocumentStore, error) {
	return reflux.NewDocumentStore(ctx, NewDocument(client, key), reflux.JSONCodec{})
}

// Watcher watches a Consul KV key for changes using blocking queries.
type Watcher struct {
	client *api.Client
	key    string
}

// New creates a new Watcher for the given Consul KV key.
func New(client *api.Client, key string) *Watcher {
	return &Watcher{
		client: client,
		key:    key,
	}
}

// Watch implements reflux.Watcher. The current document is emitted first,
// as an empty document when the key does not exist yet.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	kv := w.client.KV()

	pair, meta, err := kv.Get(w.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)

		lastIndex := meta.LastIndex

		initial := []byte{}
		if pair != nil {
			initial = pair.Value
		}
		select {
		case out <- initial:
		case <-ctx.Done():
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			opts := (&api.QueryOptions{WaitIndex: lastIndex}).WithContext(ctx)
			pair, meta, err := kv.Get(w.key, opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			if meta.LastIndex <= lastIndex {
				continue
			}
			lastIndex = meta.LastIndex
			if pair == nil {
				// Deleted; the store keeps its records until a new document arrives.
				continue
			}
			select {
			case out <- pair.Value:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

var (
	_ reflux.Document = (*Document)(nil)
	_ reflux.Watcher  = (*Watcher)(nil)
)
