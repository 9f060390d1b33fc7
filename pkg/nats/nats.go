// Package nats keeps a reflux store document in a NATS JetStream KV entry
// and watches it with the native Watch API.
package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/reflux"
)

// Document is a reflux.Document held in a single KV entry.
type Document struct {
	kv  jetstream.KeyValue
	key string
}

// NewDocument creates a Document for key.
func NewDocument(kv jetstream.KeyValue, key string) *Document {
	return &Document{kv: kv, key: key}
}

// Read implements reflux.Document.
func (d *Document) Read(ctx context.Context) ([]byte, error) {
	entry, err := d.kv.Get(ctx, d.key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

// Write implements reflux.Document.
func (d *Document) Write(ctx context.Context, data []byte) error {
	_, err := d.kv.Put(ctx, d.key, data)
	return err
}

// NewStore opens a reflux store kept under key.
func NewStore(ctx context.Context, kv jetstream.KeyValue, key string) (*reflux.DocumentStore, error) {
	return reflux.NewDocumentStore(ctx, NewDocument(kv, key), reflux.JSONCodec{})
}

// Watcher watches a NATS KV key for changes using the Watch API.
type Watcher struct {
	kv  jetstream.KeyValue
	key string
}

// New creates a new Watcher for the given NATS KV key.
func New(kv jetstream.KeyValue, key string) *Watcher {
	return &Watcher{
		kv:  kv,
		key: key,
	}
}

// Watch implements reflux.Watcher. The current document is emitted first,
// as an empty document when the key does not exist yet.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	watcher, err := w.kv.Watch(ctx, w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to watch key: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer watcher.Stop()

		emitted := false
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				var data []byte
				switch {
				case entry == nil:
					// End of initial values.
					if emitted {
						continue
					}
					data = []byte{}
				case entry.Operation() == jetstream.KeyValueDelete, entry.Operation() == jetstream.KeyValuePurge:
					continue
				default:
					data = entry.Value()
				}

				select {
				case out <- data:
					emitted = true
				case <-ctx.Done():
					return
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
