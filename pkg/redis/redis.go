// Package redis keeps a reflux store document in a Redis string key and
// watches it through keyspace notifications.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/reflux"
)

// Document is a reflux.Document held in a single Redis key.
type Document struct {
	client *redis.Client
	key    string
}

// NewDocument creates a Document for key.
func NewDocument(client *redis.Client, key string) *Document {
	return &Document{client: client, key: key}
}

// Read implements reflux.Document.
func (d *Document) Read(ctx context.Context) ([]byte, error) {
	val, err := d.client.Get(ctx, d.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// Write implements reflux.Document.
func (d *Document) Write(ctx context.Context, data []byte) error {
	return d.client.Set(ctx, d.key, data, 0).Err()
}

// NewStore opens a reflux store kept under key.
func NewStore(ctx context.Context, client *redis.Client, key string) (*reflux.DocumentStore, error) {
	return reflux.NewDocumentStore(ctx, NewDocument(client, key), reflux.JSONCodec{})
}

// Watcher watches a Redis key for changes using keyspace notifications.
// Requires Redis to have keyspace notifications enabled:
//
//	CONFIG SET notify-keyspace-events KEA
//
// Or in redis.conf:
//
//	notify-keyspace-events KEA
type Watcher struct {
	client *redis.Client
	key    string
}

// New creates a new Watcher for the given Redis key.
func New(client *redis.Client, key string) *Watcher {
	return &Watcher{
		client: client,
		key:    key,
	}
}

// Watch implements reflux.Watcher. The current document is emitted first,
// as an empty document when the key does not exist yet.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	channel := fmt.Sprintf("__keyspace@%d__:%s", w.client.Options().DB, w.key)
	pubsub := w.client.Subscribe(ctx, channel)

	// Verify subscription worked
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to keyspace notifications: %w", err)
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer pubsub.Close()

		val, err := w.client.Get(ctx, w.key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			val = []byte{}
		case err != nil:
			return
		}
		select {
		case out <- val:
		case <-ctx.Done():
			return
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				switch msg.Payload {
				case "set", "setex", "psetex", "setnx", "setrange", "append":
					val, err := w.client.Get(ctx, w.key).Bytes()
					if err != nil {
						continue
					}
					select {
					case out <- val:
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
