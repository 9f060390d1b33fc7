// Package firestore keeps a reflux store document in a field of a Firestore
// document and watches it with realtime listeners.
package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/zoobzio/reflux"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultField is the document field holding the encoded records.
const DefaultField = "data"

type options struct {
	field string
}

// Option configures a Document or Watcher.
type Option func(*options)

// WithField sets the document field holding the encoded records.
func WithField(field string) Option {
	return func(o *options) {
		o.field = field
	}
}

func apply(opts []Option) options {
	o := options{field: DefaultField}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// fieldBytes extracts the encoded records from a snapshot. Strings are
// accepted so documents edited in the console keep working.
func fieldBytes(snap *firestore.DocumentSnapshot, field string) ([]byte, bool) {
	switch v := snap.Data()[field].(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	}
	return nil, false
}

// Document is a reflux.Document held in one field of a Firestore document.
type Document struct {
	ref   *firestore.DocumentRef
	field string
}

// NewDocument creates a Document for collection/document.
func NewDocument(client *firestore.Client, collection, document string, opts ...Option) *Document {
	o := apply(opts)
	return &Document{
		ref:   client.Collection(collection).Doc(document),
		field: o.field,
	}
}

// Read implements reflux.Document.
func (d *Document) Read(ctx context.Context) ([]byte, error) {
	snap, err := d.ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, _ := fieldBytes(snap, d.field)
	return data, nil
}

// Write implements reflux.Document. Other fields of the document are left
// untouched.
func (d *Document) Write(ctx context.Context, data []byte) error {
	_, err := d.ref.Set(ctx, map[string]interface{}{d.field: data}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

// NewStore opens a reflux store kept in collection/document.
func NewStore(ctx context.Context, client *firestore.Client, collection, document string, opts ...Option) (*reflux.DocumentStore, error) {
	return reflux.NewDocumentStore(ctx, NewDocument(client, collection, document, opts...), reflux.JSONCodec{})
}

// Watcher watches a Firestore document for changes using realtime listeners.
type Watcher struct {
	client     *firestore.Client
	collection string
	document   string
	field      string
}

// New creates a new Watcher for the given Firestore document.
func New(client *firestore.Client, collection, document string, opts ...Option) *Watcher {
	o := apply(opts)
	return &Watcher{
		client:     client,
		collection: collection,
		document:   document,
		field:      o.field,
	}
}

// Watch implements reflux.Watcher. The current document is emitted first,
// as an empty document when it does not exist yet.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	docRef := w.client.Collection(w.collection).Doc(w.document)

	out := make(chan []byte)

	go func() {
		defer close(out)

		snapshots := docRef.Snapshots(ctx)
		defer snapshots.Stop()

		emitted := false
		for {
			snap, err := snapshots.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				continue
			}

			var value []byte
			ok := false
			if snap.Exists() {
				value, ok = fieldBytes(snap, w.field)
			}
			if !ok {
				if emitted {
					continue
				}
				value = []byte{}
			}

			select {
			case out <- value:
				emitted = true
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
