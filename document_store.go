package reflux

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
)

// Document is a single blob holding every record of a store, such as a
// file, a Redis key or a row. Backends under pkg/ provide implementations
// together with a Watcher for the same blob.
type Document interface {
	// Read returns the current contents. A missing document reads as nil
	// with no error.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the contents.
	Write(ctx context.Context, data []byte) error
}

// DocumentStore is a Store keeping all records in one Document, encoded as
// a mapping of record keys to serialized values. Writes are buffered until
// Save, which rewrites the document.
type DocumentStore struct {
	doc   Document
	codec Codec

	mu      sync.RWMutex
	records map[string]string
	// pending holds keys set or deleted since the last Save.
	pending map[string]struct{}
}

// NewDocumentStore reads doc and returns a store over it. A nil codec
// writes JSON. Reading accepts JSON or YAML regardless of the codec.
func NewDocumentStore(ctx context.Context, doc Document, codec Codec) (*DocumentStore, error) {
	if codec == nil {
		codec = JSONCodec{}
	}
	s := &DocumentStore{
		doc:     doc,
		codec:   codec,
		records: make(map[string]string),
		pending: make(map[string]struct{}),
	}
	data, err := doc.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	if err := s.Reload(data); err != nil {
		return nil, err
	}
	return s, nil
}

// HasKey implements Store.
func (s *DocumentStore) HasKey(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[key]
	return ok
}

// GetString implements Store.
func (s *DocumentStore) GetString(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[key]
	if !ok {
		return "", ErrRecordNotFound
	}
	return v, nil
}

// SetString implements Store.
func (s *DocumentStore) SetString(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.records[key]; ok && old == value {
		return nil
	}
	s.records[key] = value
	s.pending[key] = struct{}{}
	return nil
}

// Delete implements Store.
func (s *DocumentStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		delete(s.records, key)
		s.pending[key] = struct{}{}
	}
	return nil
}

// Save implements Store. See SaveContext.
func (s *DocumentStore) Save() error {
	return s.SaveContext(context.Background())
}

// SaveContext writes the document if anything changed since the last Save
// or Reload.
func (s *DocumentStore) SaveContext(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}

	data, err := s.codec.Marshal(s.records)
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	if err := s.doc.Write(ctx, data); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	clear(s.pending)
	return nil
}

// Reload replaces the records with the document in data. Records set or
// deleted since the last Save are newer than any document and survive,
// including the echo of an earlier Save. A blank document empties the store.
func (s *DocumentStore) Reload(data []byte) error {
	records, err := DecodeRecords(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	keepPending(records, s.records, s.pending)
	s.records = records
	s.mu.Unlock()
	return nil
}

// keepPending carries the pending keys of current over into next.
func keepPending(next, current map[string]string, pending map[string]struct{}) {
	for key := range pending {
		if v, ok := current[key]; ok {
			next[key] = v
		} else {
			delete(next, key)
		}
	}
}

// Keys returns the stored keys in sorted order.
func (s *DocumentStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DecodeRecords parses a JSON or YAML store document. Blank input is an
// empty store.
func DecodeRecords(data []byte) (map[string]string, error) {
	records := make(map[string]string)
	if len(bytes.TrimSpace(data)) == 0 {
		return records, nil
	}
	if err := unmarshal(data, &records, FormatAuto); err != nil {
		return nil, fmt.Errorf("failed to decode store: %w", err)
	}
	return records, nil
}

// Ensure DocumentStore implements Store and Reloader.
var (
	_ Store    = (*DocumentStore)(nil)
	_ Reloader = (*DocumentStore)(nil)
)
