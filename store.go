package reflux

import (
	"errors"
	"sort"
	"sync"
)

// ErrRecordNotFound is returned by Store.GetString for a missing key.
var ErrRecordNotFound = errors.New("reflux: record not found")

// Store is the durable key/value record store behind persistent properties.
// Values are already serialized; the store only keeps strings.
type Store interface {
	// HasKey reports whether a record exists for key.
	HasKey(key string) bool

	// GetString returns the record for key, or ErrRecordNotFound.
	GetString(key string) (string, error)

	// SetString writes the record for key. Implementations may buffer
	// writes until Save.
	SetString(key, value string) error

	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(key string) error

	// Save flushes buffered writes to durable storage.
	Save() error
}

// MemoryStore is an in-process Store. It never loses data within the
// process and never persists beyond it, which makes it the store of choice
// for tests simulating a restart by sharing one instance between runtimes.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]string
	pending map[string]struct{}
	saves   int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]string),
		pending: make(map[string]struct{}),
	}
}

// HasKey implements Store.
func (s *MemoryStore) HasKey(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[key]
	return ok
}

// GetString implements Store.
func (s *MemoryStore) GetString(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[key]
	if !ok {
		return "", ErrRecordNotFound
	}
	return v, nil
}

// SetString implements Store.
func (s *MemoryStore) SetString(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = value
	s.pending[key] = struct{}{}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	s.pending[key] = struct{}{}
	return nil
}

// Save implements Store. It counts calls and marks every record saved.
func (s *MemoryStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	clear(s.pending)
	return nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Reload replaces every record with the document in data, a JSON or YAML
// mapping of record keys to serialized values. Records changed since the
// last Save survive.
func (s *MemoryStore) Reload(data []byte) error {
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

// Keys returns the stored keys in sorted order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reloader is implemented by stores whose full contents can be replaced
// from an external document. Implementations keep records changed since
// their last Save. Persistence.Sync requires it.
type Reloader interface {
	Reload(data []byte) error
}

// Ensure MemoryStore implements Store and Reloader.
var (
	_ Store    = (*MemoryStore)(nil)
	_ Reloader = (*MemoryStore)(nil)
)
