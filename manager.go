package reflux

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/zoobzio/capitan"
)

// Manager is the authoritative key to property mapping. It holds at most
// one property per key. Reads are lock free; writes are serialized.
type Manager struct {
	// mu guards write-side consistency, the counter and pending hooks.
	mu sync.Mutex
	// m maps property keys to *managedEntry.
	m sync.Map
	// count tracks the number of registered entries.
	count int
	// pending holds deferred subscriptions for keys not registered yet.
	pending map[string][]*pendingHook
	hookSeq uint64
}

type managedEntry struct {
	prop       AnyProperty
	persistent bool
}

type pendingHook struct {
	id uint64
	fn func(AnyProperty)
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{pending: make(map[string][]*pendingHook)}
}

// Register binds p to key. Registering the same instance again is a no-op.
// If another instance already holds the key, the existing one is kept and
// returned together with ErrPropertyConflict, so its subscribers keep
// receiving notifications.
//
// The persistent flag is recorded on the entry for ClearNonPersistent.
func (m *Manager) Register(key string, p AnyProperty, persistent bool) (AnyProperty, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if p == nil {
		return nil, fmt.Errorf("%w: nil property for %q", ErrPropertyNotFound, key)
	}

	m.mu.Lock()
	if v, ok := m.m.Load(key); ok {
		m.mu.Unlock()
		existing := v.(*managedEntry).prop
		if existing == p {
			return existing, nil
		}
		capitan.Emit(context.Background(), PropertyConflict,
			KeyProperty.Field(key),
			KeyError.Field(fmt.Sprintf("existing %s kept, rejected %s", existing.ValueType(), p.ValueType())),
		)
		return existing, fmt.Errorf("%w: %q", ErrPropertyConflict, key)
	}

	p.setKey(key)
	m.m.Store(key, &managedEntry{prop: p, persistent: persistent})
	m.count++
	hooks := m.pending[key]
	delete(m.pending, key)
	m.mu.Unlock()

	capitan.Emit(context.Background(), PropertyRegistered, KeyProperty.Field(key))

	for _, h := range hooks {
		h.fn(p)
	}
	return p, nil
}

// Lookup returns the property registered under key.
func (m *Manager) Lookup(key string) (AnyProperty, bool) {
	v, ok := m.m.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*managedEntry).prop, true
}

// IsPersistent reports whether key was registered as persistent.
func (m *Manager) IsPersistent(key string) bool {
	v, ok := m.m.Load(key)
	return ok && v.(*managedEntry).persistent
}

// MarkPersistent flags an already registered key as persistent.
func (m *Manager) MarkPersistent(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m.Load(key)
	if !ok {
		return false
	}
	e := v.(*managedEntry)
	if !e.persistent {
		m.m.Store(key, &managedEntry{prop: e.prop, persistent: true})
	}
	return true
}

// GetProperty returns the property under key when it holds values of type T.
func GetProperty[T any](m *Manager, key string) (*Property[T], bool) {
	p, ok := m.Lookup(key)
	if !ok {
		return nil, false
	}
	typed, ok := p.(*Property[T])
	if !ok {
		capitan.Emit(context.Background(), PropertyTypeMismatch,
			KeyProperty.Field(key),
			KeyError.Field(fmt.Sprintf("registered %s, requested %s", p.ValueType(), reflect.TypeFor[T]())),
		)
		return nil, false
	}
	return typed, true
}

// GetOrCreate returns the property under key, creating and registering one
// seeded with def if none exists. It fails with ErrTypeMismatch when the key
// holds a different value type.
func GetOrCreate[T any](m *Manager, key string, def T) (*Property[T], error) {
	if p, ok := m.Lookup(key); ok {
		typed, ok := p.(*Property[T])
		if !ok {
			return nil, fmt.Errorf("%w: %q holds %s, requested %s", ErrTypeMismatch, key, p.ValueType(), reflect.TypeFor[T]())
		}
		return typed, nil
	}

	created := NewProperty(def)
	got, err := m.Register(key, created, false)
	if err != nil {
		// Lost a race with another registration; use the winner if it fits.
		if typed, ok := got.(*Property[T]); ok {
			return typed, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrTypeMismatch, key)
	}
	return created, nil
}

// Unregister removes key and closes its property, dropping every subscriber.
func (m *Manager) Unregister(key string) bool {
	m.mu.Lock()
	v, ok := m.m.LoadAndDelete(key)
	if ok {
		m.count--
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	v.(*managedEntry).prop.close()
	capitan.Emit(context.Background(), PropertyUnregistered, KeyProperty.Field(key))
	return true
}

// Clear removes every property, persistent or not. Pending deferred
// subscriptions stay queued.
func (m *Manager) Clear() {
	for _, key := range m.Keys() {
		m.Unregister(key)
	}
}

// ClearNonPersistent removes every property not registered as persistent
// and returns the removed keys in sorted order.
func (m *Manager) ClearNonPersistent() []string {
	var removed []string
	for _, key := range m.Keys() {
		if m.IsPersistent(key) {
			continue
		}
		if m.Unregister(key) {
			removed = append(removed, key)
		}
	}
	return removed
}

// Keys returns the registered keys in sorted order.
func (m *Manager) Keys() []string {
	var keys []string
	m.m.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered properties.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// WhenRegistered calls fn with the property under key: immediately if it
// exists, otherwise the moment it is registered. Disposing the returned
// subscription cancels a call that has not happened yet.
func (m *Manager) WhenRegistered(key string, fn func(AnyProperty)) *Subscription {
	m.mu.Lock()
	if v, ok := m.m.Load(key); ok {
		m.mu.Unlock()
		fn(v.(*managedEntry).prop)
		return newSubscription(nil)
	}
	m.hookSeq++
	h := &pendingHook{id: m.hookSeq, fn: fn}
	m.pending[key] = append(m.pending[key], h)
	m.mu.Unlock()

	return newSubscription(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		hooks := m.pending[key]
		for i, other := range hooks {
			if other.id == h.id {
				m.pending[key] = append(hooks[:i:i], hooks[i+1:]...)
				break
			}
		}
		if len(m.pending[key]) == 0 {
			delete(m.pending, key)
		}
	})
}

// Pending returns the number of deferred subscriptions waiting on key.
func (m *Manager) Pending(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[key])
}

// Observe runs attach against the property under key once it exists and
// returns a subscription covering both the wait and whatever attach
// subscribed. The error is attach's, and is only known when the key was
// already registered; later failures are attach's to report.
func (m *Manager) Observe(key string, attach func(AnyProperty) (*Subscription, error)) (*Subscription, error) {
	var (
		mu       sync.Mutex
		inner    *Subscription
		disposed bool
		err      error
	)
	pending := m.WhenRegistered(key, func(p AnyProperty) {
		s, attachErr := attach(p)
		mu.Lock()
		defer mu.Unlock()
		if attachErr != nil {
			err = attachErr
			return
		}
		if disposed {
			s.Dispose()
			return
		}
		inner = s
	})

	sub := newSubscription(func() {
		pending.Dispose()
		mu.Lock()
		disposed = true
		s := inner
		inner = nil
		mu.Unlock()
		s.Dispose()
	})

	mu.Lock()
	defer mu.Unlock()
	return sub, err
}
