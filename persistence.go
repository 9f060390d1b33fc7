package reflux

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// DefaultKeyPrefix namespaces persisted records in the store.
const DefaultKeyPrefix = "reflux."

// DefaultDebounce is the default debounce duration for store sync.
const DefaultDebounce = 100 * time.Millisecond

// Persistence mirrors persistent properties into a Store. A stored record
// overrides the in-code default when the property is registered, and every
// later change is written back through the property's own notification.
type Persistence struct {
	store        Store
	codec        Codec
	prefix       string
	clock        clockz.Clock
	debounce     time.Duration
	syncMode     bool
	dispatcher   *Dispatcher
	metrics      MetricsProvider
	errorHistory *errorRing

	mu      sync.Mutex
	tracked map[string]*persistentEntry

	state     atomic.Int32
	lastError atomic.Pointer[error]
	started   bool

	// For sync mode: channel to receive store documents
	changes <-chan []byte
}

type persistentEntry struct {
	prop AnyProperty
	sub  *Subscription
}

// NewPersistence creates a Persistence writing to store with JSON records.
func NewPersistence(store Store) *Persistence {
	p := &Persistence{
		store:        store,
		codec:        JSONCodec{},
		prefix:       DefaultKeyPrefix,
		clock:        clockz.RealClock,
		debounce:     DefaultDebounce,
		errorHistory: newErrorRing(0),
		tracked:      make(map[string]*persistentEntry),
	}
	p.state.Store(int32(StateLoading))
	return p
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// Codec sets the codec used to serialize values. Default: JSONCodec.
func (p *Persistence) Codec(codec Codec) *Persistence {
	p.codec = codec
	return p
}

// KeyPrefix sets the namespace prepended to property keys in the store.
func (p *Persistence) KeyPrefix(prefix string) *Persistence {
	p.prefix = prefix
	return p
}

// Clock sets the clock used for sync debouncing.
// Use this with clockz.FakeClock for deterministic debounce testing.
func (p *Persistence) Clock(clock clockz.Clock) *Persistence {
	p.clock = clock
	return p
}

// Debounce sets the debounce duration for store sync.
// Documents arriving within this duration are coalesced. Default: 100ms.
func (p *Persistence) Debounce(d time.Duration) *Persistence {
	p.debounce = d
	return p
}

// SyncMode makes Sync process only the initial document. Later documents
// are processed one at a time by Process, for deterministic tests.
func (p *Persistence) SyncMode() *Persistence {
	p.syncMode = true
	return p
}

// Dispatcher routes values reloaded by the async sync loop onto the main
// loop, so property subscribers never run on the watcher goroutine.
func (p *Persistence) Dispatcher(d *Dispatcher) *Persistence {
	p.dispatcher = d
	return p
}

// Metrics sets a metrics provider for persistence observability.
func (p *Persistence) Metrics(provider MetricsProvider) *Persistence {
	p.metrics = provider
	return p
}

// ErrorHistorySize sets the number of recent errors to retain.
// Use 0 (default) to only retain the most recent error via LastError().
func (p *Persistence) ErrorHistorySize(n int) *Persistence {
	p.errorHistory = newErrorRing(n)
	return p
}

// RecordKey returns the store key for a property key.
func (p *Persistence) RecordKey(key string) string {
	return p.prefix + key
}

// RegisterPersistentProperty starts mirroring prop under key. A stored
// record is applied first, with no save subscription attached yet, so the
// load cannot write itself back. Registering the same property twice is a
// no-op; a different property for a tracked key replaces the old one.
//
// A record that cannot be decoded leaves the in-code default in place. The
// property is still tracked and the load error is returned for reporting.
func (p *Persistence) RegisterPersistentProperty(key string, prop AnyProperty) error {
	if key == "" {
		return ErrEmptyKey
	}

	p.mu.Lock()
	if e, ok := p.tracked[key]; ok {
		if e.prop == prop {
			p.mu.Unlock()
			return nil
		}
		e.sub.Dispose()
		delete(p.tracked, key)
	}
	p.mu.Unlock()

	loadErr := p.load(key, prop)
	sub := p.attach(key, prop)

	p.mu.Lock()
	p.tracked[key] = &persistentEntry{prop: prop, sub: sub}
	p.mu.Unlock()

	return loadErr
}

// attach subscribes the save path for prop.
func (p *Persistence) attach(key string, prop AnyProperty) *Subscription {
	return prop.SubscribeAny(func(_, v any) {
		_ = p.save(key, v) //nolint:errcheck // Errors stored via setError
	}, false)
}

// load applies the stored record for key, if any.
func (p *Persistence) load(key string, prop AnyProperty) error {
	rk := p.RecordKey(key)
	if !p.store.HasKey(rk) {
		return nil
	}

	raw, err := p.store.GetString(rk)
	if err != nil {
		return p.loadFailed(key, err)
	}

	ptr := reflect.New(prop.ValueType())
	if err := p.codec.Unmarshal([]byte(raw), ptr.Interface()); err != nil {
		return p.loadFailed(key, err)
	}
	if err := prop.SetAnyValue(ptr.Elem().Interface(), false); err != nil {
		return p.loadFailed(key, err)
	}

	capitan.Emit(context.Background(), PersistenceLoaded, KeyProperty.Field(key))
	return nil
}

func (p *Persistence) loadFailed(key string, err error) error {
	err = fmt.Errorf("load %q: %w", key, err)
	p.setError(err)
	capitan.Emit(context.Background(), PersistenceLoadFailed,
		KeyProperty.Field(key),
		KeyError.Field(err.Error()),
	)
	return err
}

// save serializes v into the record for key.
func (p *Persistence) save(key string, v any) error {
	data, err := p.codec.Marshal(v)
	if err == nil {
		err = p.store.SetString(p.RecordKey(key), string(data))
	}
	if p.metrics != nil {
		p.metrics.OnPersistenceSave(key, err)
	}
	if err != nil {
		err = fmt.Errorf("save %q: %w", key, err)
		p.setError(err)
		capitan.Emit(context.Background(), PersistenceSaveFailed,
			KeyProperty.Field(key),
			KeyError.Field(err.Error()),
		)
	}
	return err
}

// SaveAll writes every tracked property and flushes the store. It is meant
// for application pause and quit.
func (p *Persistence) SaveAll() error {
	var errs []error
	for _, key := range p.Tracked() {
		p.mu.Lock()
		e, ok := p.tracked[key]
		p.mu.Unlock()
		if !ok {
			continue
		}
		if err := p.save(key, e.prop.Any()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.store.Save(); err != nil {
		err = fmt.Errorf("flush store: %w", err)
		p.setError(err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Forget stops mirroring key. The stored record is kept.
func (p *Persistence) Forget(key string) bool {
	p.mu.Lock()
	e, ok := p.tracked[key]
	delete(p.tracked, key)
	p.mu.Unlock()
	if ok {
		e.sub.Dispose()
	}
	return ok
}

// Shutdown disposes every save subscription and stops tracking.
func (p *Persistence) Shutdown() {
	p.mu.Lock()
	tracked := p.tracked
	p.tracked = make(map[string]*persistentEntry)
	p.mu.Unlock()

	for _, e := range tracked {
		e.sub.Dispose()
	}
}

// Tracked returns the tracked property keys in sorted order.
func (p *Persistence) Tracked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.tracked))
	for k := range p.tracked {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// State returns the current store sync state.
func (p *Persistence) State() State {
	return State(p.state.Load())
}

// LastError returns the last error encountered, or nil if no error occurred.
func (p *Persistence) LastError() error {
	ptr := p.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// ErrorHistory returns the recent error history, oldest first.
// Returns nil if error history is not enabled (see ErrorHistorySize).
func (p *Persistence) ErrorHistory() []error {
	return p.errorHistory.all()
}

func (p *Persistence) setError(err error) {
	e := err
	p.lastError.Store(&e)
	p.errorHistory.push(err)
}

// -----------------------------------------------------------------------------
// Store Sync
// -----------------------------------------------------------------------------

// Sync keeps tracked properties in step with a store edited outside the
// process. Each document from the watcher replaces the store contents and
// is applied to every tracked property with its save subscription detached.
// Records written since the last store Save are kept by the store's Reload,
// so a document older than a local write never reverts it.
//
// Sync blocks until the first document is processed, then continues
// asynchronously (or, in sync mode, waits for Process calls). The store
// must implement Reloader. Sync can only be called once.
func (p *Persistence) Sync(ctx context.Context, watcher Watcher) error {
	reloader, ok := p.store.(Reloader)
	if !ok {
		return fmt.Errorf("store %T does not support reload", p.store)
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("store sync already started")
	}
	p.started = true
	p.mu.Unlock()

	capitan.Emit(ctx, PersistenceSyncStarted, KeyDebounce.Field(p.debounce))

	// Unsaved writes would be lost to the first reload.
	if err := p.store.Save(); err != nil {
		p.setError(fmt.Errorf("flush store: %w", err))
	}

	changes, err := watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	var initialErr error
	select {
	case <-ctx.Done():
		return ctx.Err()
	case raw, ok := <-changes:
		if !ok {
			return fmt.Errorf("watcher closed before emitting initial document")
		}
		p.received()
		initialErr = p.process(ctx, reloader, raw)
	}

	if p.syncMode {
		p.changes = changes
		return initialErr
	}

	if p.dispatcher != nil {
		ctx = p.dispatcher.Detach(ctx)
	}
	go p.watch(ctx, reloader, changes)

	return initialErr
}

// Process reads and applies the next store document.
// This is only available in sync mode and is used for deterministic testing.
// Returns false if no document is available or the channel is closed.
func (p *Persistence) Process(ctx context.Context) bool {
	if !p.syncMode || p.changes == nil {
		return false
	}
	reloader, ok := p.store.(Reloader)
	if !ok {
		return false
	}

	select {
	case raw, ok := <-p.changes:
		if !ok {
			return false
		}
		p.received()
		_ = p.process(ctx, reloader, raw) //nolint:errcheck // Errors stored via setError
		return true
	default:
		return false
	}
}

func (p *Persistence) received() {
	if p.metrics != nil {
		p.metrics.OnChangeReceived()
	}
}

// process reloads the store from raw and reapplies tracked properties.
func (p *Persistence) process(ctx context.Context, reloader Reloader, raw []byte) error {
	oldState := p.State()

	if err := reloader.Reload(raw); err != nil {
		err = fmt.Errorf("reload store: %w", err)
		p.setError(err)
		p.transitionState(ctx, oldState, p.failureState(oldState))
		capitan.Emit(ctx, PersistenceLoadFailed, KeyError.Field(err.Error()))
		return err
	}

	if p.dispatcher != nil && !p.dispatcher.OnMain(ctx) {
		p.dispatcher.Post(func(context.Context) { p.reapply() })
	} else {
		p.reapply()
	}

	p.lastError.Store(nil)
	p.errorHistory.clear()
	p.transitionState(ctx, oldState, StateHealthy)
	return nil
}

// reapply loads every tracked property from the store. The save
// subscription is detached around each load so reloaded values are not
// written back.
func (p *Persistence) reapply() {
	p.mu.Lock()
	entries := make(map[string]*persistentEntry, len(p.tracked))
	for k, e := range p.tracked {
		entries[k] = e
	}
	p.mu.Unlock()

	for key, e := range entries {
		e.sub.Dispose()
		_ = p.load(key, e.prop) //nolint:errcheck // Errors stored via setError
		sub := p.attach(key, e.prop)

		p.mu.Lock()
		if cur, ok := p.tracked[key]; ok && cur == e {
			e.sub = sub
		} else {
			sub.Dispose()
		}
		p.mu.Unlock()
	}
}

// failureState returns Empty until a document has been applied, then Degraded.
func (p *Persistence) failureState(current State) State {
	if current == StateLoading || current == StateEmpty {
		return StateEmpty
	}
	return StateDegraded
}

// transitionState updates the state and emits a state change event if changed.
func (p *Persistence) transitionState(ctx context.Context, oldState, newState State) {
	if oldState == newState {
		return
	}
	p.state.Store(int32(newState))
	capitan.Emit(ctx, PersistenceSyncStateChanged,
		KeyOldState.Field(oldState.String()),
		KeyNewState.Field(newState.String()),
	)
	if p.metrics != nil {
		p.metrics.OnStateChange(oldState, newState)
	}
}

// watch processes documents from the watcher channel with debouncing.
func (p *Persistence) watch(ctx context.Context, reloader Reloader, changes <-chan []byte) {
	defer func() {
		capitan.Emit(ctx, PersistenceSyncStopped,
			KeyState.Field(p.State().String()),
		)
	}()

	var (
		timer      clockz.Timer
		pending    []byte
		hasPending bool
	)

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case raw, ok := <-changes:
			if !ok {
				if hasPending {
					_ = p.process(ctx, reloader, pending) //nolint:errcheck // Errors stored via setError
				}
				return
			}

			p.received()
			pending = raw
			hasPending = true

			if timer == nil {
				timer = p.clock.NewTimer(p.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C():
					default:
					}
				}
				timer.Reset(p.debounce)
			}

		case <-timerC:
			if hasPending {
				_ = p.process(ctx, reloader, pending) //nolint:errcheck // Errors stored via setError
				hasPending = false
			}
		}
	}
}
