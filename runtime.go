package reflux

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Runtime owns one complete set of reactive parts: the property manager,
// event bus, main loop dispatcher, persistence, field factory, component
// registry and bindings. Construct one per application, or one per test.
type Runtime struct {
	clock       clockz.Clock
	store       Store
	manager     *Manager
	bus         *Bus
	dispatcher  *Dispatcher
	persistence *Persistence
	factory     *Factory
	registry    *Registry
	bindings    *Bindings
	watch       bool

	closed atomic.Bool
}

type settings struct {
	clock        clockz.Clock
	store        Store
	codec        Codec
	prefix       string
	metrics      MetricsProvider
	source       string
	config       *Config
	syncMode     bool
	errorHistory int
	watch        bool
}

// Option configures a Runtime. Explicit options take precedence over the
// values of WithConfig regardless of order.
type Option func(*settings)

// WithClock sets the clock used for event timestamps and sync debouncing.
func WithClock(clock clockz.Clock) Option {
	return func(s *settings) {
		s.clock = clock
	}
}

// WithStore sets the durable store. Default: a MemoryStore, or a FileStore
// when the config names a store path.
func WithStore(store Store) Option {
	return func(s *settings) {
		s.store = store
	}
}

// WithCodec sets the codec used to serialize persisted values.
func WithCodec(codec Codec) Option {
	return func(s *settings) {
		s.codec = codec
	}
}

// WithKeyPrefix sets the namespace of persisted records.
func WithKeyPrefix(prefix string) Option {
	return func(s *settings) {
		s.prefix = prefix
	}
}

// WithMetrics sets a metrics provider for the bus, dispatcher and persistence.
func WithMetrics(provider MetricsProvider) Option {
	return func(s *settings) {
		s.metrics = provider
	}
}

// WithSource sets the tag stamped on events published without one.
func WithSource(source string) Option {
	return func(s *settings) {
		s.source = source
	}
}

// WithConfig applies a loaded Config.
func WithConfig(cfg Config) Option {
	return func(s *settings) {
		s.config = &cfg
	}
}

// WithSyncMode makes store sync deterministic: documents after the first
// are applied only by Persistence().Process.
func WithSyncMode() Option {
	return func(s *settings) {
		s.syncMode = true
	}
}

// New builds a Runtime. It fails only when the configured store file
// exists but cannot be read or decoded, or the config is invalid.
func New(opts ...Option) (*Runtime, error) {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}

	debounce := DefaultDebounce
	if cfg := s.config; cfg != nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if s.prefix == "" {
			s.prefix = cfg.KeyPrefix
		}
		if s.codec == nil && cfg.Codec != "" {
			s.codec = cfg.RecordCodec()
		}
		if s.source == "" {
			s.source = cfg.Source
		}
		if s.store == nil && cfg.StorePath != "" {
			store, err := NewFileStore(cfg.StorePath)
			if err != nil {
				return nil, err
			}
			s.store = store
		}
		debounce, _ = cfg.DebounceDuration() //nolint:errcheck // Checked by Validate
		s.errorHistory = cfg.ErrorHistory
		s.watch = cfg.Watch
	}
	if s.clock == nil {
		s.clock = clockz.RealClock
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}
	if s.codec == nil {
		s.codec = JSONCodec{}
	}
	if s.prefix == "" {
		s.prefix = DefaultKeyPrefix
	}

	rt := &Runtime{
		clock:      s.clock,
		store:      s.store,
		watch:      s.watch,
		manager:    NewManager(),
		dispatcher: NewDispatcher(),
	}
	rt.bus = NewBus().
		Clock(s.clock).
		Source(s.source).
		Dispatcher(rt.dispatcher)
	rt.persistence = NewPersistence(s.store).
		Codec(s.codec).
		KeyPrefix(s.prefix).
		Clock(s.clock).
		Debounce(debounce).
		Dispatcher(rt.dispatcher).
		ErrorHistorySize(s.errorHistory)
	if s.syncMode {
		rt.persistence.SyncMode()
	}
	if s.metrics != nil {
		rt.bus.Metrics(s.metrics)
		rt.dispatcher.Metrics(s.metrics)
		rt.persistence.Metrics(s.metrics)
	}
	rt.bindings = NewBindings(rt.manager)
	rt.factory = NewFactory(rt.manager, rt.persistence)
	rt.registry = NewRegistry(rt.factory, rt.bus, rt.manager, rt.bindings)
	return rt, nil
}

// Manager returns the property manager.
func (rt *Runtime) Manager() *Manager { return rt.manager }

// Bus returns the event bus.
func (rt *Runtime) Bus() *Bus { return rt.bus }

// Dispatcher returns the main loop dispatcher.
func (rt *Runtime) Dispatcher() *Dispatcher { return rt.dispatcher }

// Persistence returns the persistence layer.
func (rt *Runtime) Persistence() *Persistence { return rt.persistence }

// Factory returns the field factory.
func (rt *Runtime) Factory() *Factory { return rt.factory }

// Registry returns the component registry.
func (rt *Runtime) Registry() *Registry { return rt.registry }

// Bindings returns the binding system.
func (rt *Runtime) Bindings() *Bindings { return rt.bindings }

// Clock returns the runtime clock.
func (rt *Runtime) Clock() clockz.Clock { return rt.clock }

// Store returns the durable store.
func (rt *Runtime) Store() Store { return rt.store }

// Load adds components and runs them through Register, Awake and Start as
// one batch.
func (rt *Runtime) Load(ctx context.Context, components ...any) error {
	if rt.closed.Load() {
		return ErrClosed
	}
	addErr := rt.registry.Add(components...)
	return errors.Join(addErr, rt.registry.Flush(ctx))
}

// LoadScene clears the current scene and loads components as the new one.
func (rt *Runtime) LoadScene(ctx context.Context, components ...any) error {
	rt.ClearScene(ctx)
	return rt.Load(ctx, components...)
}

// ClearScene destroys every component and drops every non-persistent
// property. Persistent properties and their records survive. It returns the
// dropped property keys.
func (rt *Runtime) ClearScene(ctx context.Context) []string {
	destroyed := rt.registry.Clear(ctx)
	removed := rt.manager.ClearNonPersistent()
	capitan.Emit(ctx, SceneCleared,
		KeyCount.Field(destroyed),
	)
	return removed
}

// Tick runs the actions queued for the main loop and returns how many ran.
// Call it once per frame from the main goroutine.
func (rt *Runtime) Tick(ctx context.Context) int {
	return rt.dispatcher.Pump(ctx)
}

// Post queues fn for the next Tick. It is safe from any goroutine.
func (rt *Runtime) Post(fn func(ctx context.Context)) {
	rt.dispatcher.Post(fn)
}

// MainContext marks ctx as the main loop, so publishes made with it are
// dispatched immediately instead of waiting for Tick.
func (rt *Runtime) MainContext(ctx context.Context) context.Context {
	return rt.dispatcher.MainContext(ctx)
}

// SyncStore reloads persistent properties whenever the store changes
// outside the process. A nil watcher watches the FileStore's file.
func (rt *Runtime) SyncStore(ctx context.Context, watcher Watcher) error {
	if watcher == nil {
		fs, ok := rt.store.(*FileStore)
		if !ok {
			return fmt.Errorf("store %T has no file to watch", rt.store)
		}
		watcher = NewFileWatcher(fs.Path())
	}
	return rt.persistence.Sync(ctx, watcher)
}

// AutoSync starts SyncStore on the store file when the config enabled
// watch, and does nothing otherwise.
func (rt *Runtime) AutoSync(ctx context.Context) error {
	if !rt.watch {
		return nil
	}
	return rt.SyncStore(ctx, nil)
}

// Close tears every component down, saves persistent values and releases
// every property. A closed Runtime cannot be reused.
func (rt *Runtime) Close(ctx context.Context) error {
	if !rt.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	rt.registry.Clear(ctx)
	rt.bindings.Clear()
	err := rt.persistence.SaveAll()
	rt.persistence.Shutdown()
	rt.manager.Clear()
	return err
}

// Declare returns the property under key, registering a new one seeded
// with initial and guarded by validators when none exists. An existing
// property keeps its own validators.
func Declare[T any](rt *Runtime, key string, initial T, validators ...Validator[T]) (*Property[T], error) {
	return declare(rt, key, false, initial, validators)
}

// DeclarePersistent is Declare for a property mirrored into the store. A
// stored record overrides initial.
func DeclarePersistent[T any](rt *Runtime, key string, initial T, validators ...Validator[T]) (*Property[T], error) {
	return declare(rt, key, true, initial, validators)
}

func declare[T any](rt *Runtime, key string, persistent bool, initial T, validators []Validator[T]) (*Property[T], error) {
	p, err := implicitProperty(rt.manager, declaration{key: key, persistent: persistent}, initial, validators)
	if err != nil {
		return nil, err
	}
	if persistent {
		// Load errors are reported by persistence; the default stays.
		_ = rt.persistence.RegisterPersistentProperty(key, p) //nolint:errcheck
	}
	return p, nil
}

// Get returns the value of the property under key.
func Get[T any](rt *Runtime, key string) (T, bool) {
	p, ok := GetProperty[T](rt.manager, key)
	if !ok {
		var zero T
		return zero, false
	}
	return p.Get(), true
}

// Set writes v to the property under key and notifies its subscribers.
func Set[T any](rt *Runtime, key string, v T) error {
	p, err := lookupTyped[T](rt.manager, key)
	if err != nil {
		return err
	}
	p.Set(v)
	return nil
}

// Update applies fn to the current value of the property under key and
// commits the result atomically with respect to other writers.
func Update[T any](rt *Runtime, key string, fn func(T) T) error {
	p, err := lookupTyped[T](rt.manager, key)
	if err != nil {
		return err
	}
	p.Update(fn)
	return nil
}

// Watch calls fn with every value of the property under key, attaching the
// moment the key is registered if it is not yet. The error reports a type
// mismatch with an already registered property.
func Watch[T any](rt *Runtime, key string, fn func(T), fireOnSubscribe bool) (*Subscription, error) {
	return rt.manager.Observe(key, func(p AnyProperty) (*Subscription, error) {
		typed, ok := p.(*Property[T])
		if !ok {
			err := fmt.Errorf("%w: %q holds %s, watcher wants %s", ErrTypeMismatch, key, p.ValueType(), reflect.TypeFor[T]())
			capitan.Emit(context.Background(), PropertyTypeMismatch,
				KeyProperty.Field(key),
				KeyError.Field(err.Error()),
			)
			return nil, err
		}
		return typed.Subscribe(fn, fireOnSubscribe), nil
	})
}

func lookupTyped[T any](m *Manager, key string) (*Property[T], error) {
	p, ok := m.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPropertyNotFound, key)
	}
	typed, ok := p.(*Property[T])
	if !ok {
		return nil, fmt.Errorf("%w: %q holds %s, requested %s", ErrTypeMismatch, key, p.ValueType(), reflect.TypeFor[T]())
	}
	return typed, nil
}
