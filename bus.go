package reflux

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Bus is a typed publish/subscribe dispatcher. Handlers for an event type
// run in descending priority, and in subscription order within one
// priority. Dispatch is synchronous on the publishing goroutine unless a
// Dispatcher is attached and the publish does not come from its main loop.
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]*busHandler
	seq      uint64

	clock      clockz.Clock
	source     string
	dispatcher *Dispatcher
	metrics    MetricsProvider
}

type busHandler struct {
	seq      uint64
	priority int
	owner    string
	fn       func(ctx context.Context, e any) error
	active   atomic.Bool
}

// NewBus creates an empty Bus using the real clock.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[reflect.Type][]*busHandler),
		clock:    clockz.RealClock,
	}
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// Clock sets the clock used to timestamp published events.
// Use this with clockz.FakeClock for deterministic tests.
func (b *Bus) Clock(clock clockz.Clock) *Bus {
	b.clock = clock
	return b
}

// Source sets the tag stamped on events published without one.
func (b *Bus) Source(source string) *Bus {
	b.source = source
	return b
}

// Dispatcher attaches a main loop dispatcher. Publishes from a context not
// marked by d.MainContext are queued until the next d.Pump.
func (b *Bus) Dispatcher(d *Dispatcher) *Bus {
	b.dispatcher = d
	return b
}

// Metrics sets a metrics provider for dispatch observability.
func (b *Bus) Metrics(provider MetricsProvider) *Bus {
	b.metrics = provider
	return b
}

// HandlerOption configures a handler at subscription time.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	priority  int
	owner     string
	eventType reflect.Type
}

// Priority sets the handler priority. Higher priorities run first. Default 0.
func Priority(n int) HandlerOption {
	return func(c *handlerConfig) {
		c.priority = n
	}
}

// Owner tags the handler with the identity of its owner for diagnostics.
func Owner(name string) HandlerOption {
	return func(c *handlerConfig) {
		c.owner = name
	}
}

// EventType overrides the event type inferred from a handler's parameter.
// Only reflective wiring consults it.
func EventType(t reflect.Type) HandlerOption {
	return func(c *handlerConfig) {
		c.eventType = t
	}
}

// Subscribe registers fn for events of exactly type E.
func Subscribe[E Event](b *Bus, fn func(ctx context.Context, e E) error, opts ...HandlerOption) *Subscription {
	return b.SubscribeType(reflect.TypeFor[E](), func(ctx context.Context, e any) error {
		return fn(ctx, e.(E))
	}, opts...)
}

// SubscribeType registers an untyped handler for events of type t.
func (b *Bus) SubscribeType(t reflect.Type, fn func(ctx context.Context, e any) error, opts ...HandlerOption) *Subscription {
	var cfg handlerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	b.mu.Lock()
	b.seq++
	h := &busHandler{seq: b.seq, priority: cfg.priority, owner: cfg.owner, fn: fn}
	h.active.Store(true)

	// Copy on write so in-flight dispatches keep their snapshot.
	current := b.handlers[t]
	idx := len(current)
	for i, other := range current {
		if other.priority < h.priority {
			idx = i
			break
		}
	}
	next := make([]*busHandler, 0, len(current)+1)
	next = append(next, current[:idx]...)
	next = append(next, h)
	next = append(next, current[idx:]...)
	b.handlers[t] = next
	b.mu.Unlock()

	return newSubscription(func() { b.remove(t, h) })
}

func (b *Bus) remove(t reflect.Type, h *busHandler) {
	h.active.Store(false)

	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.handlers[t]
	next := make([]*busHandler, 0, len(current))
	for _, other := range current {
		if other != h {
			next = append(next, other)
		}
	}
	if len(next) == 0 {
		delete(b.handlers, t)
		return
	}
	b.handlers[t] = next
}

// Handlers returns the number of handlers subscribed to events of type t.
func (b *Bus) Handlers(t reflect.Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}

// Publish dispatches e to the handlers of its exact runtime type.
// Handler failures are reported and never stop the remaining handlers.
func Publish[E Event](ctx context.Context, b *Bus, e E) {
	if s, ok := any(&e).(stamper); ok {
		s.stamp(b.clock.Now(), b.source)
	}
	b.publish(ctx, e)
}

func (b *Bus) publish(ctx context.Context, e Event) {
	t := reflect.TypeOf(e)
	if t == nil {
		return
	}
	if b.dispatcher != nil && !b.dispatcher.OnMain(ctx) {
		capitan.Emit(ctx, EventQueued, KeyEventType.Field(t.String()))
		b.dispatcher.Post(func(ctx context.Context) {
			b.dispatch(ctx, t, e)
		})
		return
	}
	b.dispatch(ctx, t, e)
}

// dispatch invokes the handler snapshot taken at entry. Handlers disposed
// during the dispatch are skipped; handlers added during it are not called.
func (b *Bus) dispatch(ctx context.Context, t reflect.Type, e Event) {
	b.mu.RLock()
	snapshot := b.handlers[t]
	b.mu.RUnlock()

	invoked := 0
	for _, h := range snapshot {
		if !h.active.Load() {
			continue
		}
		invoked++
		b.invoke(ctx, t, h, e)
	}

	if b.metrics != nil {
		b.metrics.OnEventPublished(t.String(), invoked)
	}
}

func (b *Bus) invoke(ctx context.Context, t reflect.Type, h *busHandler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.fail(ctx, t, h, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := h.fn(ctx, e); err != nil {
		b.fail(ctx, t, h, err)
	}
}

func (b *Bus) fail(ctx context.Context, t reflect.Type, h *busHandler, err error) {
	capitan.Emit(ctx, EventHandlerFailed,
		KeyEventType.Field(t.String()),
		KeyOwner.Field(h.owner),
		KeyPriority.Field(h.priority),
		KeyError.Field(err.Error()),
	)
	if b.metrics != nil {
		b.metrics.OnHandlerFailure("event")
	}
}
