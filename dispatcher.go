package reflux

import (
	"context"
	"fmt"
	"sync"

	"github.com/zoobzio/capitan"
)

type mainLoopKey struct{}

// Dispatcher marshals work from arbitrary goroutines onto the main loop.
// Actions are queued by Post and run, in order, by Pump.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []func(context.Context)
	metrics MetricsProvider
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Metrics sets a metrics provider notified of failed actions.
func (d *Dispatcher) Metrics(provider MetricsProvider) *Dispatcher {
	d.metrics = provider
	return d
}

// MainContext marks ctx as running on this dispatcher's main loop.
func (d *Dispatcher) MainContext(ctx context.Context) context.Context {
	if d.OnMain(ctx) {
		return ctx
	}
	return context.WithValue(ctx, mainLoopKey{}, d)
}

// OnMain reports whether ctx was marked by MainContext on this dispatcher.
func (d *Dispatcher) OnMain(ctx context.Context) bool {
	owner, _ := ctx.Value(mainLoopKey{}).(*Dispatcher)
	return owner == d
}

// Detach returns ctx without the main loop mark, for goroutines started
// from the main loop that must not act as it.
func (d *Dispatcher) Detach(ctx context.Context) context.Context {
	if !d.OnMain(ctx) {
		return ctx
	}
	return context.WithValue(ctx, mainLoopKey{}, nil)
}

// Post queues fn for the next Pump. It is safe to call from any goroutine.
func (d *Dispatcher) Post(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
}

// Len returns the number of queued actions.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Pump runs every action queued before the call and returns how many ran.
// Actions posted while pumping wait for the next Pump, so a self-posting
// action cannot starve the loop.
func (d *Dispatcher) Pump(ctx context.Context) int {
	d.mu.Lock()
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	ctx = d.MainContext(ctx)
	for _, fn := range pending {
		d.run(ctx, fn)
	}
	return len(pending)
}

func (d *Dispatcher) run(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			capitan.Emit(ctx, DispatchFailed, KeyError.Field(fmt.Sprint(r)))
			if d.metrics != nil {
				d.metrics.OnHandlerFailure("dispatch")
			}
		}
	}()
	fn(ctx)
}
