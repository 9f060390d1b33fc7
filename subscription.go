package reflux

import "sync"

// Subscription is the handle returned by every subscribe operation.
// Disposing it removes the callback; disposing again does nothing.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// newSubscription wraps a cancel function.
func newSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Dispose removes the subscription. It is safe on a nil receiver and safe
// to call more than once.
func (s *Subscription) Dispose() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Group collects subscriptions owned by one object so they can be disposed
// together on teardown.
type Group struct {
	mu       sync.Mutex
	subs     []*Subscription
	disposed bool
}

// Add tracks a subscription. Adding to a disposed group disposes s at once.
func (g *Group) Add(subs ...*Subscription) {
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		for _, s := range subs {
			s.Dispose()
		}
		return
	}
	for _, s := range subs {
		if s != nil {
			g.subs = append(g.subs, s)
		}
	}
	g.mu.Unlock()
}

// Len returns the number of tracked subscriptions.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Dispose disposes every tracked subscription in reverse order of addition.
func (g *Group) Dispose() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.disposed = true
	g.mu.Unlock()

	for i := len(subs) - 1; i >= 0; i-- {
		subs[i].Dispose()
	}
}
