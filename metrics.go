package reflux

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key runtime events.
type MetricsProvider interface {
	// OnEventPublished is called after an event has been dispatched.
	// Handlers is the number of handlers that were invoked.
	OnEventPublished(eventType string, handlers int)

	// OnHandlerFailure is called when a handler, subscriber or lifecycle hook fails.
	// Kind is "event" for bus handlers and "dispatch" for main loop actions.
	OnHandlerFailure(kind string)

	// OnPersistenceSave is called after each attempt to write a persistent value.
	OnPersistenceSave(key string, err error)

	// OnStateChange is called when store sync transitions between states.
	OnStateChange(from, to State)

	// OnChangeReceived is called when raw store data is received from a watcher.
	OnChangeReceived()
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnEventPublished(_ string, _ int)    {}
func (NoOpMetricsProvider) OnHandlerFailure(_ string)           {}
func (NoOpMetricsProvider) OnPersistenceSave(_ string, _ error) {}
func (NoOpMetricsProvider) OnStateChange(_, _ State)            {}
func (NoOpMetricsProvider) OnChangeReceived()                   {}
