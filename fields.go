package reflux

import "github.com/zoobzio/capitan"

// Field keys for reflux events.
var (
	// KeyProperty is the property key involved.
	KeyProperty = capitan.NewStringKey("property")

	// KeyOwner is the identity of the object owning a field or handler.
	KeyOwner = capitan.NewStringKey("owner")

	// KeyComponent is the identity of a registered component.
	KeyComponent = capitan.NewStringKey("component")

	// KeyPhase is the lifecycle phase that failed.
	KeyPhase = capitan.NewStringKey("phase")

	// KeyEventType is the Go type name of a published event.
	KeyEventType = capitan.NewStringKey("event_type")

	// KeyPriority is the priority of an event handler.
	KeyPriority = capitan.NewIntKey("priority")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyState is the current store sync state.
	KeyState = capitan.NewStringKey("state")

	// KeyOldState is the previous state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the new state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyCount is a number of affected items.
	KeyCount = capitan.NewIntKey("count")

	// KeyDebounce is the configured debounce duration.
	KeyDebounce = capitan.NewDurationKey("debounce")
)
