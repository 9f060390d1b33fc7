package reflux

import "github.com/zoobzio/capitan"

// Property lifecycle signals.
var (
	// PropertyRegistered is emitted when a property is added to the Manager.
	PropertyRegistered = capitan.NewSignal(
		"reflux.property.registered",
		"Property registered",
	)

	// PropertyConflict is emitted when a different instance is registered
	// under a key that is already taken. The existing instance is kept.
	PropertyConflict = capitan.NewSignal(
		"reflux.property.conflict",
		"Property key already registered",
	)

	// PropertyUnregistered is emitted when a property is removed from the Manager.
	PropertyUnregistered = capitan.NewSignal(
		"reflux.property.unregistered",
		"Property unregistered",
	)

	// PropertyTypeMismatch is emitted when a key is requested with a value
	// type that differs from the registered property.
	PropertyTypeMismatch = capitan.NewSignal(
		"reflux.property.type.mismatch",
		"Property value type mismatch",
	)

	// PropertySubscriberFailed is emitted when a subscriber panics during notification.
	PropertySubscriberFailed = capitan.NewSignal(
		"reflux.property.subscriber.failed",
		"Property subscriber failed",
	)

	// PropertyRejected is emitted when a validator rejects a write.
	PropertyRejected = capitan.NewSignal(
		"reflux.property.rejected",
		"Property write rejected by validator",
	)

	// PropertyUpdateFailed is emitted when an Update function panics.
	PropertyUpdateFailed = capitan.NewSignal(
		"reflux.property.update.failed",
		"Property update function failed",
	)
)

// Registration signals.
var (
	// FieldRegistrationFailed is emitted when a tagged field cannot be
	// turned into a registered property.
	FieldRegistrationFailed = capitan.NewSignal(
		"reflux.field.registration.failed",
		"Field registration failed",
	)

	// FieldDefaulted is emitted when a nil *Property field is replaced with a
	// zero-valued property during registration.
	FieldDefaulted = capitan.NewSignal(
		"reflux.field.defaulted",
		"Nil property field defaulted",
	)

	// HandlerWiringFailed is emitted when an event or change handler cannot be wired.
	HandlerWiringFailed = capitan.NewSignal(
		"reflux.handler.wiring.failed",
		"Handler wiring failed",
	)

	// ComponentRegistered is emitted when a component completes the register phase.
	ComponentRegistered = capitan.NewSignal(
		"reflux.component.registered",
		"Component registered",
	)

	// ComponentPhaseFailed is emitted when a lifecycle phase of a component fails.
	ComponentPhaseFailed = capitan.NewSignal(
		"reflux.component.phase.failed",
		"Component lifecycle phase failed",
	)

	// ComponentDestroyed is emitted when a component is torn down.
	ComponentDestroyed = capitan.NewSignal(
		"reflux.component.destroyed",
		"Component destroyed",
	)

	// SceneCleared is emitted after a scene sweep drops components and
	// non-persistent properties.
	SceneCleared = capitan.NewSignal(
		"reflux.scene.cleared",
		"Scene cleared",
	)
)

// Event bus signals.
var (
	// EventHandlerFailed is emitted when an event handler returns an error or panics.
	EventHandlerFailed = capitan.NewSignal(
		"reflux.event.handler.failed",
		"Event handler failed",
	)

	// EventQueued is emitted when a publish from outside the main loop is deferred.
	EventQueued = capitan.NewSignal(
		"reflux.event.queued",
		"Event queued for main loop",
	)

	// BindingFailed is emitted when a binding cannot convert or apply a value.
	BindingFailed = capitan.NewSignal(
		"reflux.binding.failed",
		"Binding failed",
	)
)

// Persistence signals.
var (
	// PersistenceLoaded is emitted when a stored record overrides a default.
	PersistenceLoaded = capitan.NewSignal(
		"reflux.persistence.loaded",
		"Persistent value loaded",
	)

	// PersistenceLoadFailed is emitted when a stored record cannot be decoded.
	PersistenceLoadFailed = capitan.NewSignal(
		"reflux.persistence.load.failed",
		"Persistent value load failed",
	)

	// PersistenceSaveFailed is emitted when a value cannot be written to the store.
	PersistenceSaveFailed = capitan.NewSignal(
		"reflux.persistence.save.failed",
		"Persistent value save failed",
	)

	// PersistenceSyncStarted is emitted when store synchronization begins.
	PersistenceSyncStarted = capitan.NewSignal(
		"reflux.persistence.sync.started",
		"Store sync started",
	)

	// PersistenceSyncStopped is emitted when store synchronization ends.
	PersistenceSyncStopped = capitan.NewSignal(
		"reflux.persistence.sync.stopped",
		"Store sync stopped",
	)

	// PersistenceSyncStateChanged is emitted on store sync state transitions.
	PersistenceSyncStateChanged = capitan.NewSignal(
		"reflux.persistence.sync.state.changed",
		"Store sync state transition",
	)
)

// Dispatcher signals.
var (
	// DispatchFailed is emitted when an action posted to the main loop panics.
	DispatchFailed = capitan.NewSignal(
		"reflux.dispatch.failed",
		"Main loop action failed",
	)
)
