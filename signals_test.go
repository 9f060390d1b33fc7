package reflux

import (
	"strings"
	"testing"

	"github.com/zoobzio/capitan"
)

func TestSignalNames(t *testing.T) {
	tests := []struct {
		signal capitan.Signal
		want   string
	}{
		{PropertyRegistered, "reflux.property.registered"},
		{PropertyConflict, "reflux.property.conflict"},
		{PropertyUnregistered, "reflux.property.unregistered"},
		{PropertyTypeMismatch, "reflux.property.type.mismatch"},
		{PropertySubscriberFailed, "reflux.property.subscriber.failed"},
		{PropertyRejected, "reflux.property.rejected"},
		{PropertyUpdateFailed, "reflux.property.update.failed"},
		{FieldRegistrationFailed, "reflux.field.registration.failed"},
		{FieldDefaulted, "reflux.field.defaulted"},
		{HandlerWiringFailed, "reflux.handler.wiring.failed"},
		{ComponentRegistered, "reflux.component.registered"},
		{ComponentPhaseFailed, "reflux.component.phase.failed"},
		{ComponentDestroyed, "reflux.component.destroyed"},
		{SceneCleared, "reflux.scene.cleared"},
		{EventHandlerFailed, "reflux.event.handler.failed"},
		{EventQueued, "reflux.event.queued"},
		{BindingFailed, "reflux.binding.failed"},
		{PersistenceLoaded, "reflux.persistence.loaded"},
		{PersistenceLoadFailed, "reflux.persistence.load.failed"},
		{PersistenceSaveFailed, "reflux.persistence.save.failed"},
		{PersistenceSyncStarted, "reflux.persistence.sync.started"},
		{PersistenceSyncStopped, "reflux.persistence.sync.stopped"},
		{PersistenceSyncStateChanged, "reflux.persistence.sync.state.changed"},
		{DispatchFailed, "reflux.dispatch.failed"},
	}

	seen := make(map[string]bool)
	for _, tt := range tests {
		name := tt.signal.Name()
		if name != tt.want {
			t.Errorf("expected name %q, got %q", tt.want, name)
		}
		if !strings.HasPrefix(name, "reflux.") {
			t.Errorf("expected reflux prefix on %q", name)
		}
		if seen[name] {
			t.Errorf("duplicate signal name %q", name)
		}
		seen[name] = true
	}
}
