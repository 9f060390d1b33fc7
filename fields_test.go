package reflux

import (
	"testing"
	"time"
)

func TestFieldKeyNames(t *testing.T) {
	tests := []struct {
		name string
		got  string
	}{
		{"property", KeyProperty.Field("score").Key().Name()},
		{"owner", KeyOwner.Field("*Player@0x1").Key().Name()},
		{"component", KeyComponent.Field("hud").Key().Name()},
		{"phase", KeyPhase.Field("awake").Key().Name()},
		{"event_type", KeyEventType.Field("reflux.Damaged").Key().Name()},
		{"priority", KeyPriority.Field(10).Key().Name()},
		{"error", KeyError.Field("something went wrong").Key().Name()},
		{"state", KeyState.Field("healthy").Key().Name()},
		{"old_state", KeyOldState.Field("loading").Key().Name()},
		{"new_state", KeyNewState.Field("healthy").Key().Name()},
		{"count", KeyCount.Field(3).Key().Name()},
		{"debounce", KeyDebounce.Field(100 * time.Millisecond).Key().Name()},
	}

	for _, tt := range tests {
		if tt.got != tt.name {
			t.Errorf("expected key %q, got %q", tt.name, tt.got)
		}
	}
}
