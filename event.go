package reflux

import (
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

// Event is implemented by every type published on a Bus. Embed EventMeta
// to satisfy it:
//
//	type ScoreChanged struct {
//	    reflux.EventMeta
//	    Score int
//	}
type Event interface {
	Meta() EventMeta
}

// EventMeta is the identity every event carries. Publish fills in a missing
// EventID, Timestamp or Source on the copy it dispatches.
type EventMeta struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	EventID   string    `json:"event_id" yaml:"event_id"`
	Source    string    `json:"source" yaml:"source"`
}

// NewEventMeta returns metadata stamped now with a fresh id.
func NewEventMeta(source string) EventMeta {
	return EventMeta{
		Timestamp: clockz.RealClock.Now().UTC(),
		EventID:   uuid.NewString(),
		Source:    source,
	}
}

// Meta returns the metadata.
func (m EventMeta) Meta() EventMeta {
	return m
}

// stamper is satisfied by pointers to structs embedding EventMeta.
type stamper interface {
	stamp(now time.Time, source string)
}

func (m *EventMeta) stamp(now time.Time, source string) {
	if m.EventID == "" {
		m.EventID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now.UTC()
	}
	if m.Source == "" {
		m.Source = source
	}
}
