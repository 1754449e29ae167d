package collector

import (
	"fmt"
	"time"
)

// ProcessRecord is one entry of a running-process snapshot.
type ProcessRecord struct {
	ID        int64  `json:"id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	PID       string `json:"pid"`
	UID       string `json:"uid"`
	Name      string `json:"name"`
}

// EventType is the kind of a platform event. It is persisted as its ordinal.
type EventType int

const (
	EventScreenOn EventType = iota
	EventScreenOff
	EventSleep
	EventWake
	EventShutdown
)

var eventTypeNames = [...]string{"screen_on", "screen_off", "sleep", "wake", "shutdown"}

func (t EventType) String() string {
	if t < 0 || int(t) >= len(eventTypeNames) {
		return fmt.Sprintf("event(%d)", int(t))
	}
	return eventTypeNames[t]
}

// MarshalText encodes the event type by name so JSON consumers see "screen_on"
// instead of a bare ordinal.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (t *EventType) UnmarshalText(b []byte) error {
	for i, name := range eventTypeNames {
		if name == string(b) {
			*t = EventType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", string(b))
}

// EventRecord records a platform event such as a screen toggle.
type EventRecord struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp int64     `json:"timestamp"`
	Type      EventType `json:"type"`
	Extra     string    `json:"extra"`
}

// Notification is a single item of an EventSource stream.
type Notification struct {
	Type  EventType
	Extra string
	Time  time.Time
}

// Record converts the notification into the row the event collector persists.
func (n Notification) Record() EventRecord {
	return EventRecord{
		Timestamp: n.Time.Unix(),
		Type:      n.Type,
		Extra:     n.Extra,
	}
}

// Sink receives collected records. *storage.DB satisfies it.
type Sink interface {
	InsertProcess(ProcessRecord) error
	InsertEvent(EventRecord) error
}
