package collector

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
)

// chanSource is an EventSource backed by a caller-fed channel.
type chanSource struct {
	ch     chan Notification
	once   sync.Once
	closed bool
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan Notification, 8)}
}

func (s *chanSource) Events() <-chan Notification { return s.ch }

func (s *chanSource) Close() error {
	s.once.Do(func() {
		s.closed = true
		close(s.ch)
	})
	return nil
}

func TestNotificationRecord(t *testing.T) {
	n := Notification{Type: EventScreenOff, Extra: "org.gnome.ScreenSaver", Time: time.Unix(1700, 0)}
	want := EventRecord{Timestamp: 1700, Type: EventScreenOff, Extra: "org.gnome.ScreenSaver"}
	if got := n.Record(); got != want {
		t.Fatalf("Record() = %#v, want %#v", got, want)
	}
}

func TestEventType_TextRoundTrip(t *testing.T) {
	data, err := json.Marshal(EventRecord{Timestamp: 1, Type: EventWake})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got EventRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if got.Type != EventWake {
		t.Fatalf("Type = %v, want %v (json %s)", got.Type, EventWake, data)
	}
	if EventType(42).String() != "event(42)" {
		t.Fatalf("String() for unknown = %q", EventType(42).String())
	}
}

func TestEventCollector_RunWritesUntilStreamEnds(t *testing.T) {
	sink := &memSink{}
	src := newChanSource()
	c := NewEventCollector(sink, testLogger())

	src.ch <- Notification{Type: EventScreenOff, Time: time.Unix(10, 0)}
	src.ch <- Notification{Type: EventScreenOn, Time: time.Unix(20, 0)}
	src.Close()

	c.Run(context.Background(), src)

	want := []EventRecord{
		{Timestamp: 10, Type: EventScreenOff},
		{Timestamp: 20, Type: EventScreenOn},
	}
	if !reflect.DeepEqual(sink.events, want) {
		t.Fatalf("events = %#v, want %#v", sink.events, want)
	}
}

func TestEventCollector_RunStopsOnCancel(t *testing.T) {
	src := newChanSource()
	c := NewEventCollector(&memSink{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx, src)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEventCollector_HandleDropsWriteFailure(t *testing.T) {
	sink := &memSink{failEvery: 1}
	c := NewEventCollector(sink, testLogger())

	c.Handle(Notification{Type: EventSleep, Time: time.Unix(1, 0)})
	if len(sink.events) != 0 {
		t.Fatalf("events = %#v, want none stored", sink.events)
	}
}

func TestMerge(t *testing.T) {
	a, b := newChanSource(), newChanSource()
	m := Merge(a, b)

	a.ch <- Notification{Type: EventScreenOn}
	b.ch <- Notification{Type: EventSleep}

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case n := <-m.Events():
			seen[n.Type] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for merged notification")
		}
	}
	if !seen[EventScreenOn] || !seen[EventSleep] {
		t.Fatalf("seen = %v, want both sources", seen)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatal("Close() did not close every source")
	}
	// Second close is a no-op.
	if err := m.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestScreenSaverNotification(t *testing.T) {
	now := time.Unix(500, 0)
	tests := []struct {
		name   string
		sig    *dbus.Signal
		want   Notification
		wantOK bool
	}{
		{
			name:   "gnome active means screen off",
			sig:    &dbus.Signal{Name: "org.gnome.ScreenSaver.ActiveChanged", Body: []any{true}},
			want:   Notification{Type: EventScreenOff, Extra: "org.gnome.ScreenSaver", Time: now},
			wantOK: true,
		},
		{
			name:   "freedesktop inactive means screen on",
			sig:    &dbus.Signal{Name: "org.freedesktop.ScreenSaver.ActiveChanged", Body: []any{false}},
			want:   Notification{Type: EventScreenOn, Extra: "org.freedesktop.ScreenSaver", Time: now},
			wantOK: true,
		},
		{
			name: "other member ignored",
			sig:  &dbus.Signal{Name: "org.gnome.ScreenSaver.WakeUpScreen", Body: []any{true}},
		},
		{
			name: "non bool body ignored",
			sig:  &dbus.Signal{Name: "org.gnome.ScreenSaver.ActiveChanged", Body: []any{"yes"}},
		},
		{
			name: "empty body ignored",
			sig:  &dbus.Signal{Name: "org.gnome.ScreenSaver.ActiveChanged"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := screenSaverNotification(tt.sig, now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("notification = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestSleepNotification(t *testing.T) {
	now := time.Unix(900, 0)
	tests := []struct {
		name     string
		sig      *dbus.Signal
		wantType EventType
		wantOK   bool
	}{
		{"going to sleep", &dbus.Signal{Name: "org.freedesktop.login1.Manager.PrepareForSleep", Body: []any{true}}, EventSleep, true},
		{"woke up", &dbus.Signal{Name: "org.freedesktop.login1.Manager.PrepareForSleep", Body: []any{false}}, EventWake, true},
		{"shutdown", &dbus.Signal{Name: "org.freedesktop.login1.Manager.PrepareForShutdown", Body: []any{true}}, EventShutdown, true},
		{"shutdown cancelled", &dbus.Signal{Name: "org.freedesktop.login1.Manager.PrepareForShutdown", Body: []any{false}}, 0, false},
		{"unrelated signal", &dbus.Signal{Name: "org.freedesktop.login1.Manager.SessionNew", Body: []any{true}}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sleepNotification(tt.sig, now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Type != tt.wantType || got.Extra != "logind" || !got.Time.Equal(now) {
				t.Fatalf("notification = %#v, want type %v from logind", got, tt.wantType)
			}
		})
	}
}
