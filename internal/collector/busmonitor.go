package collector

import (
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// signalMapper turns a D-Bus signal into a notification. ok is false for
// signals that carry nothing worth recording.
type signalMapper func(sig *dbus.Signal, now time.Time) (n Notification, ok bool)

type matchRule struct {
	iface  string
	member string
}

// busMonitor subscribes to D-Bus signals on a private connection and exposes
// them as an EventSource.
type busMonitor struct {
	conn    *dbus.Conn
	mapper  signalMapper
	signals chan *dbus.Signal
	out     chan Notification
	done    chan struct{}
	once    sync.Once
	log     *slog.Logger
	now     func() time.Time
}

func newBusMonitor(conn *dbus.Conn, rules []matchRule, mapper signalMapper, logger *slog.Logger) (*busMonitor, error) {
	for _, r := range rules {
		err := conn.AddMatchSignal(
			dbus.WithMatchInterface(r.iface),
			dbus.WithMatchMember(r.member),
		)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}

	m := &busMonitor{
		conn:    conn,
		mapper:  mapper,
		signals: make(chan *dbus.Signal, 16),
		out:     make(chan Notification, 16),
		done:    make(chan struct{}),
		log:     logger,
		now:     time.Now,
	}
	conn.Signal(m.signals)
	go m.listen()
	return m, nil
}

// Events returns the notification stream.
func (m *busMonitor) Events() <-chan Notification {
	return m.out
}

// Close unsubscribes and closes the private connection.
func (m *busMonitor) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		m.conn.RemoveSignal(m.signals)
		err = m.conn.Close()
	})
	return err
}

func (m *busMonitor) listen() {
	defer close(m.out)

	for {
		select {
		case sig, ok := <-m.signals:
			if !ok {
				return
			}
			n, ok := m.mapper(sig, m.now())
			if !ok {
				continue
			}
			m.log.Debug("signal", "name", sig.Name, "type", n.Type)
			select {
			case m.out <- n:
			case <-m.done:
				return
			}
		case <-m.done:
			return
		}
	}
}

// boolBody returns the first body element as a bool.
func boolBody(sig *dbus.Signal) (bool, bool) {
	if sig == nil || len(sig.Body) < 1 {
		return false, false
	}
	v, ok := sig.Body[0].(bool)
	return v, ok
}
