package collector

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
)

const logindManager = "org.freedesktop.login1.Manager"

// NewSleepMonitor listens for systemd-logind PrepareForSleep/PrepareForShutdown
// signals on the system bus and reports them as sleep, wake and shutdown events.
func NewSleepMonitor(logger *slog.Logger) (EventSource, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	rules := []matchRule{
		{iface: logindManager, member: "PrepareForSleep"},
		{iface: logindManager, member: "PrepareForShutdown"},
	}
	m, err := newBusMonitor(conn, rules, sleepNotification, logger)
	if err != nil {
		return nil, fmt.Errorf("subscribe logind signals: %w", err)
	}
	return m, nil
}

func sleepNotification(sig *dbus.Signal, now time.Time) (Notification, bool) {
	active, ok := boolBody(sig)
	if !ok {
		return Notification{}, false
	}

	switch sig.Name {
	case logindManager + ".PrepareForShutdown":
		// PrepareForShutdown(false) only fires when a shutdown is cancelled.
		if !active {
			return Notification{}, false
		}
		return Notification{Type: EventShutdown, Extra: "logind", Time: now}, true
	case logindManager + ".PrepareForSleep":
		if active {
			return Notification{Type: EventSleep, Extra: "logind", Time: now}, true
		}
		return Notification{Type: EventWake, Extra: "logind", Time: now}, true
	}
	return Notification{}, false
}
