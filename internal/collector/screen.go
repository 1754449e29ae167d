package collector

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

// Screensaver interfaces that emit ActiveChanged(bool) on the session bus.
var screenSaverInterfaces = []string{
	"org.freedesktop.ScreenSaver",
	"org.gnome.ScreenSaver",
}

// NewScreenSaverMonitor watches the session bus for screensaver activation.
// An active screensaver is recorded as screen off and deactivation as screen on.
func NewScreenSaverMonitor(logger *slog.Logger) (EventSource, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	rules := make([]matchRule, 0, len(screenSaverInterfaces))
	for _, iface := range screenSaverInterfaces {
		rules = append(rules, matchRule{iface: iface, member: "ActiveChanged"})
	}
	m, err := newBusMonitor(conn, rules, screenSaverNotification, logger)
	if err != nil {
		return nil, fmt.Errorf("subscribe screensaver signals: %w", err)
	}
	return m, nil
}

func screenSaverNotification(sig *dbus.Signal, now time.Time) (Notification, bool) {
	iface, member, ok := strings.Cut(sig.Name, ".ActiveChanged")
	if !ok || member != "" {
		return Notification{}, false
	}
	active, ok := boolBody(sig)
	if !ok {
		return Notification{}, false
	}
	typ := EventScreenOn
	if active {
		typ = EventScreenOff
	}
	return Notification{Type: typ, Extra: iface, Time: now}, true
}
