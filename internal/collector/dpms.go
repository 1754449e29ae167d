package collector

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/dpms"
	"github.com/pkg/errors"
)

// powerQuerier reports the display power level.
type powerQuerier interface {
	PowerLevel() (uint16, error)
	Close()
}

// x11Power queries the DPMS extension of the X server named by $DISPLAY.
type x11Power struct {
	conn *xgb.Conn
}

func newX11Power() (*x11Power, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, errors.Wrap(err, "connect to X server")
	}
	if err := dpms.Init(conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "init DPMS extension")
	}
	return &x11Power{conn: conn}, nil
}

func (p *x11Power) PowerLevel() (uint16, error) {
	reply, err := dpms.Info(p.conn).Reply()
	if err != nil {
		return 0, errors.Wrap(err, "query DPMS info")
	}
	if !reply.State {
		// DPMS disabled: the server never blanks through power management.
		return dpms.DPMSModeOn, nil
	}
	return reply.PowerLevel, nil
}

func (p *x11Power) Close() {
	p.conn.Close()
}

// DPMSMonitor polls the display power level and reports transitions between
// on and any power-saving level.
type DPMSMonitor struct {
	power    powerQuerier
	interval time.Duration
	out      chan Notification
	done     chan struct{}
	once     sync.Once
	log      *slog.Logger
	now      func() time.Time
}

// NewDPMSMonitor connects to the X server and starts polling.
func NewDPMSMonitor(interval time.Duration, logger *slog.Logger) (EventSource, error) {
	p, err := newX11Power()
	if err != nil {
		return nil, err
	}
	return newDPMSMonitor(p, interval, logger), nil
}

func newDPMSMonitor(p powerQuerier, interval time.Duration, logger *slog.Logger) *DPMSMonitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	m := &DPMSMonitor{
		power:    p,
		interval: interval,
		out:      make(chan Notification, 4),
		done:     make(chan struct{}),
		log:      logger,
		now:      time.Now,
	}
	go m.poll()
	return m
}

// Events returns the notification stream.
func (m *DPMSMonitor) Events() <-chan Notification {
	return m.out
}

// Close stops polling and disconnects from the X server.
func (m *DPMSMonitor) Close() error {
	m.once.Do(func() {
		close(m.done)
	})
	return nil
}

func (m *DPMSMonitor) poll() {
	defer close(m.out)
	defer m.power.Close()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var (
		known  bool
		lastOn bool
	)
	for {
		level, err := m.power.PowerLevel()
		if err != nil {
			m.log.Debug("dpms query failed", "err", err)
		} else {
			on := level == dpms.DPMSModeOn
			if known && on != lastOn {
				n := dpmsNotification(level, m.now())
				select {
				case m.out <- n:
				case <-m.done:
					return
				}
			}
			known, lastOn = true, on
		}

		select {
		case <-ticker.C:
		case <-m.done:
			return
		}
	}
}

func dpmsNotification(level uint16, now time.Time) Notification {
	switch level {
	case dpms.DPMSModeOn:
		return Notification{Type: EventScreenOn, Extra: "dpms:on", Time: now}
	case dpms.DPMSModeStandby:
		return Notification{Type: EventScreenOff, Extra: "dpms:standby", Time: now}
	case dpms.DPMSModeSuspend:
		return Notification{Type: EventScreenOff, Extra: "dpms:suspend", Time: now}
	default:
		return Notification{Type: EventScreenOff, Extra: "dpms:off", Time: now}
	}
}
