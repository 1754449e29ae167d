package dbus

import (
	"encoding/json"
	"fmt"
	"log/slog"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/cptspacemanspiff/activity-defender/internal/collector"
	"github.com/cptspacemanspiff/activity-defender/internal/service"
)

const (
	BusName   = "org.activitydefender.Defender"
	ObjPath   = "/org/activitydefender/Defender"
	IfaceName = "org.activitydefender.Defender"

	// MaxRangeSeconds bounds a single range query.
	MaxRangeSeconds = 366 * 24 * 60 * 60

	errInvalidArgs = "org.freedesktop.DBus.Error.InvalidArgs"
)

const introspectXML = `
<node>
  <interface name="` + IfaceName + `">
    <method name="StartDetection"/>
    <method name="StopDetection"/>
    <method name="ResetData"/>
    <method name="GetProcesses">
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetEvents">
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetStatus">
      <arg direction="out" type="s" name="json"/>
    </method>
  </interface>
` + introspect.IntrospectDataString + `
</node>`

// Controller is the detection lifecycle driven over the bus.
type Controller interface {
	StartDetection() error
	StopDetection()
	ResetData() error
	Status() service.Status
}

// Querier answers the reporting range queries.
type Querier interface {
	ProcessesInRange(from, to int64) ([]collector.ProcessRecord, error)
	EventsInRange(from, to int64) ([]collector.EventRecord, error)
}

// Service exposes the defender over D-Bus.
type Service struct {
	ctl   Controller
	query Querier
	log   *slog.Logger
}

// NewService creates a new D-Bus service.
func NewService(ctl Controller, query Querier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ctl: ctl, query: query, log: logger}
}

// Export registers the service on the named bus ("session" or "system").
func (s *Service) Export(bus string) (*godbus.Conn, error) {
	conn, err := connect(bus)
	if err != nil {
		return nil, err
	}

	if err := conn.Export(s, ObjPath, IfaceName); err != nil {
		return nil, fmt.Errorf("export object: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), ObjPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request name: %w", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("name %s already taken", BusName)
	}

	return conn, nil
}

func connect(bus string) (*godbus.Conn, error) {
	switch bus {
	case "", "session":
		conn, err := godbus.SessionBus()
		if err != nil {
			return nil, fmt.Errorf("connect session bus: %w", err)
		}
		return conn, nil
	case "system":
		conn, err := godbus.SystemBus()
		if err != nil {
			return nil, fmt.Errorf("connect system bus: %w", err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unknown bus %q", bus)
	}
}

// StartDetection starts the timer and event listener.
func (s *Service) StartDetection() *godbus.Error {
	s.log.Info("start requested over dbus")
	if err := s.ctl.StartDetection(); err != nil {
		return godbus.MakeFailedError(err)
	}
	return nil
}

// StopDetection stops detection. It never fails.
func (s *Service) StopDetection() *godbus.Error {
	s.log.Info("stop requested over dbus")
	s.ctl.StopDetection()
	return nil
}

// ResetData deletes every stored record.
func (s *Service) ResetData() *godbus.Error {
	s.log.Info("reset requested over dbus")
	if err := s.ctl.ResetData(); err != nil {
		return godbus.MakeFailedError(err)
	}
	return nil
}

// GetProcesses returns process records in a time range as JSON.
func (s *Service) GetProcesses(fromEpoch, toEpoch int64) (string, *godbus.Error) {
	if dErr := validateRange(fromEpoch, toEpoch); dErr != nil {
		return "", dErr
	}
	records, err := s.query.ProcessesInRange(fromEpoch, toEpoch)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return marshal(records)
}

// GetEvents returns event records in a time range as JSON.
func (s *Service) GetEvents(fromEpoch, toEpoch int64) (string, *godbus.Error) {
	if dErr := validateRange(fromEpoch, toEpoch); dErr != nil {
		return "", dErr
	}
	records, err := s.query.EventsInRange(fromEpoch, toEpoch)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return marshal(records)
}

// GetStatus returns the detection status as JSON.
func (s *Service) GetStatus() (string, *godbus.Error) {
	return marshal(s.ctl.Status())
}

func marshal(v any) (string, *godbus.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}

func validateRange(from, to int64) *godbus.Error {
	var msg string
	switch {
	case from < 0:
		msg = fmt.Sprintf("from must not be negative, got %d", from)
	case to < from:
		msg = fmt.Sprintf("to (%d) is before from (%d)", to, from)
	case to-from > MaxRangeSeconds:
		msg = fmt.Sprintf("range of %ds exceeds the %ds limit", to-from, MaxRangeSeconds)
	default:
		return nil
	}
	return godbus.NewError(errInvalidArgs, []any{msg})
}
