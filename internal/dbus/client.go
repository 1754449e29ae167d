package dbus

import (
	"encoding/json"
	"fmt"
	"time"

	godbus "github.com/godbus/dbus/v5"

	"github.com/cptspacemanspiff/activity-defender/internal/collector"
	"github.com/cptspacemanspiff/activity-defender/internal/service"
)

// Client calls the defender service on the bus.
type Client struct {
	conn *godbus.Conn
	obj  godbus.BusObject
}

// NewClient opens a private connection to the named bus.
func NewClient(bus string) (*Client, error) {
	var (
		conn *godbus.Conn
		err  error
	)
	switch bus {
	case "", "session":
		conn, err = godbus.ConnectSessionBus()
	case "system":
		conn, err = godbus.ConnectSystemBus()
	default:
		return nil, fmt.Errorf("unknown bus %q", bus)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s bus: %w", bus, err)
	}
	return newClient(conn), nil
}

func newClient(conn *godbus.Conn) *Client {
	return &Client{conn: conn, obj: conn.Object(BusName, ObjPath)}
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) StartDetection() error {
	return c.obj.Call(IfaceName+".StartDetection", 0).Err
}

func (c *Client) StopDetection() error {
	return c.obj.Call(IfaceName+".StopDetection", 0).Err
}

func (c *Client) ResetData() error {
	return c.obj.Call(IfaceName+".ResetData", 0).Err
}

// Processes returns the process records between from and to, inclusive.
func (c *Client) Processes(from, to time.Time) ([]collector.ProcessRecord, error) {
	var records []collector.ProcessRecord
	if err := c.callJSON(&records, "GetProcesses", from.Unix(), to.Unix()); err != nil {
		return nil, err
	}
	return records, nil
}

// Events returns the event records between from and to, inclusive.
func (c *Client) Events(from, to time.Time) ([]collector.EventRecord, error) {
	var records []collector.EventRecord
	if err := c.callJSON(&records, "GetEvents", from.Unix(), to.Unix()); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) Status() (*service.Status, error) {
	var st service.Status
	if err := c.callJSON(&st, "GetStatus"); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) callJSON(dst any, method string, args ...any) error {
	var jsonStr string
	if err := c.obj.Call(IfaceName+"."+method, 0, args...).Store(&jsonStr); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(jsonStr), dst); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return nil
}
