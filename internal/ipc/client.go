package ipc

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Client calls a running controller over D-Bus.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// Dial connects to bus and targets the controller object.
func Dial(bus Bus) (*Client, error) {
	conn, err := connect(bus)
	if err != nil {
		return nil, fmt.Errorf("ipc: connect %s bus: %w", bus, err)
	}
	return &Client{conn: conn, obj: conn.Object(BusName, ObjectPath)}, nil
}

// Close closes the bus connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes method with args and returns its boolean result.
func (c *Client) Call(method string, args ...any) (bool, error) {
	var ok bool
	if err := c.obj.Call(BusName+"."+method, 0, args...).Store(&ok); err != nil {
		return false, fmt.Errorf("ipc: %s: %w", method, err)
	}
	return ok, nil
}

func (c *Client) SetView(view string) (bool, error)    { return c.Call("SetView", view) }
func (c *Client) SetAuto() (bool, error)               { return c.Call("SetAuto") }
func (c *Client) Next() (bool, error)                  { return c.Call("Next") }
func (c *Client) Prev() (bool, error)                  { return c.Call("Prev") }
func (c *Client) Wake(reason string) (bool, error)     { return c.Call("Wake", reason) }
func (c *Client) Sleep(reason string) (bool, error)    { return c.Call("Sleep", reason) }
func (c *Client) PowerOff(reason string) (bool, error) { return c.Call("PowerOff", reason) }
