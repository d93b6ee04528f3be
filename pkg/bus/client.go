package bus

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

// Client is a message bus peer that dials a Server, sends
// RequestCommand frames and waits for their Response, and hands every
// other frame it reads to Handle.
type Client struct {
	conn     *Conn
	registry *pendingRegistry
	Handle   Handler
}

// Dial connects to a message bus server at addr. If tlsConfig is
// non-nil the connection is upgraded to TLS with the client's entity
// certificate.
func Dial(addr string, tlsConfig *tls.Config) (*Client, error) {
	var (
		netConn net.Conn
		err     error
	)
	if tlsConfig != nil {
		netConn, err = tls.Dial("tcp", addr, tlsConfig)
	} else {
		netConn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", addr, err)
	}

	c := &Client{
		conn:     NewConn(addr, netConn),
		registry: newPendingRegistry(),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		f, err := c.conn.ReadFrame()
		if err != nil {
			return
		}
		if f.Type == EventResponse {
			if c.registry.deliver(f) {
				continue
			}
			continue
		}
		if c.Handle != nil {
			c.Handle(c.conn, f)
		}
	}
}

// Send enqueues a frame for delivery without waiting for a response
// (Notification, ServerCommand, TableIntent, Sync frames).
func (c *Client) Send(f Frame) (dropped bool) {
	return c.conn.Send(f)
}

// Call issues a RequestCommand and blocks for its Response or ctx's
// deadline, whichever comes first.
func (c *Client) Call(ctx context.Context, payload []byte) (Frame, error) {
	return Call(ctx, c.conn, c.registry, payload)
}

// Close disconnects from the server.
func (c *Client) Close() error {
	return c.conn.Close()
}
