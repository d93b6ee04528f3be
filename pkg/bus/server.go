package bus

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/posedge/edge/pkg/log"
)

// Handler processes frames read off a connection that aren't routed to
// a pending RPC waiter: Handshake, Notification, ServerCommand,
// TableIntent, and any RequestCommand this server itself must answer.
type Handler func(conn *Conn, f Frame)

// Server accepts message bus connections over TCP, optionally upgraded
// to TLS 1.3 with client certificate auth, and dispatches frames to a
// Handler while routing Response frames back to in-flight Call waiters.
type Server struct {
	Broker   *Broker
	Handle   Handler
	registry *pendingRegistry

	listener net.Listener
}

// NewServer returns a Server with an empty connection broker. Handle
// must be set before Serve is called.
func NewServer() *Server {
	return &Server{
		Broker:   NewBroker(),
		registry: newPendingRegistry(),
	}
}

// Listen opens a TCP listener on addr. If tlsConfig is non-nil,
// ClientAuth should already be set to tls.RequireAndVerifyClientCert
// by the caller (pkg/security issues and validates the entity certs
// presented here).
func (s *Server) Listen(addr string, tlsConfig *tls.Config) error {
	var (
		ln  net.Listener
		err error
	)
	if tlsConfig != nil {
		ln, err = tls.Listen("tcp", addr, tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("bus: listen on %s: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until the listener is closed. Call from
// its own goroutine.
func (s *Server) Serve() error {
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(netConn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(netConn net.Conn) {
	conn := NewConn(uuid.NewString(), netConn)
	s.Broker.Register(conn)
	defer func() {
		s.Broker.Unregister(conn)
		conn.Close()
	}()

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			return
		}
		if f.Type == EventResponse {
			if s.registry.deliver(f) {
				continue
			}
			log.Logger.Warn().Str("conn_id", conn.ID).Msg("message bus response with no matching in-flight request")
			continue
		}
		if s.Handle != nil {
			s.Handle(conn, f)
		}
	}
}

// Broadcast sends f to every connected client.
func (s *Server) Broadcast(f Frame) {
	s.Broker.Broadcast(f)
}

// Respond answers a RequestCommand frame with a Response frame carrying
// the same correlation id, so the original caller's Call unblocks.
func Respond(conn *Conn, request Frame, payload []byte) (dropped bool) {
	return conn.Send(Frame{
		Type:          EventResponse,
		RequestID:     request.RequestID,
		CorrelationID: request.CorrelationID,
		Payload:       payload,
	})
}
