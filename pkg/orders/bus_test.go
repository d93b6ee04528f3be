package orders

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/posedge/edge/pkg/bus"
	"github.com/posedge/edge/pkg/types"
)

func pipeConn(t *testing.T) (*bus.Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	conn := bus.NewConn("conn-1", client)
	t.Cleanup(func() { conn.Close(); server.Close() })
	return conn, server
}

func TestBusHandlerExecutesCommandAndResponds(t *testing.T) {
	m := newTestManager(t)
	handler := NewBusHandler(m)
	conn, server := pipeConn(t)

	cmd := openTableCmd("order-1", "open-1")
	payload, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	request := bus.Frame{Type: bus.EventRequestCommand, Payload: payload}

	go handler(conn, request)

	f, err := bus.ReadFrame(server)
	if err != nil {
		t.Fatalf("read response frame: %v", err)
	}
	if f.Type != bus.EventResponse {
		t.Fatalf("frame type = %v, want Response", f.Type)
	}
	if f.CorrelationID != request.RequestID {
		t.Errorf("correlation id does not match request id")
	}

	var resp types.CommandResponse
	if err := json.Unmarshal(f.Payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Events) == 0 {
		t.Errorf("expected at least one event from opening a table")
	}

	snapshot, err := m.GetSnapshot("order-1")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snapshot == nil {
		t.Fatalf("expected order-1 to exist after bus-dispatched command")
	}
}

func TestBusHandlerRespondsWithErrorOnBadPayload(t *testing.T) {
	m := newTestManager(t)
	handler := NewBusHandler(m)
	conn, server := pipeConn(t)

	request := bus.Frame{Type: bus.EventRequestCommand, Payload: []byte("not json")}
	go handler(conn, request)

	f, err := bus.ReadFrame(server)
	if err != nil {
		t.Fatalf("read response frame: %v", err)
	}

	var ce commandError
	if err := json.Unmarshal(f.Payload, &ce); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if ce.Error == "" {
		t.Errorf("expected a non-empty error message")
	}
}

func TestBusHandlerIgnoresNonRequestFrames(t *testing.T) {
	m := newTestManager(t)
	handler := NewBusHandler(m)
	conn, _ := pipeConn(t)

	handler(conn, bus.Frame{Type: bus.EventHandshake, Payload: []byte("hello")})
}

func TestBroadcastEventsForwardsPublishedEventsAsNotifications(t *testing.T) {
	m := newTestManager(t)
	server := bus.NewServer()
	stopCh := make(chan struct{})
	defer close(stopCh)

	go BroadcastEvents(m, server, stopCh)

	conn, netServer := pipeConn(t)
	server.Broker.Register(conn)

	if _, err := m.ExecuteCommand(openTableCmd("order-1", "open-1")); err != nil {
		t.Fatalf("execute command: %v", err)
	}

	f, err := bus.ReadFrame(netServer)
	if err != nil {
		t.Fatalf("read broadcast frame: %v", err)
	}
	if f.Type != bus.EventNotification {
		t.Fatalf("frame type = %v, want Notification", f.Type)
	}

	var event types.OrderEvent
	if err := json.Unmarshal(f.Payload, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.OrderID != "order-1" {
		t.Errorf("order id = %q, want order-1", event.OrderID)
	}
}
