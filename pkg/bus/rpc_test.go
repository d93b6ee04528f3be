package bus

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestCallAndRespondRoundTrip(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	clientConn := NewConn("client", clientSide)
	defer clientConn.Close()
	serverConn := NewConn("server", serverSide)
	defer serverConn.Close()

	registry := newPendingRegistry()

	go func() {
		req, err := serverConn.ReadFrame()
		if err != nil {
			return
		}
		Respond(serverConn, req, []byte("pong"))
	}()
	go func() {
		for {
			f, err := clientConn.ReadFrame()
			if err != nil {
				return
			}
			if f.Type == EventResponse {
				registry.deliver(f)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := Call(ctx, clientConn, registry, []byte("ping"))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(resp.Payload) != "pong" {
		t.Errorf("payload = %q, want pong", resp.Payload)
	}
}

func TestCallTimesOutWithNoResponse(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	clientConn := NewConn("client", clientSide)
	defer clientConn.Close()

	// Drain but never respond.
	go func() {
		for {
			if _, err := ReadFrame(serverSide); err != nil {
				return
			}
		}
	}()

	registry := newPendingRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Call(ctx, clientConn, registry, []byte("ping"))
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
