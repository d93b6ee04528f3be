package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrTimeout is returned by Call when no Response frame arrives before
// the caller-supplied context deadline.
var ErrTimeout = fmt.Errorf("bus: request timed out waiting for response")

// pendingRegistry tracks in-flight RequestCommand frames by
// correlation id so an arriving Response frame can be routed back to
// the goroutine that issued the request, the way the orders manager
// routes persisted events back to subscribers.
type pendingRegistry struct {
	mu      sync.Mutex
	waiters map[uuid.UUID]chan Frame
}

func newPendingRegistry() *pendingRegistry {
	return &pendingRegistry{waiters: make(map[uuid.UUID]chan Frame)}
}

func (p *pendingRegistry) register(correlationID uuid.UUID) chan Frame {
	ch := make(chan Frame, 1)
	p.mu.Lock()
	p.waiters[correlationID] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingRegistry) cancel(correlationID uuid.UUID) {
	p.mu.Lock()
	delete(p.waiters, correlationID)
	p.mu.Unlock()
}

// deliver routes an incoming Response frame to its waiter, if still
// pending. Returns false if the caller already gave up (timed out or
// the context was cancelled), in which case the frame is dropped.
func (p *pendingRegistry) deliver(f Frame) bool {
	p.mu.Lock()
	ch, ok := p.waiters[f.CorrelationID]
	if ok {
		delete(p.waiters, f.CorrelationID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- f
	return true
}

// Call sends a RequestCommand frame over conn and blocks until either
// a matching Response frame arrives or ctx is done, in which case it
// returns ErrTimeout (or ctx.Err() for an explicit cancellation).
func Call(ctx context.Context, conn *Conn, registry *pendingRegistry, payload []byte) (Frame, error) {
	requestID := uuid.New()
	waiter := registry.register(requestID)

	req := Frame{Type: EventRequestCommand, RequestID: requestID, CorrelationID: requestID, Payload: payload}
	if dropped := conn.Send(req); dropped {
		registry.cancel(requestID)
		return Frame{}, fmt.Errorf("bus: request dropped, outbound buffer full")
	}

	select {
	case resp := <-waiter:
		return resp, nil
	case <-ctx.Done():
		registry.cancel(requestID)
		if ctx.Err() == context.DeadlineExceeded {
			return Frame{}, ErrTimeout
		}
		return Frame{}, ctx.Err()
	}
}
