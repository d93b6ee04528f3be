package orders

import (
	"encoding/json"
	"fmt"

	"github.com/posedge/edge/pkg/bus"
	"github.com/posedge/edge/pkg/log"
	"github.com/posedge/edge/pkg/types"
)

// commandError is the JSON shape returned on a RequestCommand frame
// when the command could not be decoded or executing it failed before
// producing a CommandResponse.
type commandError struct {
	Error string `json:"error"`
}

// NewBusHandler returns a bus.Handler that decodes EventRequestCommand
// frames as a types.OrderCommand, executes it against manager, and
// answers with a Response frame carrying the resulting
// types.CommandResponse (or a commandError on failure). Every other
// frame type is logged and dropped: till terminals only issue
// RequestCommand frames against the order core, the way Notification
// and TableSync frames only ever flow from server to client.
func NewBusHandler(manager *Manager) bus.Handler {
	return func(conn *bus.Conn, f bus.Frame) {
		if f.Type != bus.EventRequestCommand {
			log.Logger.Debug().
				Str("conn_id", conn.ID).
				Str("frame_type", f.Type.String()).
				Msg("message bus frame with no handler, dropped")
			return
		}

		var cmd types.OrderCommand
		if err := json.Unmarshal(f.Payload, &cmd); err != nil {
			respondError(conn, f, fmt.Errorf("orders: decode request command: %w", err))
			return
		}

		resp, err := manager.ExecuteCommand(cmd)
		if err != nil {
			respondError(conn, f, err)
			return
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			respondError(conn, f, fmt.Errorf("orders: encode command response: %w", err))
			return
		}
		bus.Respond(conn, f, payload)
	}
}

func respondError(conn *bus.Conn, request bus.Frame, err error) {
	payload, marshalErr := json.Marshal(commandError{Error: err.Error()})
	if marshalErr != nil {
		payload = []byte(`{"error":"orders: command failed"}`)
	}
	bus.Respond(conn, request, payload)
}

// BroadcastEvents subscribes to manager and forwards every persisted
// event to every connected message bus client as a Notification frame,
// so till terminals and kitchen displays stay current without polling.
// Runs until stopCh is closed; intended to be started as its own
// supervisor Worker task.
func BroadcastEvents(manager *Manager, server *bus.Server, stopCh <-chan struct{}) {
	ch := manager.Subscribe()
	defer manager.Unsubscribe(ch)

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				log.Logger.Error().Err(err).Str("order_id", event.OrderID).Msg("encode order event for bus broadcast")
				continue
			}
			server.Broadcast(bus.Frame{
				Type:    bus.EventNotification,
				Payload: payload,
			})
		case <-stopCh:
			return
		}
	}
}
