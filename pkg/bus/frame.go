// Package bus implements the Edge message bus: a length-framed TCP/TLS
// protocol that lets till terminals, kitchen displays, and printers
// exchange notifications and request/response commands with the Edge
// without going through Cloud. Framing and the pub/sub fan-out follow
// the same canonical-encoding and bounded-broadcast discipline used by
// pkg/hashchain and the orders manager's subscriber broker.
package bus

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// EventType is the wire tag identifying a frame's purpose. Values are
// stable across releases; never renumber an existing constant.
type EventType uint8

const (
	EventHandshake      EventType = 1
	EventNotification   EventType = 2
	EventServerCommand  EventType = 3
	EventRequestCommand EventType = 4
	EventResponse       EventType = 5
	EventSync           EventType = 6
	EventTableIntent    EventType = 7
	EventTableSync      EventType = 8
	EventDataSync       EventType = 9
)

func (t EventType) String() string {
	switch t {
	case EventHandshake:
		return "HANDSHAKE"
	case EventNotification:
		return "NOTIFICATION"
	case EventServerCommand:
		return "SERVER_COMMAND"
	case EventRequestCommand:
		return "REQUEST_COMMAND"
	case EventResponse:
		return "RESPONSE"
	case EventSync:
		return "SYNC"
	case EventTableIntent:
		return "TABLE_INTENT"
	case EventTableSync:
		return "TABLE_SYNC"
	case EventDataSync:
		return "DATA_SYNC"
	default:
		return "UNKNOWN"
	}
}

// maxPayloadSize bounds a single frame so a corrupt or hostile peer
// can't force an unbounded allocation from a garbage length prefix.
const maxPayloadSize = 16 << 20

// Frame is one message bus wire unit:
//
//	event_type    u8
//	request_id    16 bytes (UUID)
//	correlation_id 16 bytes (UUID)
//	payload_len   u32 big-endian
//	payload       payload_len bytes
//
// RequestID names the frame itself; CorrelationID, for RequestCommand
// and Response frames, ties a response back to the request it answers.
type Frame struct {
	Type          EventType
	RequestID     uuid.UUID
	CorrelationID uuid.UUID
	Payload       []byte
}

// WriteFrame serializes and writes one frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	header := make([]byte, 1+16+16+4)
	header[0] = byte(f.Type)
	copy(header[1:17], f.RequestID[:])
	copy(header[17:33], f.CorrelationID[:])
	binary.BigEndian.PutUint32(header[33:37], uint32(len(f.Payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("bus: write frame header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("bus: write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame blocks until one full frame has been read from r.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, 1+16+16+4)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}

	f := Frame{Type: EventType(header[0])}
	copy(f.RequestID[:], header[1:17])
	copy(f.CorrelationID[:], header[17:33])
	payloadLen := binary.BigEndian.Uint32(header[33:37])
	if payloadLen > maxPayloadSize {
		return Frame{}, fmt.Errorf("bus: frame payload of %d bytes exceeds max %d", payloadLen, maxPayloadSize)
	}
	if payloadLen > 0 {
		f.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, fmt.Errorf("bus: read frame payload: %w", err)
		}
	}
	return f, nil
}
