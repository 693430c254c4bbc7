// Package protocol defines the tagged message envelope exchanged between Client
// and Gateway nodes over the peer-to-peer transport, along with the booking-domain
// payloads carried inside it.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates the payload carried by a Message.
type MessageType string

const (
	MessageTypeSubmitBooking MessageType = "submit_booking"
	MessageTypeBookingAck    MessageType = "booking_ack"
	MessageTypeHeartbeat     MessageType = "heartbeat"
	MessageTypeError         MessageType = "error"
)

// Message is the wire envelope for every exchange between Client and Gateway.
// It is a tagged variant: Type selects how Payload must be interpreted, mirroring
// the way the original broker's libp2p Msg enum discriminated on a single field.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewMessage builds an envelope around a JSON-marshalable payload.
func NewMessage(id string, msgType MessageType, timestampMs int64, payload interface{}) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return &Message{ID: id, Type: msgType, Timestamp: timestampMs, Payload: raw}, nil
}

// JSON serializes the envelope.
func (m *Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage decodes a raw envelope from the wire.
func ParseMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &m, nil
}

// BookingData is the client-supplied appointment request.
type BookingData struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Name      string `json:"name"`
}

// NotifyData is the client-supplied notification preference.
type NotifyData struct {
	Email    string `json:"email"`
	Locale   string `json:"locale,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// SubmitBookingPayload is carried by a MessageTypeSubmitBooking message.
type SubmitBookingPayload struct {
	CorrelationID string      `json:"correlation_id"`
	Booking       BookingData `json:"booking"`
	Notify        NotifyData  `json:"notify"`
}

// BookingAckPayload is carried by a MessageTypeBookingAck message. Status is one
// of "queued", "confirmed", "failed", "error".
type BookingAckPayload struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
}

// HeartbeatPayload announces the sender's role; a gateway session accepts it
// without replying.
type HeartbeatPayload struct {
	Role string `json:"role"`
}

// ErrorPayload signals a protocol-level rejection (malformed message, wrong role).
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// GetSubmitBooking extracts and validates a SubmitBookingPayload from the envelope.
func (m *Message) GetSubmitBooking() (*SubmitBookingPayload, error) {
	if m.Type != MessageTypeSubmitBooking {
		return nil, fmt.Errorf("message type %s is not %s", m.Type, MessageTypeSubmitBooking)
	}
	var p SubmitBookingPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode submit_booking payload: %w", err)
	}
	return &p, nil
}

// GetBookingAck extracts a BookingAckPayload from the envelope.
func (m *Message) GetBookingAck() (*BookingAckPayload, error) {
	if m.Type != MessageTypeBookingAck {
		return nil, fmt.Errorf("message type %s is not %s", m.Type, MessageTypeBookingAck)
	}
	var p BookingAckPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode booking_ack payload: %w", err)
	}
	return &p, nil
}

// NewSubmitBookingMessage builds a tagged envelope carrying a SubmitBookingPayload.
func NewSubmitBookingMessage(id string, timestampMs int64, p SubmitBookingPayload) (*Message, error) {
	return NewMessage(id, MessageTypeSubmitBooking, timestampMs, p)
}

// NewBookingAckMessage builds a tagged envelope carrying a BookingAckPayload.
func NewBookingAckMessage(id string, timestampMs int64, p BookingAckPayload) (*Message, error) {
	return NewMessage(id, MessageTypeBookingAck, timestampMs, p)
}

// NewErrorMessage builds a tagged envelope carrying an ErrorPayload.
func NewErrorMessage(id string, timestampMs int64, reason string) (*Message, error) {
	return NewMessage(id, MessageTypeError, timestampMs, ErrorPayload{Reason: reason})
}
