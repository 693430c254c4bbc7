package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitBookingRoundTrip(t *testing.T) {
	payload := SubmitBookingPayload{
		CorrelationID: "corr-1",
		Booking:       BookingData{Date: "2026-08-01", StartTime: "09:00", EndTime: "10:00", Name: "Jane Doe"},
		Notify:        NotifyData{Email: "jane@example.com"},
	}

	msg, err := NewSubmitBookingMessage("msg-1", 1700000000000, payload)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeSubmitBooking, msg.Type)

	data, err := msg.JSON()
	require.NoError(t, err)

	parsed, err := ParseMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, parsed.ID)
	assert.Equal(t, msg.Type, parsed.Type)

	decoded, err := parsed.GetSubmitBooking()
	require.NoError(t, err)
	assert.Equal(t, payload, *decoded)
}

func TestGetSubmitBookingWrongType(t *testing.T) {
	msg, err := NewBookingAckMessage("msg-2", 0, BookingAckPayload{CorrelationID: "corr-1", Status: "queued"})
	require.NoError(t, err)

	_, err = msg.GetSubmitBooking()
	assert.Error(t, err)
}

func TestBookingAckRoundTrip(t *testing.T) {
	msg, err := NewBookingAckMessage("msg-3", 0, BookingAckPayload{CorrelationID: "corr-2", Status: "confirmed"})
	require.NoError(t, err)

	ack, err := msg.GetBookingAck()
	require.NoError(t, err)
	assert.Equal(t, "corr-2", ack.CorrelationID)
	assert.Equal(t, "confirmed", ack.Status)
}

func TestNewErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage("msg-4", 0, "malformed payload")
	require.NoError(t, err)
	assert.Equal(t, MessageTypeError, msg.Type)

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "malformed payload", p.Reason)
}
