package p2p

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bookagent.dev/logging"
	"bookagent.dev/protocol"
)

// Client submits bookings to a Gateway over a Transport and waits for the
// matching BookingAck. It is deliberately simple: one in-flight submission
// at a time, matched on correlation_id, no local queueing - the Gateway's
// BookingJob store is the durable side of the exchange.
type Client struct {
	transport Transport
	log       *logging.ContextLogger
}

// NewClient wraps a dialed Transport.
func NewClient(transport Transport, log *logging.ContextLogger) *Client {
	return &Client{transport: transport, log: log.WithField("component", "p2p_client")}
}

// SubmitBooking sends a SubmitBooking message and blocks for the matching
// BookingAck (by correlation_id) or until ctx is cancelled.
func (c *Client) SubmitBooking(ctx context.Context, booking protocol.BookingData, notify protocol.NotifyData) (*protocol.BookingAckPayload, error) {
	correlationID := uuid.NewString()
	payload := protocol.SubmitBookingPayload{CorrelationID: correlationID, Booking: booking, Notify: notify}

	msg, err := protocol.NewSubmitBookingMessage(uuid.NewString(), time.Now().UnixMilli(), payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build submit_booking message: %w", err)
	}

	c.log.WithField("correlation_id", correlationID).Info("submitting booking")
	if err := c.transport.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send submit_booking: %w", err)
	}

	for {
		reply, err := c.transport.Receive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to receive booking_ack: %w", err)
		}

		switch reply.Type {
		case protocol.MessageTypeBookingAck:
			ack, err := reply.GetBookingAck()
			if err != nil {
				return nil, fmt.Errorf("failed to decode booking_ack: %w", err)
			}
			if ack.CorrelationID != correlationID {
				c.log.WithField("correlation_id", ack.CorrelationID).Debug("ignoring ack for unrelated correlation_id")
				continue
			}
			return ack, nil
		case protocol.MessageTypeError:
			return nil, fmt.Errorf("gateway rejected submission: %s", string(reply.Payload))
		default:
			c.log.WithField("type", reply.Type).Debug("ignoring unexpected message while awaiting ack")
		}
	}
}

// SendHeartbeat announces this client's liveness/role to the gateway.
func (c *Client) SendHeartbeat(ctx context.Context, role string) error {
	msg, err := protocol.NewMessage(uuid.NewString(), protocol.MessageTypeHeartbeat, time.Now().UnixMilli(), protocol.HeartbeatPayload{Role: role})
	if err != nil {
		return fmt.Errorf("failed to build heartbeat message: %w", err)
	}
	return c.transport.Send(ctx, msg)
}
