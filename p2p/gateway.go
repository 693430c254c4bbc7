package p2p

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bookagent.dev/broker"
	"bookagent.dev/logging"
	"bookagent.dev/protocol"
)

// GatewaySession serves one connected Client: it reads SubmitBooking
// messages, hands them to a SubmitHandler, and writes back the resulting
// BookingAck. Heartbeats are accepted and otherwise ignored; no reply is sent.
type GatewaySession struct {
	transport Transport
	handler   *broker.SubmitHandler
	log       *logging.ContextLogger
}

// NewGatewaySession wraps an accepted Transport.
func NewGatewaySession(transport Transport, handler *broker.SubmitHandler, log *logging.ContextLogger) *GatewaySession {
	return &GatewaySession{transport: transport, handler: handler, log: log.WithField("component", "gateway_session")}
}

// Run processes messages from the Client until the transport's Receive
// returns an error; for a transport that honors ctx, that includes ctx
// being cancelled.
func (s *GatewaySession) Run(ctx context.Context) error {
	for {
		msg, err := s.transport.Receive(ctx)
		if err != nil {
			return err
		}

		switch msg.Type {
		case protocol.MessageTypeSubmitBooking:
			s.handleSubmitBooking(ctx, msg)
		case protocol.MessageTypeHeartbeat:
			// No response needed.
		default:
			s.log.WithField("type", msg.Type).Warn("gateway session received unexpected message type")
		}
	}
}

func (s *GatewaySession) handleSubmitBooking(ctx context.Context, msg *protocol.Message) {
	payload, err := msg.GetSubmitBooking()
	if err != nil {
		s.log.WithField("error", err.Error()).Warn("failed to decode submit_booking payload")
		s.sendError(ctx, "malformed submit_booking payload")
		return
	}

	ack, err := s.handler.HandleSubmitBooking(payload)
	if err != nil {
		s.log.WithField("correlation_id", payload.CorrelationID).WithField("error", err.Error()).
			Error("failed to handle booking submission")
		s.sendError(ctx, "internal error processing booking submission")
		return
	}

	reply, err := protocol.NewBookingAckMessage(uuid.NewString(), time.Now().UnixMilli(), *ack)
	if err != nil {
		s.log.WithField("error", err.Error()).Error("failed to build booking_ack message")
		return
	}
	if err := s.transport.Send(ctx, reply); err != nil {
		s.log.WithField("correlation_id", payload.CorrelationID).WithField("error", err.Error()).
			Warn("failed to send booking_ack")
	}
}

func (s *GatewaySession) sendError(ctx context.Context, reason string) {
	msg, err := protocol.NewErrorMessage(uuid.NewString(), time.Now().UnixMilli(), reason)
	if err != nil {
		return
	}
	_ = s.transport.Send(ctx, msg)
}
