package broker

import (
	"encoding/json"
	"fmt"

	"bookagent.dev/logging"
	"bookagent.dev/protocol"
	"bookagent.dev/statusapi"
)

// SubmitHandler accepts SubmitBooking requests from the Client over the P2P
// transport and turns them into durable BookingJob records. A submission for
// a correlation_id already on file never re-persists - it returns the
// existing job's status so retried submissions stay idempotent.
type SubmitHandler struct {
	storage *Storage
	ops     *statusapi.Manager
	log     *logging.ContextLogger
}

// NewSubmitHandler constructs a SubmitHandler over storage, tracking each
// submission in ops for the status API to expose.
func NewSubmitHandler(storage *Storage, ops *statusapi.Manager, log *logging.ContextLogger) *SubmitHandler {
	return &SubmitHandler{storage: storage, ops: ops, log: log.WithField("component", "submit_handler")}
}

// ackStatusForState maps a persisted JobState to the BookingAck status string.
// Anything short of a terminal outcome reports as "queued" - Sending is an
// internal in-flight state the Client has no need to distinguish from Queued.
func ackStatusForState(state JobState) string {
	switch state {
	case JobConfirmed:
		return "confirmed"
	case JobFailed:
		return "failed"
	default:
		return "queued"
	}
}

// HandleSubmitBooking persists the submission (if new) and returns the
// BookingAck payload to send back to the Client. The job is durably on disk
// before this returns with a nil error - callers must ACK only after that.
func (h *SubmitHandler) HandleSubmitBooking(p *protocol.SubmitBookingPayload) (*protocol.BookingAckPayload, error) {
	opID := p.CorrelationID + ":submit"
	h.ops.Start(opID, "submit", map[string]interface{}{"correlation_id": p.CorrelationID})
	ack, err := h.handleSubmitBooking(p)
	h.ops.Complete(opID, err)
	return ack, err
}

func (h *SubmitHandler) handleSubmitBooking(p *protocol.SubmitBookingPayload) (*protocol.BookingAckPayload, error) {
	log := h.log.WithField("correlation_id", p.CorrelationID)
	log.Info("received booking submission")

	existing, err := h.storage.GetJob(p.CorrelationID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing job %s: %w", p.CorrelationID, err)
	}
	if existing != nil {
		status := ackStatusForState(existing.State)
		log.WithField("status", status).Info("booking already on file, returning existing status")
		return &protocol.BookingAckPayload{CorrelationID: p.CorrelationID, Status: status}, nil
	}

	bookingJSON, err := json.Marshal(p.Booking)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal booking data: %w", err)
	}
	notifyJSON, err := json.Marshal(p.Notify)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notify data: %w", err)
	}

	now := nowMillis()
	job := &BookingJob{
		CorrelationID:  p.CorrelationID,
		BookingPayload: bookingJSON,
		NotifyPayload:  notifyJSON,
		State:          JobQueued,
		Attempts:       0,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	inserted, err := h.storage.PutJobIfAbsent(job)
	if err != nil {
		return nil, fmt.Errorf("failed to persist booking job %s: %w", p.CorrelationID, err)
	}
	if !inserted {
		// Lost a race against a concurrent submission of the same correlation_id;
		// the winner's record is authoritative.
		winner, err := h.storage.GetJob(p.CorrelationID)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read racing job %s: %w", p.CorrelationID, err)
		}
		return &protocol.BookingAckPayload{CorrelationID: p.CorrelationID, Status: ackStatusForState(winner.State)}, nil
	}

	log.Info("booking job persisted, sending ack")
	return &protocol.BookingAckPayload{CorrelationID: p.CorrelationID, Status: "queued"}, nil
}
