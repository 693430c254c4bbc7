package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bookagent.dev/logging"
	"bookagent.dev/protocol"
	"bookagent.dev/statusapi"
)

const (
	notifierPollInterval = 2 * time.Second
	notifierBatch        = 10
	bodyPreviewLen       = 100
)

// NotifierWorker polls Storage for due NotificationRecords and simulates
// sending each as a structured log line - the system never sends real
// email. A notification for a job that somehow isn't Confirmed yet is
// skipped and left Pending for the next tick.
type NotifierWorker struct {
	storage *Storage
	audit   AuditPublisher
	ops     *statusapi.Manager
	log     *logging.ContextLogger
}

// NewNotifierWorker constructs a NotifierWorker.
func NewNotifierWorker(storage *Storage, audit AuditPublisher, ops *statusapi.Manager, log *logging.ContextLogger) *NotifierWorker {
	return &NotifierWorker{storage: storage, audit: audit, ops: ops, log: log.WithField("component", "notifier")}
}

// Run polls for due notifications every two seconds until ctx is cancelled.
func (n *NotifierWorker) Run(ctx context.Context) {
	n.log.Info("notifier worker started")
	ticker := time.NewTicker(notifierPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.log.Info("notifier worker stopping")
			return
		case <-ticker.C:
			if err := n.processDueNotifications(); err != nil {
				n.log.WithField("error", err.Error()).Error("error processing due notifications")
			}
		}
	}
}

func (n *NotifierWorker) processDueNotifications() error {
	notifs, err := n.storage.ScanDueNotifications(notifierBatch)
	if err != nil {
		return fmt.Errorf("failed to scan due notifications: %w", err)
	}

	for _, notif := range notifs {
		if err := n.processNotification(notif); err != nil {
			n.log.WithField("correlation_id", notif.CorrelationID).WithField("error", err.Error()).
				Error("failed to process notification")
		}
	}
	return nil
}

func (n *NotifierWorker) processNotification(notif *NotificationRecord) error {
	opID := notif.CorrelationID + ":notify"
	n.ops.Start(opID, "notify", map[string]interface{}{"correlation_id": notif.CorrelationID})
	err := n.doProcessNotification(notif)
	n.ops.Complete(opID, err)
	return err
}

func (n *NotifierWorker) doProcessNotification(notif *NotificationRecord) error {
	log := n.log.WithField("correlation_id", notif.CorrelationID).WithField("email", notif.EmailTo)
	log.Info("processing notification")

	job, err := n.storage.GetJob(notif.CorrelationID)
	if err != nil {
		return fmt.Errorf("failed to look up booking job %s: %w", notif.CorrelationID, err)
	}
	if job == nil {
		return fmt.Errorf("booking job not found: %s", notif.CorrelationID)
	}
	if job.State != JobConfirmed {
		log.WithField("state", job.State).Warn("skipping notification - booking job not confirmed")
		return nil
	}

	subject, body, err := buildEmail(job)
	if err != nil {
		return fmt.Errorf("failed to build email for %s: %w", notif.CorrelationID, err)
	}

	preview := body
	if len(preview) > bodyPreviewLen {
		preview = preview[:bodyPreviewLen] + "..."
	}

	log.WithField("subject", subject).Infof(
		"SIMULATED_EMAIL correlation_id=%s to=%s subject=%q body_preview=%q",
		notif.CorrelationID, notif.EmailTo, subject, preview,
	)

	sentAt := nowMillis()
	if err := n.storage.UpdateNotification(notif.CorrelationID, NotificationPatch{
		State:           NotificationSimulatedSent,
		SimulatedSentAt: &sentAt,
		Subject:         &subject,
		Body:            &body,
	}); err != nil {
		return fmt.Errorf("failed to update notification state: %w", err)
	}

	n.publishAudit(notif.CorrelationID, notif.Attempts)
	log.Info("notification processed and simulated email sent")
	return nil
}

func buildEmail(job *BookingJob) (subject, body string, err error) {
	var booking protocol.BookingData
	if err := json.Unmarshal(job.BookingPayload, &booking); err != nil {
		return "", "", fmt.Errorf("failed to parse booking payload: %w", err)
	}

	name := orUnknown(booking.Name)
	date := orUnknown(booking.Date)
	startTime := orUnknown(booking.StartTime)
	endTime := orUnknown(booking.EndTime)

	responseInfo := "Booking confirmed"
	if job.CentralResponse != "" {
		responseInfo = fmt.Sprintf("Response: %s", job.CentralResponse)
	}

	subject = fmt.Sprintf("Booking Confirmed - %s", name)
	body = fmt.Sprintf(
		"Hello %s,\n\nYour booking has been confirmed:\n\nDate: %s\nTime: %s - %s\nName: %s\n\n%s\n\nThank you!",
		name, date, startTime, endTime, name, responseInfo,
	)
	return subject, body, nil
}

// orUnknown substitutes "Unknown" for a field the booking payload left empty,
// so a malformed or partial payload still renders a readable notification.
func orUnknown(field string) string {
	if field == "" {
		return "Unknown"
	}
	return field
}

func (n *NotifierWorker) publishAudit(correlationID string, attempts int) {
	if err := n.audit.Publish(AuditEvent{
		CorrelationID: correlationID,
		Kind:          "notification",
		State:         string(NotificationSimulatedSent),
		Attempts:      attempts,
		OccurredAt:    nowMillis(),
	}); err != nil {
		n.log.WithField("correlation_id", correlationID).WithField("error", err.Error()).
			Warn("failed to publish audit event")
	}
}
