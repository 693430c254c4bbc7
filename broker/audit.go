package broker

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

// AuditEvent is one job/notification state transition published to the
// audit outbox stream. It exists purely for downstream observability and
// plays no role in the broker's own correctness - a publish failure is
// logged and dropped, never retried, and never blocks the Forwarder or
// Notifier that raised it.
type AuditEvent struct {
	CorrelationID string `json:"correlation_id"`
	Kind          string `json:"kind"` // "job" or "notification"
	State         string `json:"state"`
	Attempts      int    `json:"attempts"`
	OccurredAt    int64  `json:"occurred_at"`
}

// AuditPublisher publishes AuditEvents to an external stream.
type AuditPublisher interface {
	Publish(event AuditEvent) error
	Close() error
}

// AMQPAuditPublisher publishes audit events to a durable RabbitMQ queue,
// mirroring queue/rabbit.go's connect-declare-publish shape.
type AMQPAuditPublisher struct {
	connection *amqp.Connection
	channel    *amqp.Channel
	queueName  string
}

// NewAMQPAuditPublisher connects to amqpURL and declares queueName durable.
func NewAMQPAuditPublisher(amqpURL, queueName string) (*AMQPAuditPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open audit channel: %w", err)
	}

	_, err = ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare audit queue: %w", err)
	}

	return &AMQPAuditPublisher{connection: conn, channel: ch, queueName: queueName}, nil
}

func (p *AMQPAuditPublisher) Publish(event AuditEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	return p.channel.Publish("", p.queueName, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func (p *AMQPAuditPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.connection != nil {
		p.connection.Close()
	}
	return nil
}

// NoopAuditPublisher is used when no AMQP URL is configured.
type NoopAuditPublisher struct{}

func (NoopAuditPublisher) Publish(event AuditEvent) error { return nil }

func (NoopAuditPublisher) Close() error { return nil }
