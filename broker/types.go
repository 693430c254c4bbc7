// Package broker implements the durable booking pipeline: idempotent submission,
// a persisted job state machine, at-least-once HTTP forwarding with backoff, and
// a simulated notification outbox.
package broker

// JobState is the lifecycle state of a BookingJob.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobSending   JobState = "sending"
	JobConfirmed JobState = "confirmed"
	JobFailed    JobState = "failed"
)

// NotificationState is the lifecycle state of a NotificationRecord.
type NotificationState string

const (
	NotificationPending       NotificationState = "pending"
	NotificationSimulatedSent NotificationState = "simulated_sent"
	NotificationFailed        NotificationState = "failed"
)

// BookingJob is the durable record of one client submission, keyed by CorrelationID.
type BookingJob struct {
	CorrelationID    string   `json:"correlation_id"`
	BookingPayload   []byte   `json:"booking_payload"`
	NotifyPayload    []byte   `json:"notify_payload"`
	State            JobState `json:"state"`
	Attempts         int      `json:"attempts"`
	NextAttemptAt    int64    `json:"next_attempt_at"`
	LastError        string   `json:"last_error,omitempty"`
	HTTPStatus       int      `json:"http_status,omitempty"`
	CentralResponse  string   `json:"central_response,omitempty"`
	CreatedAt        int64    `json:"created_at"`
	UpdatedAt        int64    `json:"updated_at"`
}

// NotificationRecord is the durable record of at most one notification per BookingJob.
type NotificationRecord struct {
	CorrelationID   string            `json:"correlation_id"`
	EmailTo         string            `json:"email_to"`
	State           NotificationState `json:"state"`
	Attempts        int               `json:"attempts"`
	NextAttemptAt   int64             `json:"next_attempt_at"`
	Subject         string            `json:"subject"`
	Body            string            `json:"body"`
	LastError       string            `json:"last_error,omitempty"`
	SimulatedSentAt int64             `json:"simulated_sent_at,omitempty"`
	CreatedAt       int64             `json:"created_at"`
	UpdatedAt       int64             `json:"updated_at"`
}

// JobPatch carries the set of fields an update_job call overwrites. State is
// always written; a nil pointer field leaves the stored value untouched.
type JobPatch struct {
	State               JobState
	Attempts            *int
	NextAttemptAt       *int64
	LastError           *string
	HTTPStatus          *int
	CentralResponse     *string
}

// NotificationPatch carries the set of fields an update_notification call overwrites.
type NotificationPatch struct {
	State           NotificationState
	Attempts        *int
	NextAttemptAt   *int64
	LastError       *string
	Subject         *string
	Body            *string
	SimulatedSentAt *int64
}
