package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookagent.dev/statusapi"
)

func TestCalculateBackoffDoublesAndCaps(t *testing.T) {
	b0 := calculateBackoff(1000, 0)
	assert.GreaterOrEqual(t, b0, int64(1000))
	assert.Less(t, b0, int64(1000+jitterMs+1))

	b1 := calculateBackoff(1000, 1)
	assert.GreaterOrEqual(t, b1, int64(2000))
	assert.Less(t, b1, int64(2000+jitterMs+1))

	capped := calculateBackoff(1000, 30)
	assert.GreaterOrEqual(t, capped, int64(maxBackoffMs))
	assert.Less(t, capped, int64(maxBackoffMs+jitterMs+1))
}

func newTestForwarder(t *testing.T, centralURL string, maxRetries int) (*ForwarderWorker, *Storage) {
	s := openTestStorage(t)
	w := NewForwarderWorker(s, ForwarderConfig{
		CentralAPIURL:    centralURL,
		MaxRetryAttempts: maxRetries,
		InitialBackoffMs: 1000,
	}, nil, NoopLease{}, NoopAuditPublisher{}, testOps(), testLogger())
	return w, s
}

func TestProcessJobConfirmsOnSuccessAndCreatesNotification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"booking_id":"abc"}`))
	}))
	defer server.Close()

	w, s := newTestForwarder(t, server.URL, 5)
	job := &BookingJob{
		CorrelationID:  "corr-ok",
		BookingPayload: []byte(`{"date":"2026-08-01","start_time":"09:00","end_time":"10:00","name":"Jane"}`),
		NotifyPayload:  []byte(`{"email":"jane@example.com"}`),
		State:          JobQueued,
	}
	_, err := s.PutJobIfAbsent(job)
	require.NoError(t, err)

	require.NoError(t, w.processJob(context.Background(), job))

	stored, err := s.GetJob("corr-ok")
	require.NoError(t, err)
	assert.Equal(t, JobConfirmed, stored.State)

	notif, err := s.GetNotification("corr-ok")
	require.NoError(t, err)
	require.NotNil(t, notif)
	assert.Equal(t, "jane@example.com", notif.EmailTo)
}

func TestProcessJobAbortsNotificationWhenEmailMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"booking_id":"abc"}`))
	}))
	defer server.Close()

	w, s := newTestForwarder(t, server.URL, 5)
	job := &BookingJob{
		CorrelationID:  "corr-no-email",
		BookingPayload: []byte(`{"date":"2026-08-01","start_time":"09:00","end_time":"10:00","name":"Jane"}`),
		NotifyPayload:  []byte(`{}`),
		State:          JobQueued,
	}
	_, err := s.PutJobIfAbsent(job)
	require.NoError(t, err)

	err = w.processJob(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing email")

	stored, err := s.GetJob("corr-no-email")
	require.NoError(t, err)
	assert.Equal(t, JobConfirmed, stored.State, "a missing email must abort notification creation without un-confirming the job")

	notif, err := s.GetNotification("corr-no-email")
	require.NoError(t, err)
	assert.Nil(t, notif)
}

func TestProcessJobTracksOperationInStatusLedger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"booking_id":"abc"}`))
	}))
	defer server.Close()

	s := openTestStorage(t)
	ops := testOps()
	w := NewForwarderWorker(s, ForwarderConfig{CentralAPIURL: server.URL, MaxRetryAttempts: 5, InitialBackoffMs: 1000}, nil, NoopLease{}, NoopAuditPublisher{}, ops, testLogger())

	job := &BookingJob{
		CorrelationID:  "corr-tracked",
		BookingPayload: []byte(`{"date":"2026-08-01","start_time":"09:00","end_time":"10:00","name":"Jane"}`),
		NotifyPayload:  []byte(`{"email":"jane@example.com"}`),
		State:          JobQueued,
	}
	_, err := s.PutJobIfAbsent(job)
	require.NoError(t, err)
	require.NoError(t, w.processJob(context.Background(), job))

	op := ops.Get("corr-tracked:forward:0")
	require.NotNil(t, op, "a forward operation must be tracked in the status ledger")
	assert.Equal(t, statusapi.StatusCompleted, op.Status)
}

func TestProcessJobFailsTerminallyOn4xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid slot"}`))
	}))
	defer server.Close()

	w, s := newTestForwarder(t, server.URL, 5)
	job := &BookingJob{
		CorrelationID:  "corr-bad",
		BookingPayload: []byte(`{"date":"2026-08-01","start_time":"09:00","end_time":"10:00","name":"Jane"}`),
		NotifyPayload:  []byte(`{"email":"jane@example.com"}`),
		State:          JobQueued,
	}
	_, err := s.PutJobIfAbsent(job)
	require.NoError(t, err)

	require.NoError(t, w.processJob(context.Background(), job))

	stored, err := s.GetJob("corr-bad")
	require.NoError(t, err)
	assert.Equal(t, JobFailed, stored.State)
	assert.Contains(t, stored.LastError, "HTTP 400")
}

func TestHandleRetrySchedulesBackoffUntilMaxAttempts(t *testing.T) {
	w, s := newTestForwarder(t, "http://unused.invalid", 2)
	_, err := s.PutJobIfAbsent(&BookingJob{CorrelationID: "corr-retry", State: JobQueued})
	require.NoError(t, err)

	require.NoError(t, w.handleRetry("corr-retry", 0, "boom"))
	job, err := s.GetJob("corr-retry")
	require.NoError(t, err)
	assert.Equal(t, JobQueued, job.State)
	assert.Equal(t, 1, job.Attempts)
	assert.Greater(t, job.NextAttemptAt, int64(0))

	require.NoError(t, w.handleRetry("corr-retry", 1, "boom again"))
	require.NoError(t, w.handleRetry("corr-retry", 2, "boom once more"))

	job, err = s.GetJob("corr-retry")
	require.NoError(t, err)
	assert.Equal(t, JobFailed, job.State)
	assert.Contains(t, job.LastError, "Max retries exceeded")
}
