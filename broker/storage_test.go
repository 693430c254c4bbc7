package broker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bookagent.db")
	s, err := OpenStorage(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutJobIfAbsentIsIdempotent(t *testing.T) {
	s := openTestStorage(t)
	job := &BookingJob{CorrelationID: "corr-1", State: JobQueued, NextAttemptAt: 100}

	inserted, err := s.PutJobIfAbsent(job)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.PutJobIfAbsent(&BookingJob{CorrelationID: "corr-1", State: JobQueued, NextAttemptAt: 999})
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err := s.GetJob("corr-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(100), stored.NextAttemptAt)
}

func TestGetJobMissingReturnsNilNil(t *testing.T) {
	s := openTestStorage(t)
	job, err := s.GetJob("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestUpdateJobAppliesPatch(t *testing.T) {
	s := openTestStorage(t)
	_, err := s.PutJobIfAbsent(&BookingJob{CorrelationID: "corr-2", State: JobQueued, NextAttemptAt: 0})
	require.NoError(t, err)

	attempts := 1
	lastErr := "network timeout"
	err = s.UpdateJob("corr-2", JobPatch{State: JobQueued, Attempts: &attempts, LastError: &lastErr})
	require.NoError(t, err)

	job, err := s.GetJob("corr-2")
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "network timeout", job.LastError)
}

func TestUpdateJobMissingErrors(t *testing.T) {
	s := openTestStorage(t)
	err := s.UpdateJob("ghost", JobPatch{State: JobFailed})
	assert.Error(t, err)
}

func TestScanDueJobsOrdersAndFilters(t *testing.T) {
	s := openTestStorage(t)

	_, _ = s.PutJobIfAbsent(&BookingJob{CorrelationID: "b", State: JobQueued, NextAttemptAt: 100})
	_, _ = s.PutJobIfAbsent(&BookingJob{CorrelationID: "a", State: JobQueued, NextAttemptAt: 100})
	_, _ = s.PutJobIfAbsent(&BookingJob{CorrelationID: "future", State: JobQueued, NextAttemptAt: nowMillis() + 60_000})
	_, _ = s.PutJobIfAbsent(&BookingJob{CorrelationID: "sent", State: JobSending, NextAttemptAt: 0})

	due, err := s.ScanDueJobs(10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].CorrelationID)
	assert.Equal(t, "b", due[1].CorrelationID)
}

func TestScanDueJobsRespectsLimit(t *testing.T) {
	s := openTestStorage(t)
	for _, id := range []string{"a", "b", "c"} {
		_, _ = s.PutJobIfAbsent(&BookingJob{CorrelationID: id, State: JobQueued, NextAttemptAt: 0})
	}

	due, err := s.ScanDueJobs(2)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestNotificationLifecycle(t *testing.T) {
	s := openTestStorage(t)
	notif := &NotificationRecord{CorrelationID: "corr-3", State: NotificationPending, NextAttemptAt: 0}

	inserted, err := s.PutNotificationIfAbsent(notif)
	require.NoError(t, err)
	assert.True(t, inserted)

	due, err := s.ScanDueNotifications(10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "corr-3", due[0].CorrelationID)

	subject := "Booking Confirmed"
	err = s.UpdateNotification("corr-3", NotificationPatch{State: NotificationSimulatedSent, Subject: &subject})
	require.NoError(t, err)

	due, err = s.ScanDueNotifications(10)
	require.NoError(t, err)
	assert.Len(t, due, 0)

	stored, err := s.GetNotification("corr-3")
	require.NoError(t, err)
	assert.Equal(t, NotificationSimulatedSent, stored.State)
	assert.Equal(t, "Booking Confirmed", stored.Subject)
}
