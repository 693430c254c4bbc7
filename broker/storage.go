package broker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bucketBookingJobs        = "booking_jobs"
	bucketNotificationOutbox = "notification_outbox"
)

// Storage is the embedded, crash-safe key-value store backing the broker. Each
// bucket is a logical namespace keyed by correlation_id; every mutating
// operation commits inside a single bbolt read-write transaction, which is
// also the store's fsync-before-return durability point.
type Storage struct {
	db *bolt.DB
}

// OpenStorage opens (creating if absent) the bbolt file at path, creating its
// parent directory if missing, and ensures both broker buckets exist.
func OpenStorage(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory for %s: %w", path, err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage at %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketBookingJobs)); err != nil {
			return fmt.Errorf("failed to create %s bucket: %w", bucketBookingJobs, err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketNotificationOutbox)); err != nil {
			return fmt.Errorf("failed to create %s bucket: %w", bucketNotificationOutbox, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

// Close closes the underlying database file.
func (s *Storage) Close() error {
	return s.db.Close()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// PutJobIfAbsent inserts job only if correlation_id is not already present.
// Returns inserted=false, with no error, when a record already exists -
// this is the idempotency boundary the SubmitHandler relies on. The
// transaction commit is the durability flush; callers may ACK once this
// returns with inserted=true and err==nil.
func (s *Storage) PutJobIfAbsent(job *BookingJob) (inserted bool, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBookingJobs))
		if b.Get([]byte(job.CorrelationID)) != nil {
			inserted = false
			return nil
		}
		data, merr := json.Marshal(job)
		if merr != nil {
			return fmt.Errorf("failed to marshal booking job: %w", merr)
		}
		if perr := b.Put([]byte(job.CorrelationID), data); perr != nil {
			return fmt.Errorf("failed to insert booking job: %w", perr)
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// GetJob fetches a job by correlation_id. Returns (nil, nil) if absent.
func (s *Storage) GetJob(correlationID string) (*BookingJob, error) {
	var job *BookingJob
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBookingJobs))
		data := b.Get([]byte(correlationID))
		if data == nil {
			return nil
		}
		var j BookingJob
		if err := json.Unmarshal(data, &j); err != nil {
			return fmt.Errorf("failed to unmarshal booking job %s: %w", correlationID, err)
		}
		job = &j
		return nil
	})
	return job, err
}

// UpdateJob performs a read-modify-write of the job's mutable fields, bumps
// UpdatedAt, and commits before returning. Returns an error if the job does
// not exist.
func (s *Storage) UpdateJob(correlationID string, patch JobPatch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBookingJobs))
		data := b.Get([]byte(correlationID))
		if data == nil {
			return fmt.Errorf("job not found: %s", correlationID)
		}
		var job BookingJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to unmarshal booking job %s: %w", correlationID, err)
		}

		job.State = patch.State
		if patch.Attempts != nil {
			job.Attempts = *patch.Attempts
		}
		if patch.NextAttemptAt != nil {
			job.NextAttemptAt = *patch.NextAttemptAt
		}
		if patch.LastError != nil {
			job.LastError = *patch.LastError
		}
		if patch.HTTPStatus != nil {
			job.HTTPStatus = *patch.HTTPStatus
		}
		if patch.CentralResponse != nil {
			job.CentralResponse = *patch.CentralResponse
		}
		job.UpdatedAt = nowMillis()

		newData, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("failed to marshal updated booking job: %w", err)
		}
		return b.Put([]byte(correlationID), newData)
	})
}

// ScanDueJobs returns up to limit jobs with state=Queued and NextAttemptAt <=
// now, ordered by NextAttemptAt then CorrelationID. Unlike the original
// prototype, there is no sibling index key to skip - the bucket holds only
// typed records and the filter runs directly against them inside a single
// read-only (MVCC-consistent) transaction.
func (s *Storage) ScanDueJobs(limit int) ([]*BookingJob, error) {
	now := nowMillis()
	var due []*BookingJob

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBookingJobs))
		return b.ForEach(func(k, v []byte) error {
			var job BookingJob
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("failed to unmarshal booking job %s: %w", k, err)
			}
			if job.State == JobQueued && job.NextAttemptAt <= now {
				due = append(due, &job)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].NextAttemptAt != due[j].NextAttemptAt {
			return due[i].NextAttemptAt < due[j].NextAttemptAt
		}
		return due[i].CorrelationID < due[j].CorrelationID
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// PutNotificationIfAbsent inserts notif only if one does not already exist
// for its correlation_id.
func (s *Storage) PutNotificationIfAbsent(notif *NotificationRecord) (inserted bool, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketNotificationOutbox))
		if b.Get([]byte(notif.CorrelationID)) != nil {
			inserted = false
			return nil
		}
		data, merr := json.Marshal(notif)
		if merr != nil {
			return fmt.Errorf("failed to marshal notification: %w", merr)
		}
		if perr := b.Put([]byte(notif.CorrelationID), data); perr != nil {
			return fmt.Errorf("failed to insert notification: %w", perr)
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// GetNotification fetches a notification by correlation_id. Returns (nil, nil) if absent.
func (s *Storage) GetNotification(correlationID string) (*NotificationRecord, error) {
	var notif *NotificationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketNotificationOutbox))
		data := b.Get([]byte(correlationID))
		if data == nil {
			return nil
		}
		var n NotificationRecord
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("failed to unmarshal notification %s: %w", correlationID, err)
		}
		notif = &n
		return nil
	})
	return notif, err
}

// UpdateNotification performs a read-modify-write of the notification's
// mutable fields, bumps UpdatedAt, and commits before returning.
func (s *Storage) UpdateNotification(correlationID string, patch NotificationPatch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketNotificationOutbox))
		data := b.Get([]byte(correlationID))
		if data == nil {
			return fmt.Errorf("notification not found: %s", correlationID)
		}
		var notif NotificationRecord
		if err := json.Unmarshal(data, &notif); err != nil {
			return fmt.Errorf("failed to unmarshal notification %s: %w", correlationID, err)
		}

		notif.State = patch.State
		if patch.Attempts != nil {
			notif.Attempts = *patch.Attempts
		}
		if patch.NextAttemptAt != nil {
			notif.NextAttemptAt = *patch.NextAttemptAt
		}
		if patch.LastError != nil {
			notif.LastError = *patch.LastError
		}
		if patch.Subject != nil {
			notif.Subject = *patch.Subject
		}
		if patch.Body != nil {
			notif.Body = *patch.Body
		}
		if patch.SimulatedSentAt != nil {
			notif.SimulatedSentAt = *patch.SimulatedSentAt
		}
		notif.UpdatedAt = nowMillis()

		newData, err := json.Marshal(&notif)
		if err != nil {
			return fmt.Errorf("failed to marshal updated notification: %w", err)
		}
		return b.Put([]byte(correlationID), newData)
	})
}

// ScanDueNotifications returns up to limit notifications with state=Pending
// and NextAttemptAt <= now, ordered by NextAttemptAt then CorrelationID.
func (s *Storage) ScanDueNotifications(limit int) ([]*NotificationRecord, error) {
	now := nowMillis()
	var due []*NotificationRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketNotificationOutbox))
		return b.ForEach(func(k, v []byte) error {
			var notif NotificationRecord
			if err := json.Unmarshal(v, &notif); err != nil {
				return fmt.Errorf("failed to unmarshal notification %s: %w", k, err)
			}
			if notif.State == NotificationPending && notif.NextAttemptAt <= now {
				due = append(due, &notif)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].NextAttemptAt != due[j].NextAttemptAt {
			return due[i].NextAttemptAt < due[j].NextAttemptAt
		}
		return due[i].CorrelationID < due[j].CorrelationID
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}
