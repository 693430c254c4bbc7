package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"bookagent.dev/logging"
	"bookagent.dev/protocol"
	"bookagent.dev/statusapi"
)

const (
	maxBackoffMs     = 300_000
	jitterMs         = 1000
	forwarderBatch   = 10
	leaseTTL         = 5 * time.Second
	pollInterval     = 1 * time.Second
)

// ForwarderConfig configures a ForwarderWorker.
type ForwarderConfig struct {
	CentralAPIURL     string
	MaxRetryAttempts  int
	InitialBackoffMs  int64
	// RateLimitPerSec, if > 0, caps outbound Central API calls per second.
	RateLimitPerSec float64
}

// ForwarderWorker polls Storage for due BookingJobs and forwards each to the
// Central API, advancing the job state machine (Sending -> Confirmed|Failed,
// or back to Queued with backoff) and creating the NotificationRecord once a
// job is Confirmed.
type ForwarderWorker struct {
	storage    *Storage
	httpClient *http.Client
	cfg        ForwarderConfig
	lease      Lease
	audit      AuditPublisher
	ops        *statusapi.Manager
	limiter    *rate.Limiter
	log        *logging.ContextLogger
}

// NewForwarderWorker constructs a ForwarderWorker. lease and audit may be the
// Noop implementations when their backing services aren't configured. rt
// carries the outbound Central API call - callers pass a transport.Manager
// (or any other http.RoundTripper) so connect-timeout and Ziti-routing
// policy live in one place; a nil rt falls back to http.DefaultTransport.
func NewForwarderWorker(storage *Storage, cfg ForwarderConfig, rt http.RoundTripper, lease Lease, audit AuditPublisher, ops *statusapi.Manager, log *logging.ContextLogger) *ForwarderWorker {
	var limiter *rate.Limiter
	if cfg.RateLimitPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), 1)
	}

	return &ForwarderWorker{
		storage: storage,
		httpClient: &http.Client{
			Transport: rt,
			Timeout:   30 * time.Second,
		},
		cfg:     cfg,
		lease:   lease,
		audit:   audit,
		ops:     ops,
		limiter: limiter,
		log:     log.WithField("component", "forwarder"),
	}
}

// Run polls for due jobs once per second until ctx is cancelled.
func (w *ForwarderWorker) Run(ctx context.Context) {
	w.log.Info("forwarder worker started")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("forwarder worker stopping")
			return
		case <-ticker.C:
			if err := w.processDueJobs(ctx); err != nil {
				w.log.WithField("error", err.Error()).Error("error processing due jobs")
			}
		}
	}
}

func (w *ForwarderWorker) processDueJobs(ctx context.Context) error {
	jobs, err := w.storage.ScanDueJobs(forwarderBatch)
	if err != nil {
		return fmt.Errorf("failed to scan due jobs: %w", err)
	}

	for _, job := range jobs {
		acquired, err := w.lease.TryAcquire(ctx, job.CorrelationID, leaseTTL)
		if err != nil {
			w.log.WithField("correlation_id", job.CorrelationID).WithField("error", err.Error()).
				Warn("lease backend unreachable, proceeding without cross-instance coordination")
		} else if !acquired {
			continue
		}

		if err := w.processJob(ctx, job); err != nil {
			w.log.WithField("correlation_id", job.CorrelationID).WithField("error", err.Error()).
				Error("failed to process job")
		}

		if err == nil {
			_ = w.lease.Release(ctx, job.CorrelationID)
		}
	}

	return nil
}

func (w *ForwarderWorker) processJob(ctx context.Context, job *BookingJob) error {
	opID := fmt.Sprintf("%s:forward:%d", job.CorrelationID, job.Attempts)
	w.ops.Start(opID, "forward", map[string]interface{}{"correlation_id": job.CorrelationID})
	err := w.doProcessJob(ctx, job)
	w.ops.Complete(opID, err)
	return err
}

func (w *ForwarderWorker) doProcessJob(ctx context.Context, job *BookingJob) error {
	log := w.log.WithField("correlation_id", job.CorrelationID).WithField("attempts", job.Attempts)
	log.Info("processing booking job")

	if err := w.storage.UpdateJob(job.CorrelationID, JobPatch{State: JobSending}); err != nil {
		return fmt.Errorf("failed to mark job sending: %w", err)
	}
	w.publishAudit(job.CorrelationID, "job", string(JobSending), job.Attempts)

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait aborted: %w", err)
		}
	}

	var booking protocol.BookingData
	if err := json.Unmarshal(job.BookingPayload, &booking); err != nil {
		return fmt.Errorf("failed to parse booking payload: %w", err)
	}

	body, err := json.Marshal(booking)
	if err != nil {
		return fmt.Errorf("failed to marshal central API request body: %w", err)
	}

	url := w.cfg.CentralAPIURL + "/appointments/book-range"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build central API request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.WithField("url", url).Info("sending request to central API")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		log.WithField("error", err.Error()).Warn("network error forwarding job, will retry")
		return w.handleRetry(job.CorrelationID, job.Attempts, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithField("error", err.Error()).Warn("failed to read central API response body")
		return w.handleRetry(job.CorrelationID, job.Attempts, err.Error())
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		log.WithField("http_status", resp.StatusCode).Info("job forwarded successfully to central API")
		respStr := string(respBody)
		if err := w.storage.UpdateJob(job.CorrelationID, JobPatch{
			State:           JobConfirmed,
			HTTPStatus:      &resp.StatusCode,
			CentralResponse: &respStr,
		}); err != nil {
			return fmt.Errorf("failed to mark job confirmed: %w", err)
		}
		w.publishAudit(job.CorrelationID, "job", string(JobConfirmed), job.Attempts)
		return w.createNotification(job.CorrelationID, job.NotifyPayload)
	}

	// 4xx/5xx responses are terminal - the Central API has rejected the
	// request outright, and retrying an identical request will not change
	// its answer.
	log.WithField("http_status", resp.StatusCode).Warn("http error from central API, marking job failed")
	lastErr := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody))
	respStr := string(respBody)
	status := resp.StatusCode
	if err := w.storage.UpdateJob(job.CorrelationID, JobPatch{
		State:           JobFailed,
		LastError:       &lastErr,
		HTTPStatus:      &status,
		CentralResponse: &respStr,
	}); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	w.publishAudit(job.CorrelationID, "job", string(JobFailed), job.Attempts)
	return nil
}

func (w *ForwarderWorker) handleRetry(correlationID string, currentAttempts int, lastErr string) error {
	newAttempts := currentAttempts + 1

	if newAttempts > w.cfg.MaxRetryAttempts {
		w.log.WithField("correlation_id", correlationID).WithField("attempts", newAttempts).
			Error("max retry attempts exceeded, marking job failed")
		msg := fmt.Sprintf("Max retries exceeded: %s", lastErr)
		if err := w.storage.UpdateJob(correlationID, JobPatch{
			State:     JobFailed,
			Attempts:  &newAttempts,
			LastError: &msg,
		}); err != nil {
			return fmt.Errorf("failed to mark job failed after max retries: %w", err)
		}
		w.publishAudit(correlationID, "job", string(JobFailed), newAttempts)
		return nil
	}

	delay := calculateBackoff(w.cfg.InitialBackoffMs, newAttempts)
	nextAttemptAt := nowMillis() + delay

	w.log.WithField("correlation_id", correlationID).WithField("attempts", newAttempts).
		WithField("next_attempt_at", nextAttemptAt).Warn("scheduling retry with exponential backoff")

	if err := w.storage.UpdateJob(correlationID, JobPatch{
		State:         JobQueued,
		Attempts:      &newAttempts,
		NextAttemptAt: &nextAttemptAt,
		LastError:     &lastErr,
	}); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	w.publishAudit(correlationID, "job", string(JobQueued), newAttempts)
	return nil
}

// calculateBackoff implements backoff_ms = min(initial * 2^min(attempts,20), max) + U(0,jitter).
func calculateBackoff(initialBackoffMs int64, attempts int) int64 {
	shift := attempts
	if shift > 20 {
		shift = 20
	}
	base := initialBackoffMs * (1 << uint(shift))
	if base > maxBackoffMs {
		base = maxBackoffMs
	}
	jitter := rand.Int63n(jitterMs + 1)
	return base + jitter
}

func (w *ForwarderWorker) createNotification(correlationID string, notifyPayload []byte) error {
	var notify protocol.NotifyData
	if err := json.Unmarshal(notifyPayload, &notify); err != nil {
		return fmt.Errorf("failed to parse notify payload: %w", err)
	}
	if notify.Email == "" {
		return fmt.Errorf("missing email in notify data for %s", correlationID)
	}

	now := nowMillis()
	notif := &NotificationRecord{
		CorrelationID: correlationID,
		EmailTo:       notify.Email,
		State:         NotificationPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if _, err := w.storage.PutNotificationIfAbsent(notif); err != nil {
		return fmt.Errorf("failed to persist notification: %w", err)
	}
	w.log.WithField("correlation_id", correlationID).Info("notification record created in outbox")
	return nil
}

func (w *ForwarderWorker) publishAudit(correlationID, kind, state string, attempts int) {
	if err := w.audit.Publish(AuditEvent{
		CorrelationID: correlationID,
		Kind:          kind,
		State:         state,
		Attempts:      attempts,
		OccurredAt:    nowMillis(),
	}); err != nil {
		w.log.WithField("correlation_id", correlationID).WithField("error", err.Error()).
			Warn("failed to publish audit event")
	}
}
