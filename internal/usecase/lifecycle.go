package usecase

import (
	"fmt"

	"github.com/fairyhunter13/ai-job-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// Engine handles the mutation half of the job lifecycle: progress,
// completion, failure with retry accounting, and cancellation.
type Engine struct {
	store  domain.Store
	events domain.Events
	now    func() int64
}

// NewEngine constructs an Engine with its dependencies.
func NewEngine(store domain.Store, events domain.Events) *Engine {
	return &Engine{store: store, events: events, now: domain.NowMillis}
}

// WithClock overrides the Engine's time source, for tests.
func (e *Engine) WithClock(now func() int64) *Engine {
	e.now = now
	return e
}

// Progress records a progress tick under the unconditional ownership check
// and publishes it on the job's ephemeral status channel. The persistent
// stream never sees progress ticks.
func (e *Engine) Progress(ctx domain.Context, jobID, workerID string, progress float64, text string, eta int64) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: progress %v out of range [0,100]", domain.ErrValidation, progress)
	}
	if err := e.store.UpdateProgress(ctx, jobID, workerID, progress, text, eta); err != nil {
		return fmt.Errorf("op=engine.Progress: %w", err)
	}
	e.events.PublishStatus(ctx, domain.JobStatusTopic(jobID), domain.StatusUpdate{
		JobID:     jobID,
		WorkerID:  workerID,
		Status:    string(domain.JobInProgress),
		Progress:  progress,
		Text:      text,
		ETA:       eta,
		Timestamp: e.now(),
	})
	return nil
}

// Complete transitions an owned active job to completed. A repeat call is
// a no-op success and emits nothing.
func (e *Engine) Complete(ctx domain.Context, jobID, workerID string, result []byte) error {
	changed, err := e.store.CompleteJob(ctx, jobID, workerID, result)
	if err != nil {
		return fmt.Errorf("op=engine.Complete: %w", err)
	}
	if !changed {
		return nil
	}
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=engine.Complete: %w", err)
	}
	observability.JobsCompletedTotal.WithLabelValues(j.ServiceRequired).Inc()
	observability.JobsActive.Dec()
	e.events.Publish(ctx, domain.Event{
		Service:  j.ServiceRequired,
		Type:     domain.EventJobCompleted,
		JobID:    jobID,
		WorkerID: workerID,
	})
	e.events.PublishStatus(ctx, domain.JobStatusTopic(jobID), domain.StatusUpdate{
		JobID:     jobID,
		WorkerID:  workerID,
		Status:    string(domain.JobCompleted),
		Progress:  100,
		Timestamp: e.now(),
	})
	return nil
}

// Fail applies the retry policy: requeue with the original score when
// retries remain, terminal failed otherwise. A repeat call on an
// already-failed job is a no-op success and emits nothing.
func (e *Engine) Fail(ctx domain.Context, jobID, workerID, errMsg string, canRetry bool) error {
	j, applied, err := e.store.FailJob(ctx, jobID, workerID, errMsg, canRetry)
	if err != nil {
		return fmt.Errorf("op=engine.Fail: %w", err)
	}
	if !applied {
		return nil
	}
	observability.JobsActive.Dec()
	if j.Status == domain.JobPending {
		observability.JobsRetriedTotal.WithLabelValues(j.ServiceRequired).Inc()
		e.events.Publish(ctx, domain.Event{
			Service:  j.ServiceRequired,
			Type:     domain.EventJobRetry,
			JobID:    jobID,
			WorkerID: workerID,
			Data:     map[string]any{"retry_count": j.RetryCount, "error": errMsg},
		})
		return nil
	}
	observability.JobsFailedTotal.WithLabelValues(j.ServiceRequired, string(domain.JobFailed)).Inc()
	e.events.Publish(ctx, domain.Event{
		Service:  j.ServiceRequired,
		Type:     domain.EventJobFailed,
		JobID:    jobID,
		WorkerID: workerID,
		Data:     map[string]any{"retry_count": j.RetryCount, "error": errMsg},
	})
	e.events.PublishStatus(ctx, domain.JobStatusTopic(jobID), domain.StatusUpdate{
		JobID:     jobID,
		WorkerID:  workerID,
		Status:    string(domain.JobFailed),
		Timestamp: e.now(),
	})
	return nil
}

// Cancel transitions any non-terminal job to cancelled and directs the
// owning worker, if any, to abort. Cancelling a terminal job is a no-op
// success.
func (e *Engine) Cancel(ctx domain.Context, jobID, reason string) error {
	prevWorker, changed, err := e.store.CancelJob(ctx, jobID, reason)
	if err != nil {
		return fmt.Errorf("op=engine.Cancel: %w", err)
	}
	if !changed {
		return nil
	}
	e.events.Publish(ctx, domain.Event{
		Type:     domain.EventJobCancelled,
		JobID:    jobID,
		WorkerID: prevWorker,
		Data:     map[string]any{"reason": reason},
	})
	e.events.PublishStatus(ctx, domain.JobStatusTopic(jobID), domain.StatusUpdate{
		JobID:     jobID,
		Status:    string(domain.JobCancelled),
		Timestamp: e.now(),
	})
	if prevWorker != "" {
		e.events.PublishStatus(ctx, domain.WorkerControlTopic(prevWorker), map[string]any{
			"action": "cancel",
			"job_id": jobID,
			"reason": reason,
		})
	}
	return nil
}

// SyncJobState returns the authoritative job record so a worker can
// reconcile its local view after a reconnect.
func (e *Engine) SyncJobState(ctx domain.Context, jobID string) (domain.Job, error) {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=engine.SyncJobState: %w", err)
	}
	return j, nil
}
