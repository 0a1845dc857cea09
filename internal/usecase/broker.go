// Package usecase contains the broker's application services: submission
// and claiming, the worker registry, the job lifecycle engine, and the
// recovery supervisor.
package usecase

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/ai-job-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// SubmitRequest carries a client's job submission.
type SubmitRequest struct {
	ServiceRequired string
	Priority        int
	Payload         []byte
	Requirements    []string
	CustomerID      string
	MaxRetries      *int
	TimeoutMillis   int64

	WorkflowID       string
	WorkflowPriority int
	WorkflowDatetime int64
	StepNumber       int
}

// Broker handles submission, atomic claim, release, and requeue.
type Broker struct {
	store  domain.Store
	events domain.Events

	defaultMaxRetries int
	defaultTimeout    time.Duration
	now               func() int64
}

// NewBroker constructs a Broker with its dependencies and defaults.
func NewBroker(store domain.Store, events domain.Events, defaultMaxRetries int, defaultTimeout time.Duration) *Broker {
	if defaultMaxRetries < 0 {
		defaultMaxRetries = 3
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Minute
	}
	return &Broker{
		store:             store,
		events:            events,
		defaultMaxRetries: defaultMaxRetries,
		defaultTimeout:    defaultTimeout,
		now:               domain.NowMillis,
	}
}

// WithClock overrides the Broker's time source, for tests.
func (b *Broker) WithClock(now func() int64) *Broker {
	b.now = now
	return b
}

// Submit validates the request, creates the workflow when needed, writes
// the job atomically into the pending queue, and publishes job.submitted.
func (b *Broker) Submit(ctx domain.Context, req SubmitRequest) (domain.Job, error) {
	if req.ServiceRequired == "" {
		return domain.Job{}, fmt.Errorf("%w: service_required is required", domain.ErrValidation)
	}
	now := b.now()

	j := domain.Job{
		ID:              ulid.Make().String(),
		ServiceRequired: req.ServiceRequired,
		Priority:        req.Priority,
		Payload:         req.Payload,
		Requirements:    req.Requirements,
		CustomerID:      req.CustomerID,
		MaxRetries:      b.defaultMaxRetries,
		TimeoutMillis:   req.TimeoutMillis,
		CreatedAt:       now,
		UpdatedAt:       now,
		Status:          domain.JobQueued,
		StepNumber:      req.StepNumber,
	}
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		j.MaxRetries = *req.MaxRetries
	}
	if j.TimeoutMillis <= 0 {
		j.TimeoutMillis = b.defaultTimeout.Milliseconds()
	}

	if req.WorkflowID != "" {
		wf, err := b.ensureWorkflow(ctx, req, now)
		if err != nil {
			return domain.Job{}, err
		}
		j.WorkflowID = wf.ID
		j.WorkflowPriority = wf.Priority
		j.WorkflowDatetime = wf.Datetime
	}

	if err := b.store.SubmitJob(ctx, j); err != nil {
		return domain.Job{}, fmt.Errorf("op=broker.Submit: %w", err)
	}

	observability.JobsSubmittedTotal.WithLabelValues(j.ServiceRequired).Inc()
	b.events.Publish(ctx, domain.Event{
		Service: j.ServiceRequired,
		Type:    domain.EventJobSubmitted,
		JobID:   j.ID,
		Data:    map[string]any{"priority": j.Priority, "workflow_id": j.WorkflowID},
	})
	return j, nil
}

// ensureWorkflow loads the workflow, creating it first when absent. An
// existing record always wins so sibling submissions agree on priority and
// datetime.
func (b *Broker) ensureWorkflow(ctx domain.Context, req SubmitRequest, now int64) (domain.Workflow, error) {
	wf := domain.Workflow{
		ID:         req.WorkflowID,
		Priority:   req.WorkflowPriority,
		Datetime:   req.WorkflowDatetime,
		Status:     domain.WorkflowActive,
		CustomerID: req.CustomerID,
	}
	if wf.Datetime == 0 {
		wf.Datetime = now
	}
	if err := b.store.CreateWorkflow(ctx, wf); err != nil {
		return domain.Workflow{}, fmt.Errorf("op=broker.ensureWorkflow: %w", err)
	}
	return b.store.GetWorkflow(ctx, req.WorkflowID)
}

// Claim atomically assigns the next eligible job to the worker. Returns
// nil when nothing is eligible.
func (b *Broker) Claim(ctx domain.Context, workerID string, caps domain.Capabilities) (*domain.Job, error) {
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker_id is required", domain.ErrValidation)
	}
	j, err := b.store.ClaimNext(ctx, workerID, caps)
	if err != nil {
		return nil, fmt.Errorf("op=broker.Claim: %w", err)
	}
	if j == nil {
		return nil, nil
	}
	observability.JobsClaimedTotal.WithLabelValues(j.ServiceRequired).Inc()
	observability.JobsActive.Inc()
	b.events.Publish(ctx, domain.Event{
		Service:  j.ServiceRequired,
		Type:     domain.EventJobAssigned,
		JobID:    j.ID,
		WorkerID: workerID,
		Data:     map[string]any{"priority": j.Priority},
	})
	return j, nil
}

// Release returns an active job to the pending queue without touching its
// retry count. Used when a worker disconnects gracefully mid-claim.
func (b *Broker) Release(ctx domain.Context, jobID string) error {
	changed, err := b.store.ReleaseJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=broker.Release: %w", err)
	}
	if changed {
		observability.JobsActive.Dec()
		b.events.Publish(ctx, domain.Event{Type: domain.EventJobReleased, JobID: jobID})
	}
	return nil
}

// RequeueUnworkable reinserts a job no current worker can handle, clearing
// last_failed_worker so any future worker may take it.
func (b *Broker) RequeueUnworkable(ctx domain.Context, jobID string) error {
	if err := b.store.RequeueUnworkable(ctx, jobID); err != nil {
		return fmt.Errorf("op=broker.RequeueUnworkable: %w", err)
	}
	b.events.Publish(ctx, domain.Event{Type: domain.EventJobRequeued, JobID: jobID})
	return nil
}
