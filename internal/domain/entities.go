// Package domain defines the broker's entities, error taxonomy, and ports.
package domain

import (
	"context"
	"time"
)

// JobStatus enumerates the job lifecycle states.
type JobStatus string

const (
	// JobPending means the job is waiting in the pending queue after a retry or release.
	JobPending JobStatus = "pending"
	// JobQueued means the job has been submitted and is waiting in the pending queue.
	JobQueued JobStatus = "queued"
	// JobAssigned means a worker has claimed the job but not yet reported progress.
	JobAssigned JobStatus = "assigned"
	// JobInProgress means the owning worker has reported at least one progress update.
	JobInProgress JobStatus = "in_progress"
	// JobCompleted is terminal: the job finished successfully.
	JobCompleted JobStatus = "completed"
	// JobFailed is terminal: the job failed and retries are exhausted or disallowed.
	JobFailed JobStatus = "failed"
	// JobCancelled is terminal: the job was cancelled by a client or operator.
	JobCancelled JobStatus = "cancelled"
	// JobTimeout is terminal: the job exceeded its timeout budget.
	JobTimeout JobStatus = "timeout"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobTimeout:
		return true
	}
	return false
}

// IsActive reports whether the job is owned by a worker.
// Invariant: WorkerID is set iff the status is active.
func (s JobStatus) IsActive() bool {
	return s == JobAssigned || s == JobInProgress
}

// Job is a unit of work executed by exactly one worker at a time.
// All timestamps are epoch milliseconds; conversion to time.Time happens
// only at the boundary.
type Job struct {
	ID              string
	ServiceRequired string
	Priority        int
	Payload         []byte
	Requirements    []string
	CustomerID      string
	MaxRetries      int
	RetryCount      int
	TimeoutMillis   int64
	CreatedAt       int64
	StartedAt       int64
	CompletedAt     int64
	UpdatedAt       int64

	WorkflowID       string
	WorkflowPriority int
	WorkflowDatetime int64
	StepNumber       int

	Status              JobStatus
	WorkerID            string
	ServiceJobID        string
	Progress            float64
	StatusText          string
	EstimatedCompletion int64
	Result              []byte
	LastError           string
	LastFailedWorker    string
}

// priorityWeight spreads priority far above any epoch-millisecond timestamp so
// that priority always dominates age in the pending-queue score.
const priorityWeight = 1e13

// Score computes the pending-queue score for the job. Lower score means
// higher precedence: priority first (workflow priority overrides when the
// job belongs to a workflow), then workflow age, then FIFO on creation
// time. ULID job ids tie-break equal scores in creation order.
func (j Job) Score() float64 {
	prio := j.Priority
	ts := j.CreatedAt
	if j.WorkflowID != "" {
		if j.WorkflowPriority != 0 {
			prio = j.WorkflowPriority
		}
		if j.WorkflowDatetime != 0 {
			ts = j.WorkflowDatetime
		}
	}
	return -float64(prio)*priorityWeight + float64(ts)
}

// WorkflowStatus enumerates workflow states.
type WorkflowStatus string

const (
	// WorkflowActive means the workflow still has non-terminal jobs.
	WorkflowActive WorkflowStatus = "active"
	// WorkflowCompleted means every job in the workflow completed.
	WorkflowCompleted WorkflowStatus = "completed"
	// WorkflowFailed means at least one job in the workflow terminally failed.
	WorkflowFailed WorkflowStatus = "failed"
)

// Workflow groups jobs that share a priority and submission timestamp so the
// scheduler can age-bias whole workflows together.
type Workflow struct {
	ID         string
	Priority   int
	Datetime   int64
	Status     WorkflowStatus
	CustomerID string
}

// WorkerStatus enumerates worker lifecycle states.
type WorkerStatus string

const (
	// WorkerStarting means the worker connected but has not finished registering.
	WorkerStarting WorkerStatus = "starting"
	// WorkerIdle means the worker is ready for a claim.
	WorkerIdle WorkerStatus = "idle"
	// WorkerBusy means the worker owns at least one active job.
	WorkerBusy WorkerStatus = "busy"
	// WorkerOffline means the worker's heartbeat expired or it disconnected.
	WorkerOffline WorkerStatus = "offline"
)

// Capabilities is the tag set a worker advertises. Services name the
// connectors the worker can drive; Tags carry resource labels (gpu, sdxl, …).
// The broker treats both purely as membership tests.
type Capabilities struct {
	Services []string `json:"services"`
	Tags     []string `json:"tags"`
}

// HasService reports whether the worker can execute the given service.
func (c Capabilities) HasService(service string) bool {
	for _, s := range c.Services {
		if s == service {
			return true
		}
	}
	return false
}

// HasAllTags reports whether every required tag is advertised.
func (c Capabilities) HasAllTags(required []string) bool {
	for _, want := range required {
		found := false
		for _, t := range c.Tags {
			if t == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Worker is a registered job executor.
type Worker struct {
	ID              string
	Capabilities    Capabilities
	Status          WorkerStatus
	CurrentJobs     []string
	ConnectedAt     int64
	LastHeartbeatAt int64
	SystemInfo      []byte
	JobsCompleted   int64
	JobsFailed      int64
}

// NowMillis returns the current time as epoch milliseconds, the internal
// timestamp representation throughout the broker.
func NowMillis() int64 { return time.Now().UnixMilli() }

// Context aliases the standard context so domain signatures stay short.
type Context = context.Context
