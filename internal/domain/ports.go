package domain

// JobStore exposes the atomic job primitives. Every multi-key mutation runs
// as a server-side atomic script; per-job operations are serialised by the
// store so a claim, progress, completion, and failure on the same job appear
// in a total order.
type JobStore interface {
	// SubmitJob writes the job record and places it in the pending queue
	// with its computed score, atomically.
	SubmitJob(ctx Context, j Job) error
	// ClaimNext atomically assigns the highest-precedence eligible pending
	// job to the worker. Returns nil when nothing within the scan depth is
	// eligible.
	ClaimNext(ctx Context, workerID string, caps Capabilities) (*Job, error)
	GetJob(ctx Context, jobID string) (Job, error)
	// UpdateProgress records a progress tick. Returns ErrStaleUpdate when
	// the job is not active, is owned by another worker, or the reported
	// progress regressed within the current ownership epoch.
	UpdateProgress(ctx Context, jobID, workerID string, progress float64, text string, eta int64) error
	// CompleteJob transitions an owned active job to completed. A repeat
	// call with the same owner is a no-op success with changed=false.
	CompleteJob(ctx Context, jobID, workerID string, result []byte) (changed bool, err error)
	// FailJob applies the retry policy: requeue with an incremented retry
	// count, or terminal failed when retries are disallowed or exhausted.
	// The returned job reflects the post-transition record. A repeat call
	// on an already-failed job is a no-op success with applied=false.
	FailJob(ctx Context, jobID, workerID, errMsg string, canRetry bool) (j Job, applied bool, err error)
	// CancelJob transitions any non-terminal job to cancelled. On a
	// terminal job it is a no-op success with changed=false. prevWorker
	// names the owner at cancellation time, for the directed abort.
	CancelJob(ctx Context, jobID, reason string) (prevWorker string, changed bool, err error)
	// TimeoutJob terminalises an active job as timeout.
	TimeoutJob(ctx Context, jobID string) (prevWorker string, changed bool, err error)
	// ForceFailJob terminalises a job as failed without an owner check.
	// Reserved for invariant repair by the recovery supervisor.
	ForceFailJob(ctx Context, jobID, reason string) (prevWorker string, changed bool, err error)
	// ReleaseJob returns an active job to the pending queue without
	// touching the retry count. Used for graceful worker disconnects.
	ReleaseJob(ctx Context, jobID string) (changed bool, err error)
	// RequeueUnworkable clears last_failed_worker and reinserts the job
	// with its preserved score so a future worker can take it.
	RequeueUnworkable(ctx Context, jobID string) error
	// FinalizeExternal completes an orphaned job with a result reported by
	// the external service, without an owner check. Terminal jobs are left
	// untouched.
	FinalizeExternal(ctx Context, jobID string, result []byte) (changed bool, err error)
	// SetServiceJobID records the external correlation id. Once set it is
	// never rewritten.
	SetServiceJobID(ctx Context, jobID, serviceJobID string) error

	GetPendingJobs(ctx Context, limit int64) ([]Job, error)
	GetActiveJobs(ctx Context, workerID string) ([]Job, error)
	GetAllJobs(ctx Context, limit int64) ([]Job, error)
	GetJobsByStatus(ctx Context, statuses []JobStatus, limit int64) ([]Job, error)
}

// WorkerStore exposes the worker registry primitives.
type WorkerStore interface {
	// RegisterWorker upserts the worker record, marks it idle, and seeds
	// the heartbeat. Idempotent.
	RegisterWorker(ctx Context, w Worker) error
	GetWorker(ctx Context, workerID string) (Worker, error)
	GetWorkers(ctx Context) ([]Worker, error)
	UpdateWorkerStatus(ctx Context, workerID string, status WorkerStatus) error
	UpdateWorkerHeartbeat(ctx Context, workerID string, systemInfo []byte) error
	RemoveWorker(ctx Context, workerID string) error
	// GetStaleWorkers returns workers whose last heartbeat predates the
	// cutoff (epoch ms) and which are not already offline.
	GetStaleWorkers(ctx Context, cutoff int64) ([]Worker, error)
	// ArchiveWorker preserves the worker's historical counters in the
	// graveyard archive and removes it from the registry.
	ArchiveWorker(ctx Context, workerID string) error
}

// WorkflowStore exposes workflow grouping primitives.
type WorkflowStore interface {
	// CreateWorkflow creates the workflow if absent; an existing record wins.
	CreateWorkflow(ctx Context, wf Workflow) error
	GetWorkflow(ctx Context, workflowID string) (Workflow, error)
	UpdateWorkflowStatus(ctx Context, workflowID string, status WorkflowStatus) error
}

// Store is the full state-store port. The Redis adapter is the only
// component allowed to touch the underlying store.
type Store interface {
	JobStore
	WorkerStore
	WorkflowStore
}

// EventsPage is the result of a monitor resync request. When
// OldestAvailable is newer than the requested since-timestamp the monitor
// must reconcile with a full snapshot instead.
type EventsPage struct {
	Events          []Event
	HasMore         bool
	OldestAvailable int64
}

// Events is the event-fabric port. Publish and PublishStatus are
// fire-and-forget from the caller's perspective: implementations log
// failures and never let them surface into job mutations.
type Events interface {
	// Publish appends a lifecycle event to the persistent stream
	// (mirrored to the error stream for error events) and fans it out to
	// attached monitors.
	Publish(ctx Context, e Event)
	// PublishStatus sends a payload on an ephemeral status channel.
	PublishStatus(ctx Context, topic string, payload any)
	// EventsSince replays persistent events at or after since (epoch ms),
	// up to limit.
	EventsSince(ctx Context, since int64, limit int64) (EventsPage, error)
}

// ExternalState is the connector-reported state of an external job.
type ExternalState string

const (
	ExternalRunning   ExternalState = "running"
	ExternalCompleted ExternalState = "completed"
	ExternalFailed    ExternalState = "failed"
	ExternalNotFound  ExternalState = "not_found"
)

// ExternalStatus is the connector's answer to a status query.
type ExternalStatus struct {
	State  ExternalState
	Result []byte
	Error  string
}

// ConnectorCapabilities advertises what a connector can do. The recovery
// supervisor refuses to reconcile jobs whose connector lacks status queries.
type ConnectorCapabilities struct {
	Services            []string
	Tags                []string
	SupportsStatusQuery bool
	SupportsCancel      bool
}

// Connector is the worker-side adapter to an external execution service.
type Connector interface {
	Capabilities() ConnectorCapabilities
	// Submit hands the payload to the external service and returns the
	// correlation id it assigned.
	Submit(ctx Context, payload []byte) (serviceJobID string, err error)
	// QueryStatus is mandatory when SupportsStatusQuery is true.
	QueryStatus(ctx Context, serviceJobID string) (ExternalStatus, error)
	// Cancel is best-effort.
	Cancel(ctx Context, serviceJobID string) error
}

// ConnectorRegistry resolves the connector for a service tag.
type ConnectorRegistry interface {
	ConnectorFor(service string) (Connector, bool)
}

// EventArchiver forwards terminal lifecycle events to a long-term sink.
// The sink is optional; a nil archiver disables archiving.
type EventArchiver interface {
	Archive(ctx Context, e Event) error
	Close() error
}
