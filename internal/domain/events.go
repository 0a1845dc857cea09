package domain

import "fmt"

// EventType names a lifecycle transition carried on the persistent stream.
type EventType string

const (
	EventJobSubmitted  EventType = "job.submitted"
	EventJobAssigned   EventType = "job.assigned"
	EventJobCompleted  EventType = "job.completed"
	EventJobFailed     EventType = "job.failed"
	EventJobRetry      EventType = "job.retry"
	EventJobCancelled  EventType = "job.cancelled"
	EventJobTimeout    EventType = "job.timeout"
	EventJobReleased   EventType = "job.released"
	EventJobRequeued   EventType = "job.requeued"
	EventWorkerConnected    EventType = "worker.connected"
	EventWorkerDisconnected EventType = "worker.disconnected"
	EventWorkerOffline      EventType = "worker.offline"
	EventWorkerRemoved      EventType = "worker.removed"
	EventRecoveryAction     EventType = "recovery.action"
)

// Event is a persistent stream entry. The stream is a derived view: a failed
// publish must never block or fail the job mutation that produced it.
type Event struct {
	Timestamp int64          `json:"timestamp"`
	Service   string         `json:"service,omitempty"`
	Type      EventType      `json:"event_type"`
	TraceID   string         `json:"trace_id"`
	JobID     string         `json:"job_id,omitempty"`
	WorkerID  string         `json:"worker_id,omitempty"`
	MachineID string         `json:"machine_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// IsError reports whether the event should be mirrored to the error stream,
// which keeps a longer retention window.
func (e Event) IsError() bool {
	switch e.Type {
	case EventJobFailed, EventJobTimeout:
		return true
	}
	return false
}

// StatusUpdate is an ephemeral status-channel payload. No persistence, no
// delivery guarantee without a subscriber; consumers order by Timestamp and
// drop stale updates.
type StatusUpdate struct {
	JobID     string  `json:"job_id"`
	WorkerID  string  `json:"worker_id,omitempty"`
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	Text      string  `json:"text,omitempty"`
	ETA       int64   `json:"estimated_completion,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// JobStatusTopic is the ephemeral status channel for a job.
func JobStatusTopic(jobID string) string { return fmt.Sprintf("job:%s:status", jobID) }

// MachineGPUTopic is the ephemeral telemetry channel for a machine's GPUs.
func MachineGPUTopic(machineID string) string { return fmt.Sprintf("machine:%s:gpu", machineID) }

// WorkerControlTopic is the directed channel used to tell a worker to abort
// a job (cancellation, timeout).
func WorkerControlTopic(workerID string) string { return fmt.Sprintf("worker:%s:control", workerID) }
