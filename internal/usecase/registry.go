package usecase

import (
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// Registry manages worker registration, heartbeats, and removal.
type Registry struct {
	store  domain.Store
	events domain.Events
}

// NewRegistry constructs a Registry with its dependencies.
func NewRegistry(store domain.Store, events domain.Events) *Registry {
	return &Registry{store: store, events: events}
}

// Register upserts the worker and emits worker.connected. Idempotent: a
// second registration with the same id refreshes the record.
func (r *Registry) Register(ctx domain.Context, workerID string, caps domain.Capabilities, systemInfo []byte) error {
	if workerID == "" {
		return fmt.Errorf("%w: worker_id is required", domain.ErrValidation)
	}
	if len(caps.Services) == 0 {
		return fmt.Errorf("%w: worker must advertise at least one service", domain.ErrValidation)
	}
	w := domain.Worker{
		ID:           workerID,
		Capabilities: caps,
		Status:       domain.WorkerIdle,
		SystemInfo:   systemInfo,
	}
	if err := r.store.RegisterWorker(ctx, w); err != nil {
		return fmt.Errorf("op=registry.Register: %w", err)
	}
	r.events.Publish(ctx, domain.Event{
		Type:     domain.EventWorkerConnected,
		WorkerID: workerID,
		Data:     map[string]any{"services": caps.Services, "tags": caps.Tags},
	})
	return nil
}

// UpdateStatus writes the worker's advertised status.
func (r *Registry) UpdateStatus(ctx domain.Context, workerID string, status domain.WorkerStatus) error {
	if err := r.store.UpdateWorkerStatus(ctx, workerID, status); err != nil {
		return fmt.Errorf("op=registry.UpdateStatus: %w", err)
	}
	return nil
}

// Heartbeat bumps the worker's liveness timestamp and stores its reported
// system info.
func (r *Registry) Heartbeat(ctx domain.Context, workerID string, systemInfo []byte) error {
	if err := r.store.UpdateWorkerHeartbeat(ctx, workerID, systemInfo); err != nil {
		return fmt.Errorf("op=registry.Heartbeat: %w", err)
	}
	return nil
}

// Remove releases the worker's remaining active jobs back to the pending
// queue and deletes the registration. The release script checks the job's
// status, so a job that already terminated is never resurrected.
func (r *Registry) Remove(ctx domain.Context, workerID string) error {
	jobs, err := r.store.GetActiveJobs(ctx, workerID)
	if err != nil {
		return fmt.Errorf("op=registry.Remove: %w", err)
	}
	for _, j := range jobs {
		changed, err := r.store.ReleaseJob(ctx, j.ID)
		if err != nil {
			slog.Error("failed to release job on worker removal",
				slog.String("job_id", j.ID),
				slog.String("worker_id", workerID),
				slog.Any("error", err))
			continue
		}
		if changed {
			r.events.Publish(ctx, domain.Event{Type: domain.EventJobReleased, JobID: j.ID, WorkerID: workerID})
		}
	}
	if err := r.store.RemoveWorker(ctx, workerID); err != nil {
		return fmt.Errorf("op=registry.Remove: %w", err)
	}
	r.events.Publish(ctx, domain.Event{Type: domain.EventWorkerDisconnected, WorkerID: workerID})
	return nil
}

// Workers lists all registered workers.
func (r *Registry) Workers(ctx domain.Context) ([]domain.Worker, error) {
	return r.store.GetWorkers(ctx)
}
