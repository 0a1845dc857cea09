package usecase

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-job-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// RecoveryConfig tunes the supervisor's sweep thresholds.
type RecoveryConfig struct {
	Tick            time.Duration
	WorkerStale     time.Duration
	ProgressSilence time.Duration
	WorkerGC        time.Duration
}

// StreamTrimmer enforces age-based retention on the persistent streams.
type StreamTrimmer interface {
	TrimAged(ctx domain.Context) error
}

// Supervisor periodically repairs inconsistencies: stale workers, orphaned
// and stuck active jobs, timed-out jobs, and the worker graveyard. Before
// retrying a job it reconciles with the external service when the
// connector supports status queries, so completed work is never redone.
//
// Sweeps never raise: any error is logged and the next tick continues.
type Supervisor struct {
	store      domain.Store
	events     domain.Events
	connectors domain.ConnectorRegistry
	trimmer    StreamTrimmer
	cfg        RecoveryConfig
	now        func() time.Time
}

// NewSupervisor constructs a Supervisor. trimmer may be nil.
func NewSupervisor(store domain.Store, events domain.Events, connectors domain.ConnectorRegistry, trimmer StreamTrimmer, cfg RecoveryConfig) *Supervisor {
	if cfg.Tick <= 0 {
		cfg.Tick = 30 * time.Second
	}
	if cfg.WorkerStale <= 0 {
		cfg.WorkerStale = 90 * time.Second
	}
	if cfg.ProgressSilence <= 0 {
		cfg.ProgressSilence = 5 * time.Minute
	}
	if cfg.WorkerGC <= 0 {
		cfg.WorkerGC = time.Hour
	}
	return &Supervisor{
		store:      store,
		events:     events,
		connectors: connectors,
		trimmer:    trimmer,
		cfg:        cfg,
		now:        time.Now,
	}
}

// WithClock overrides the Supervisor's time source, for tests.
func (s *Supervisor) WithClock(now func() time.Time) *Supervisor {
	s.now = now
	return s
}

// Run performs sweeps on every tick until ctx ends. An initial sweep runs
// immediately.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.SweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("recovery supervisor stopping")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs the three sweeps and stream retention once.
func (s *Supervisor) SweepOnce(ctx context.Context) {
	tracer := otel.Tracer("recovery.supervisor")
	ctx, span := tracer.Start(ctx, "Supervisor.SweepOnce")
	defer span.End()

	s.sweepStaleWorkers(ctx)
	s.sweepActiveJobs(ctx)
	s.sweepGraveyard(ctx)

	if s.trimmer != nil {
		if err := s.trimmer.TrimAged(ctx); err != nil {
			slog.Error("stream retention trim failed", slog.Any("error", err))
		}
	}
}

// sweepStaleWorkers marks workers with expired heartbeats offline. Their
// jobs become orphans and are repaired by the active-jobs sweep.
func (s *Supervisor) sweepStaleWorkers(ctx context.Context) {
	start := s.now()
	defer func() {
		observability.RecoverySweepDuration.WithLabelValues("stale_workers").Observe(s.now().Sub(start).Seconds())
	}()
	tracer := otel.Tracer("recovery.supervisor")
	ctx, span := tracer.Start(ctx, "Supervisor.sweepStaleWorkers")
	defer span.End()

	cutoff := s.now().Add(-s.cfg.WorkerStale).UnixMilli()
	stale, err := s.store.GetStaleWorkers(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		slog.Error("stale worker sweep failed to list workers", slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int("workers.stale", len(stale)))

	for _, w := range stale {
		if err := s.store.UpdateWorkerStatus(ctx, w.ID, domain.WorkerOffline); err != nil {
			slog.Error("failed to mark worker offline", slog.String("worker_id", w.ID), slog.Any("error", err))
			continue
		}
		observability.RecoveryActionsTotal.WithLabelValues("worker_offline").Inc()
		s.events.Publish(ctx, domain.Event{
			Type:     domain.EventWorkerOffline,
			WorkerID: w.ID,
			Data:     map[string]any{"last_heartbeat_at": w.LastHeartbeatAt},
		})
		slog.Warn("worker marked offline",
			slog.String("worker_id", w.ID),
			slog.Int64("last_heartbeat_at", w.LastHeartbeatAt))
	}
}

// sweepActiveJobs repairs orphaned, timed-out, and stuck active jobs,
// reconciling with the external service first when possible.
func (s *Supervisor) sweepActiveJobs(ctx context.Context) {
	start := s.now()
	defer func() {
		observability.RecoverySweepDuration.WithLabelValues("active_jobs").Observe(s.now().Sub(start).Seconds())
	}()
	tracer := otel.Tracer("recovery.supervisor")
	ctx, span := tracer.Start(ctx, "Supervisor.sweepActiveJobs")
	defer span.End()

	jobs, err := s.store.GetActiveJobs(ctx, "")
	if err != nil {
		span.RecordError(err)
		slog.Error("active job sweep failed to list jobs", slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int("jobs.active", len(jobs)))

	now := s.now().UnixMilli()
	for _, j := range jobs {
		switch {
		case s.isOrphaned(ctx, j):
			s.repair(ctx, j, "worker lost")
		case j.TimeoutMillis > 0 && j.StartedAt > 0 && j.StartedAt+j.TimeoutMillis < now:
			s.timeOut(ctx, j)
		case j.UpdatedAt > 0 && j.UpdatedAt+s.cfg.ProgressSilence.Milliseconds() < now:
			s.repair(ctx, j, "progress silent")
		}
	}
}

// isOrphaned reports whether the job's owner is missing or offline.
func (s *Supervisor) isOrphaned(ctx context.Context, j domain.Job) bool {
	if j.WorkerID == "" {
		return true
	}
	w, err := s.store.GetWorker(ctx, j.WorkerID)
	if err != nil {
		return true
	}
	return w.Status == domain.WorkerOffline
}

// repair finalises the job from the external service when it completed
// there, and otherwise applies retry accounting. Unknown or transient query
// results proceed conservatively with retry accounting; completion is
// never assumed.
func (s *Supervisor) repair(ctx context.Context, j domain.Job, reason string) {
	if s.reconcileExternal(ctx, j) {
		return
	}

	if j.WorkerID == "" {
		// Active job with no owner reference: invariant violation the
		// retry path cannot express, so force-fail and alert.
		slog.Error("active job without worker reference; force-failing",
			slog.String("job_id", j.ID))
		if _, _, err := s.store.ForceFailJob(ctx, j.ID, "invariant violation: active job without worker"); err != nil {
			slog.Error("force-fail failed", slog.String("job_id", j.ID), slog.Any("error", err))
			return
		}
		observability.RecoveryActionsTotal.WithLabelValues("force_fail").Inc()
		s.events.Publish(ctx, domain.Event{
			Type:  domain.EventJobFailed,
			JobID: j.ID,
			Data:  map[string]any{"error": "invariant violation: active job without worker"},
		})
		return
	}

	failed, applied, err := s.store.FailJob(ctx, j.ID, j.WorkerID, reason, true)
	if err != nil {
		slog.Error("recovery retry accounting failed",
			slog.String("job_id", j.ID),
			slog.Any("error", err))
		return
	}
	if !applied {
		// lost a race against a concurrent terminal transition
		return
	}
	if failed.Status == domain.JobPending {
		observability.RecoveryActionsTotal.WithLabelValues("requeue").Inc()
		s.events.Publish(ctx, domain.Event{
			Service:  j.ServiceRequired,
			Type:     domain.EventJobRetry,
			JobID:    j.ID,
			WorkerID: j.WorkerID,
			Data:     map[string]any{"retry_count": failed.RetryCount, "error": reason},
		})
	} else {
		observability.RecoveryActionsTotal.WithLabelValues("fail").Inc()
		observability.JobsFailedTotal.WithLabelValues(j.ServiceRequired, string(domain.JobFailed)).Inc()
		s.events.Publish(ctx, domain.Event{
			Service:  j.ServiceRequired,
			Type:     domain.EventJobFailed,
			JobID:    j.ID,
			WorkerID: j.WorkerID,
			Data:     map[string]any{"retry_count": failed.RetryCount, "error": reason},
		})
	}
}

// reconcileExternal asks the connector for the job's true state. Returns
// true when the job was finalised from an external completion.
func (s *Supervisor) reconcileExternal(ctx context.Context, j domain.Job) bool {
	if j.ServiceJobID == "" || s.connectors == nil {
		return false
	}
	conn, ok := s.connectors.ConnectorFor(j.ServiceRequired)
	if !ok || !conn.Capabilities().SupportsStatusQuery {
		return false
	}
	st, err := conn.QueryStatus(ctx, j.ServiceJobID)
	if err != nil {
		slog.Warn("external status query failed; proceeding with retry accounting",
			slog.String("job_id", j.ID),
			slog.String("service_job_id", j.ServiceJobID),
			slog.Any("error", err))
		return false
	}
	if st.State != domain.ExternalCompleted {
		return false
	}
	changed, err := s.store.FinalizeExternal(ctx, j.ID, st.Result)
	if err != nil {
		slog.Error("external finalisation failed", slog.String("job_id", j.ID), slog.Any("error", err))
		return false
	}
	if changed {
		observability.RecoveryActionsTotal.WithLabelValues("external_complete").Inc()
		observability.JobsCompletedTotal.WithLabelValues(j.ServiceRequired).Inc()
		s.events.Publish(ctx, domain.Event{
			Service:  j.ServiceRequired,
			Type:     domain.EventJobCompleted,
			JobID:    j.ID,
			WorkerID: j.WorkerID,
			Data:     map[string]any{"reconciled": true},
		})
	}
	return true
}

// timeOut terminalises the job as timeout, directs the owning worker to
// abort, and attempts a best-effort cancel with the external service.
func (s *Supervisor) timeOut(ctx context.Context, j domain.Job) {
	prevWorker, changed, err := s.store.TimeoutJob(ctx, j.ID)
	if err != nil {
		slog.Error("timeout terminalisation failed", slog.String("job_id", j.ID), slog.Any("error", err))
		return
	}
	if !changed {
		return
	}
	observability.RecoveryActionsTotal.WithLabelValues("timeout").Inc()
	observability.JobsFailedTotal.WithLabelValues(j.ServiceRequired, string(domain.JobTimeout)).Inc()
	s.events.Publish(ctx, domain.Event{
		Service:  j.ServiceRequired,
		Type:     domain.EventJobTimeout,
		JobID:    j.ID,
		WorkerID: prevWorker,
		Data:     map[string]any{"timeout_ms": j.TimeoutMillis},
	})
	if prevWorker != "" {
		s.events.PublishStatus(ctx, domain.WorkerControlTopic(prevWorker), map[string]any{
			"action": "cancel",
			"job_id": j.ID,
			"reason": "timeout",
		})
	}
	if j.ServiceJobID != "" && s.connectors != nil {
		if conn, ok := s.connectors.ConnectorFor(j.ServiceRequired); ok && conn.Capabilities().SupportsCancel {
			if err := conn.Cancel(ctx, j.ServiceJobID); err != nil {
				slog.Warn("best-effort external cancel failed",
					slog.String("job_id", j.ID),
					slog.String("service_job_id", j.ServiceJobID),
					slog.Any("error", err))
			}
		}
	}
}

// sweepGraveyard removes workers that have been offline past the GC
// window, preserving their counters in the archive.
func (s *Supervisor) sweepGraveyard(ctx context.Context) {
	start := s.now()
	defer func() {
		observability.RecoverySweepDuration.WithLabelValues("graveyard").Observe(s.now().Sub(start).Seconds())
	}()
	tracer := otel.Tracer("recovery.supervisor")
	ctx, span := tracer.Start(ctx, "Supervisor.sweepGraveyard")
	defer span.End()

	workers, err := s.store.GetWorkers(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("graveyard sweep failed to list workers", slog.Any("error", err))
		return
	}
	cutoff := s.now().Add(-s.cfg.WorkerGC).UnixMilli()
	for _, w := range workers {
		if w.Status != domain.WorkerOffline || w.LastHeartbeatAt >= cutoff {
			continue
		}
		if err := s.store.ArchiveWorker(ctx, w.ID); err != nil {
			slog.Error("worker archive failed", slog.String("worker_id", w.ID), slog.Any("error", err))
			continue
		}
		observability.RecoveryActionsTotal.WithLabelValues("worker_gc").Inc()
		s.events.Publish(ctx, domain.Event{
			Type:     domain.EventWorkerRemoved,
			WorkerID: w.ID,
			Data:     map[string]any{"jobs_completed": w.JobsCompleted, "jobs_failed": w.JobsFailed},
		})
	}
}
