package redisstore

import (
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// RegisterWorker upserts the worker record, marks it idle, and seeds the
// heartbeat. Idempotent: a re-registration after a restart refreshes the
// record without losing historical counters.
func (s *Store) RegisterWorker(ctx domain.Context, w domain.Worker) error {
	if w.ConnectedAt == 0 {
		w.ConnectedAt = s.nowMillis()
	}
	if w.LastHeartbeatAt == 0 {
		w.LastHeartbeatAt = s.nowMillis()
	}
	if w.Status == "" {
		w.Status = domain.WorkerIdle
	}
	return s.withRetry(ctx, "RegisterWorker", func() error {
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.workerKey(w.ID), workerFields(w)...)
			pipe.SAdd(ctx, s.workersActiveKey(), w.ID)
			return nil
		})
		return err
	})
}

// GetWorker loads a worker record, including its current jobs.
func (s *Store) GetWorker(ctx domain.Context, workerID string) (domain.Worker, error) {
	var w domain.Worker
	err := s.withRetry(ctx, "GetWorker", func() error {
		m, err := s.rdb.HGetAll(ctx, s.workerKey(workerID)).Result()
		if err != nil {
			return err
		}
		if len(m) == 0 {
			return fmt.Errorf("%w: worker %s", domain.ErrNotFound, workerID)
		}
		jobs, err := s.rdb.SMembers(ctx, s.workerJobsKey(workerID)).Result()
		if err != nil {
			return err
		}
		w = workerFromMap(m)
		w.CurrentJobs = jobs
		return nil
	})
	return w, err
}

// GetWorkers returns all registered workers.
func (s *Store) GetWorkers(ctx domain.Context) ([]domain.Worker, error) {
	var ids []string
	err := s.withRetry(ctx, "GetWorkers", func() error {
		var err error
		ids, err = s.rdb.SMembers(ctx, s.workersActiveKey()).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	workers := make([]domain.Worker, 0, len(ids))
	for _, id := range ids {
		w, err := s.GetWorker(ctx, id)
		if err != nil {
			// Registry set and hash can briefly disagree during removal.
			continue
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// UpdateWorkerStatus writes the worker's status field.
func (s *Store) UpdateWorkerStatus(ctx domain.Context, workerID string, status domain.WorkerStatus) error {
	return s.withRetry(ctx, "UpdateWorkerStatus", func() error {
		n, err := s.rdb.Exists(ctx, s.workerKey(workerID)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: worker %s", domain.ErrNotFound, workerID)
		}
		return s.rdb.HSet(ctx, s.workerKey(workerID), "status", string(status)).Err()
	})
}

// UpdateWorkerHeartbeat bumps last_heartbeat_at and stores system info so
// the recovery supervisor can detect staleness.
func (s *Store) UpdateWorkerHeartbeat(ctx domain.Context, workerID string, systemInfo []byte) error {
	return s.withRetry(ctx, "UpdateWorkerHeartbeat", func() error {
		n, err := s.rdb.Exists(ctx, s.workerKey(workerID)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: worker %s", domain.ErrNotFound, workerID)
		}
		fields := []any{"last_heartbeat_at", strconv.FormatInt(s.nowMillis(), 10)}
		if len(systemInfo) > 0 {
			fields = append(fields, "system_info", string(systemInfo))
		}
		return s.rdb.HSet(ctx, s.workerKey(workerID), fields...).Err()
	})
}

// RemoveWorker deletes the worker record and registry entry. Releasing any
// jobs the worker still owns is the registry usecase's responsibility.
func (s *Store) RemoveWorker(ctx domain.Context, workerID string) error {
	return s.withRetry(ctx, "RemoveWorker", func() error {
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.workerKey(workerID))
			pipe.Del(ctx, s.workerJobsKey(workerID))
			pipe.SRem(ctx, s.workersActiveKey(), workerID)
			return nil
		})
		return err
	})
}

// GetStaleWorkers returns workers whose heartbeat predates the cutoff and
// which are not already offline.
func (s *Store) GetStaleWorkers(ctx domain.Context, cutoff int64) ([]domain.Worker, error) {
	workers, err := s.GetWorkers(ctx)
	if err != nil {
		return nil, err
	}
	stale := make([]domain.Worker, 0)
	for _, w := range workers {
		if w.Status != domain.WorkerOffline && w.LastHeartbeatAt < cutoff {
			stale = append(stale, w)
		}
	}
	return stale, nil
}

// ArchiveWorker preserves the worker's historical counters in the graveyard
// archive and removes it from the registry, atomically.
func (s *Store) ArchiveWorker(ctx domain.Context, workerID string) error {
	return s.withRetry(ctx, "ArchiveWorker", func() error {
		return s.archiveWkr.Run(ctx, s.rdb,
			[]string{s.workerKey(workerID), s.workersActiveKey(), s.workersArchiveKey()},
			workerID,
			strconv.FormatInt(s.nowMillis(), 10),
		).Err()
	})
}
