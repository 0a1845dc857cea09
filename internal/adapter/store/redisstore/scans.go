package redisstore

import (
	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// GetPendingJobs returns up to limit pending jobs in claim-precedence order.
func (s *Store) GetPendingJobs(ctx domain.Context, limit int64) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := s.withRetry(ctx, "GetPendingJobs", func() error {
		var err error
		ids, err = s.rdb.ZRange(ctx, s.pendingKey(), 0, limit-1).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.loadJobs(ctx, ids)
}

// GetActiveJobs returns in-flight jobs, optionally restricted to one worker.
func (s *Store) GetActiveJobs(ctx domain.Context, workerID string) ([]domain.Job, error) {
	key := s.activeKey()
	if workerID != "" {
		key = s.workerJobsKey(workerID)
	}
	var ids []string
	err := s.withRetry(ctx, "GetActiveJobs", func() error {
		var err error
		ids, err = s.rdb.SMembers(ctx, key).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.loadJobs(ctx, ids)
}

// GetAllJobs returns up to limit jobs across all lifecycle sets, pending
// first, then active, then terminal.
func (s *Store) GetAllJobs(ctx domain.Context, limit int64) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := s.withRetry(ctx, "GetAllJobs", func() error {
		ids = ids[:0]
		pending, err := s.rdb.ZRange(ctx, s.pendingKey(), 0, limit-1).Result()
		if err != nil {
			return err
		}
		ids = append(ids, pending...)
		for _, key := range []string{s.activeKey(), s.completedKey(), s.failedKey(), s.cancelledKey()} {
			if int64(len(ids)) >= limit {
				break
			}
			members, err := s.rdb.SMembers(ctx, key).Result()
			if err != nil {
				return err
			}
			ids = append(ids, members...)
		}
		if int64(len(ids)) > limit {
			ids = ids[:limit]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.loadJobs(ctx, ids)
}

// GetJobsByStatus returns up to limit jobs whose status is in statuses.
func (s *Store) GetJobsByStatus(ctx domain.Context, statuses []domain.JobStatus, limit int64) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	want := make(map[domain.JobStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	all, err := s.GetAllJobs(ctx, 10000)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Job, 0, limit)
	for _, j := range all {
		if want[j.Status] {
			out = append(out, j)
			if int64(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

// loadJobs fetches job hashes for ids, skipping records that vanished
// between the index read and the hash read.
func (s *Store) loadJobs(ctx domain.Context, ids []string) ([]domain.Job, error) {
	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		var m map[string]string
		err := s.withRetry(ctx, "loadJobs", func() error {
			var err error
			m, err = s.rdb.HGetAll(ctx, s.jobKey(id)).Result()
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(m) == 0 {
			continue
		}
		jobs = append(jobs, jobFromMap(m))
	}
	return jobs, nil
}
