package redisstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// Script status replies, matching the protocol documented in scripts.go.
const (
	replyNotFound = -1
	replyStale    = -2
	replyNoop     = 0
	replyApplied  = 1
	replyTerminal = 2
)

// SubmitJob writes the job record and places it in the pending queue with
// its computed score, atomically.
func (s *Store) SubmitJob(ctx domain.Context, j domain.Job) error {
	args := make([]any, 0, 2+len(jobFields(j)))
	args = append(args, j.ID, strconv.FormatFloat(j.Score(), 'f', -1, 64))
	args = append(args, jobFields(j)...)
	return s.withRetry(ctx, "SubmitJob", func() error {
		res, err := s.submit.Run(ctx, s.rdb, []string{s.jobKey(j.ID), s.pendingKey()}, args...).Int64()
		if err != nil {
			return err
		}
		if res == replyNoop {
			return fmt.Errorf("job %s already exists", j.ID)
		}
		return nil
	})
}

// ClaimNext atomically assigns the highest-precedence eligible pending job.
// Returns nil when nothing within the scan depth is eligible.
func (s *Store) ClaimNext(ctx domain.Context, workerID string, caps domain.Capabilities) (*domain.Job, error) {
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal capabilities: %v", domain.ErrValidation, err)
	}
	var claimed *domain.Job
	err = s.withRetry(ctx, "ClaimNext", func() error {
		res, err := s.claim.Run(ctx, s.rdb,
			[]string{s.pendingKey(), s.activeKey(), s.workerKey(workerID), s.workerJobsKey(workerID)},
			workerID,
			strconv.FormatInt(s.nowMillis(), 10),
			strconv.Itoa(s.scanDepth),
			string(capsJSON),
			s.prefix,
		).Result()
		if errors.Is(err, redis.Nil) {
			claimed = nil
			return nil
		}
		if err != nil {
			return err
		}
		flat, ok := res.([]any)
		if !ok {
			return fmt.Errorf("%w: unexpected claim reply %T", domain.ErrInternal, res)
		}
		j := jobFromFlat(flat)
		claimed = &j
		return nil
	})
	return claimed, err
}

// GetJob loads a job record.
func (s *Store) GetJob(ctx domain.Context, jobID string) (domain.Job, error) {
	var j domain.Job
	err := s.withRetry(ctx, "GetJob", func() error {
		m, err := s.rdb.HGetAll(ctx, s.jobKey(jobID)).Result()
		if err != nil {
			return err
		}
		if len(m) == 0 {
			return fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
		}
		j = jobFromMap(m)
		return nil
	})
	return j, err
}

// UpdateProgress records a progress tick under the unconditional ownership
// check. Regressing values within the current ownership epoch are dropped
// silently; a non-owner or terminal job yields ErrStaleUpdate.
func (s *Store) UpdateProgress(ctx domain.Context, jobID, workerID string, progress float64, text string, eta int64) error {
	return s.withRetry(ctx, "UpdateProgress", func() error {
		res, err := s.progress.Run(ctx, s.rdb, []string{s.jobKey(jobID)},
			workerID,
			strconv.FormatInt(s.nowMillis(), 10),
			strconv.FormatFloat(progress, 'f', -1, 64),
			text,
			strconv.FormatInt(eta, 10),
		).Int64()
		if err != nil {
			return err
		}
		return statusErr(res, jobID)
	})
}

// CompleteJob transitions an owned active job to completed. A repeat call
// is a no-op success with changed=false.
func (s *Store) CompleteJob(ctx domain.Context, jobID, workerID string, result []byte) (bool, error) {
	var changed bool
	err := s.withRetry(ctx, "CompleteJob", func() error {
		res, err := s.complete.Run(ctx, s.rdb,
			[]string{s.jobKey(jobID), s.activeKey(), s.completedKey(), s.workerKey(workerID), s.workerJobsKey(workerID)},
			workerID,
			strconv.FormatInt(s.nowMillis(), 10),
			string(result),
			jobID,
		).Int64()
		if err != nil {
			return err
		}
		if err := statusErr(res, jobID); err != nil {
			return err
		}
		changed = res == replyApplied
		return nil
	})
	return changed, err
}

// FailJob applies the retry policy and returns the post-transition record.
// A repeat failure of an already-failed job is a no-op with applied=false.
func (s *Store) FailJob(ctx domain.Context, jobID, workerID, errMsg string, canRetry bool) (domain.Job, bool, error) {
	retryArg := "0"
	if canRetry {
		retryArg = "1"
	}
	var applied bool
	err := s.withRetry(ctx, "FailJob", func() error {
		res, err := s.fail.Run(ctx, s.rdb,
			[]string{s.jobKey(jobID), s.activeKey(), s.failedKey(), s.pendingKey(), s.workerKey(workerID), s.workerJobsKey(workerID)},
			workerID,
			strconv.FormatInt(s.nowMillis(), 10),
			errMsg,
			retryArg,
			jobID,
		).Int64()
		if err != nil {
			return err
		}
		if err := statusErr(res, jobID); err != nil {
			return err
		}
		applied = res == replyApplied || res == replyTerminal
		return nil
	})
	if err != nil {
		return domain.Job{}, false, err
	}
	j, err := s.GetJob(ctx, jobID)
	return j, applied, err
}

// CancelJob transitions any non-terminal job to cancelled. prevWorker names
// the owner at cancellation time so the caller can direct an abort.
func (s *Store) CancelJob(ctx domain.Context, jobID, reason string) (string, bool, error) {
	return s.runTerminal(ctx, "CancelJob", jobID, string(domain.JobCancelled), reason, s.cancelledKey())
}

// TimeoutJob terminalises an active job as timeout. Timed-out jobs live in
// the failed set with a distinct status.
func (s *Store) TimeoutJob(ctx domain.Context, jobID string) (string, bool, error) {
	return s.runTerminal(ctx, "TimeoutJob", jobID, string(domain.JobTimeout), "job exceeded timeout budget", s.failedKey())
}

// ForceFailJob terminalises a job as failed without an owner check. Used by
// the recovery supervisor to repair invariant violations.
func (s *Store) ForceFailJob(ctx domain.Context, jobID, reason string) (string, bool, error) {
	return s.runTerminal(ctx, "ForceFailJob", jobID, string(domain.JobFailed), reason, s.failedKey())
}

func (s *Store) runTerminal(ctx domain.Context, op, jobID, status, reason, destKey string) (string, bool, error) {
	var prevWorker string
	var changed bool
	err := s.withRetry(ctx, op, func() error {
		res, err := s.terminal.Run(ctx, s.rdb,
			[]string{s.jobKey(jobID), s.pendingKey(), s.activeKey(), destKey},
			jobID,
			strconv.FormatInt(s.nowMillis(), 10),
			status,
			reason,
			s.prefix,
		).Result()
		if err != nil {
			return err
		}
		switch v := res.(type) {
		case int64:
			if err := statusErr(v, jobID); err != nil {
				return err
			}
			changed = false
			return nil
		case string:
			prevWorker = v
			changed = true
			return nil
		default:
			return fmt.Errorf("%w: unexpected terminal reply %T", domain.ErrInternal, res)
		}
	})
	return prevWorker, changed, err
}

// ReleaseJob returns an active job to the pending queue without touching
// the retry count, preserving last_failed_worker.
func (s *Store) ReleaseJob(ctx domain.Context, jobID string) (bool, error) {
	var changed bool
	err := s.withRetry(ctx, "ReleaseJob", func() error {
		res, err := s.release.Run(ctx, s.rdb,
			[]string{s.jobKey(jobID), s.activeKey(), s.pendingKey()},
			jobID,
			strconv.FormatInt(s.nowMillis(), 10),
			s.prefix,
		).Int64()
		if err != nil {
			return err
		}
		if err := statusErr(res, jobID); err != nil {
			return err
		}
		changed = res == replyApplied
		return nil
	})
	return changed, err
}

// RequeueUnworkable clears last_failed_worker and reinserts the job with
// its preserved score.
func (s *Store) RequeueUnworkable(ctx domain.Context, jobID string) error {
	return s.withRetry(ctx, "RequeueUnworkable", func() error {
		res, err := s.requeue.Run(ctx, s.rdb,
			[]string{s.jobKey(jobID), s.pendingKey(), s.activeKey()},
			jobID,
			strconv.FormatInt(s.nowMillis(), 10),
			s.prefix,
		).Int64()
		if err != nil {
			return err
		}
		return statusErr(res, jobID)
	})
}

// FinalizeExternal completes an orphaned job with the externally reported
// result, without an owner check.
func (s *Store) FinalizeExternal(ctx domain.Context, jobID string, result []byte) (bool, error) {
	var changed bool
	err := s.withRetry(ctx, "FinalizeExternal", func() error {
		res, err := s.finalizeExt.Run(ctx, s.rdb,
			[]string{s.jobKey(jobID), s.pendingKey(), s.activeKey(), s.completedKey()},
			jobID,
			strconv.FormatInt(s.nowMillis(), 10),
			string(result),
			s.prefix,
		).Int64()
		if err != nil {
			return err
		}
		if err := statusErr(res, jobID); err != nil {
			return err
		}
		changed = res == replyApplied
		return nil
	})
	return changed, err
}

// SetServiceJobID records the external correlation id; a set value is never
// rewritten.
func (s *Store) SetServiceJobID(ctx domain.Context, jobID, serviceJobID string) error {
	return s.withRetry(ctx, "SetServiceJobID", func() error {
		res, err := s.svcJobID.Run(ctx, s.rdb, []string{s.jobKey(jobID)}, serviceJobID).Int64()
		if err != nil {
			return err
		}
		return statusErr(res, jobID)
	})
}

// statusErr maps the shared script reply protocol onto the error taxonomy.
func statusErr(res int64, jobID string) error {
	switch res {
	case replyNotFound:
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	case replyStale:
		return fmt.Errorf("%w: job %s", domain.ErrStaleUpdate, jobID)
	default:
		return nil
	}
}
