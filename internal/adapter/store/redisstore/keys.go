package redisstore

// Key layout. All keys share a configurable prefix so multiple brokers can
// share one Redis instance.

func (s *Store) jobKey(jobID string) string { return s.prefix + "job:" + jobID }

func (s *Store) pendingKey() string { return s.prefix + "queue:pending" }

func (s *Store) activeKey() string { return s.prefix + "set:active" }

func (s *Store) completedKey() string { return s.prefix + "set:completed" }

func (s *Store) failedKey() string { return s.prefix + "set:failed" }

func (s *Store) cancelledKey() string { return s.prefix + "set:cancelled" }

func (s *Store) workerKey(workerID string) string { return s.prefix + "worker:" + workerID }

// workerJobsKey is the reverse index worker -> active job ids.
func (s *Store) workerJobsKey(workerID string) string {
	return s.prefix + "worker:" + workerID + ":jobs"
}

func (s *Store) workersActiveKey() string { return s.prefix + "workers:active" }

// workersArchiveKey holds historical counters of garbage-collected workers.
func (s *Store) workersArchiveKey() string { return s.prefix + "workers:archive" }

func (s *Store) workflowKey(workflowID string) string { return s.prefix + "workflow:" + workflowID }
