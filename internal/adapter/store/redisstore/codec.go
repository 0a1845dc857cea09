package redisstore

import (
	"encoding/json"
	"strconv"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// jobFields flattens a job into HSET field/value pairs. Timestamps stay as
// epoch-millisecond integers; requirements are a JSON array. The computed
// score is persisted so requeues preserve age-aware priority.
func jobFields(j domain.Job) []any {
	reqs, _ := json.Marshal(j.Requirements)
	if j.Requirements == nil {
		reqs = []byte("[]")
	}
	fields := []any{
		"id", j.ID,
		"service_required", j.ServiceRequired,
		"priority", strconv.Itoa(j.Priority),
		"payload", string(j.Payload),
		"requirements", string(reqs),
		"max_retries", strconv.Itoa(j.MaxRetries),
		"retry_count", strconv.Itoa(j.RetryCount),
		"timeout_ms", strconv.FormatInt(j.TimeoutMillis, 10),
		"created_at", strconv.FormatInt(j.CreatedAt, 10),
		"updated_at", strconv.FormatInt(j.UpdatedAt, 10),
		"status", string(j.Status),
		"score", strconv.FormatFloat(j.Score(), 'f', -1, 64),
	}
	if j.CustomerID != "" {
		fields = append(fields, "customer_id", j.CustomerID)
	}
	if j.WorkflowID != "" {
		fields = append(fields,
			"workflow_id", j.WorkflowID,
			"workflow_priority", strconv.Itoa(j.WorkflowPriority),
			"workflow_datetime", strconv.FormatInt(j.WorkflowDatetime, 10),
			"step_number", strconv.Itoa(j.StepNumber),
		)
	}
	return fields
}

func jobFromMap(m map[string]string) domain.Job {
	j := domain.Job{
		ID:               m["id"],
		ServiceRequired:  m["service_required"],
		Priority:         atoi(m["priority"]),
		Payload:          bytesOrNil(m["payload"]),
		CustomerID:       m["customer_id"],
		MaxRetries:       atoi(m["max_retries"]),
		RetryCount:       atoi(m["retry_count"]),
		TimeoutMillis:    atoi64(m["timeout_ms"]),
		CreatedAt:        atoi64(m["created_at"]),
		StartedAt:        atoi64(m["started_at"]),
		CompletedAt:      atoi64(m["completed_at"]),
		UpdatedAt:        atoi64(m["updated_at"]),
		WorkflowID:       m["workflow_id"],
		WorkflowPriority: atoi(m["workflow_priority"]),
		WorkflowDatetime: atoi64(m["workflow_datetime"]),
		StepNumber:       atoi(m["step_number"]),
		Status:           domain.JobStatus(m["status"]),
		WorkerID:         m["worker_id"],
		ServiceJobID:     m["service_job_id"],
		Progress:         atof(m["progress"]),
		StatusText:       m["status_text"],
		Result:           bytesOrNil(m["result"]),
		LastError:        m["last_error"],
		LastFailedWorker: m["last_failed_worker"],
	}
	j.EstimatedCompletion = atoi64(m["estimated_completion"])
	if raw := m["requirements"]; raw != "" && raw != "[]" {
		_ = json.Unmarshal([]byte(raw), &j.Requirements)
	}
	return j
}

// jobFromFlat parses the flat [k1, v1, k2, v2, …] reply an HGETALL inside a
// Lua script produces.
func jobFromFlat(flat []any) domain.Job {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, ok := flat[i].(string)
		if !ok {
			continue
		}
		if v, ok := flat[i+1].(string); ok {
			m[k] = v
		}
	}
	return jobFromMap(m)
}

func workerFields(w domain.Worker) []any {
	caps, _ := json.Marshal(w.Capabilities)
	fields := []any{
		"id", w.ID,
		"capabilities", string(caps),
		"status", string(w.Status),
		"connected_at", strconv.FormatInt(w.ConnectedAt, 10),
		"last_heartbeat_at", strconv.FormatInt(w.LastHeartbeatAt, 10),
	}
	if len(w.SystemInfo) > 0 {
		fields = append(fields, "system_info", string(w.SystemInfo))
	}
	return fields
}

func workerFromMap(m map[string]string) domain.Worker {
	w := domain.Worker{
		ID:              m["id"],
		Status:          domain.WorkerStatus(m["status"]),
		ConnectedAt:     atoi64(m["connected_at"]),
		LastHeartbeatAt: atoi64(m["last_heartbeat_at"]),
		SystemInfo:      bytesOrNil(m["system_info"]),
		JobsCompleted:   atoi64(m["jobs_completed"]),
		JobsFailed:      atoi64(m["jobs_failed"]),
	}
	if raw := m["capabilities"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &w.Capabilities)
	}
	return w
}

func workflowFields(wf domain.Workflow) []any {
	fields := []any{
		"id", wf.ID,
		"priority", strconv.Itoa(wf.Priority),
		"datetime", strconv.FormatInt(wf.Datetime, 10),
		"status", string(wf.Status),
	}
	if wf.CustomerID != "" {
		fields = append(fields, "customer_id", wf.CustomerID)
	}
	return fields
}

func workflowFromMap(m map[string]string) domain.Workflow {
	return domain.Workflow{
		ID:         m["id"],
		Priority:   atoi(m["priority"]),
		Datetime:   atoi64(m["datetime"]),
		Status:     domain.WorkflowStatus(m["status"]),
		CustomerID: m["customer_id"],
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func bytesOrNil(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}
