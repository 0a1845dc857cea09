package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
	"github.com/fairyhunter13/ai-job-broker/internal/usecase"
)

type submitJobData struct {
	ServiceRequired  string          `json:"service_required"`
	Priority         int             `json:"priority"`
	Payload          json.RawMessage `json:"payload"`
	Requirements     []string        `json:"requirements"`
	CustomerID       string          `json:"customer_id"`
	MaxRetries       *int            `json:"max_retries"`
	TimeoutMillis    int64           `json:"timeout_ms"`
	WorkflowID       string          `json:"workflow_id"`
	WorkflowPriority int             `json:"workflow_priority"`
	WorkflowDatetime int64           `json:"workflow_datetime"`
	StepNumber       int             `json:"step_number"`
}

type progressData struct {
	JobID        string  `json:"job_id"`
	Progress     float64 `json:"progress"`
	StatusText   string  `json:"status_text"`
	ETA          int64   `json:"estimated_completion"`
	ServiceJobID string  `json:"service_job_id"`
}

type completeJobData struct {
	JobID  string          `json:"job_id"`
	Result json.RawMessage `json:"result"`
}

type failJobData struct {
	JobID    string `json:"job_id"`
	Error    string `json:"error"`
	CanRetry bool   `json:"can_retry"`
}

type cancelJobData struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

type jobRefData struct {
	JobID string `json:"job_id"`
}

type registerWorkerData struct {
	Capabilities domain.Capabilities `json:"capabilities"`
	SystemInfo   json.RawMessage     `json:"system_info"`
}

type workerStatusData struct {
	Status domain.WorkerStatus `json:"status"`
}

type heartbeatData struct {
	SystemInfo json.RawMessage `json:"system_info"`
}

type serviceRequestData struct {
	Capabilities domain.Capabilities `json:"capabilities"`
}

func decode[T any](env Envelope) (T, error) {
	var v T
	if len(env.Data) == 0 {
		return v, fmt.Errorf("%w: message %s has no data", domain.ErrValidation, env.Type)
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("%w: decode %s data: %v", domain.ErrValidation, env.Type, err)
	}
	return v, nil
}

func requireWorker(env Envelope) error {
	if env.WorkerID == "" {
		return fmt.Errorf("%w: message %s requires worker_id", domain.ErrValidation, env.Type)
	}
	return nil
}

// RegisterCoreHandlers binds the full message-type registry to the
// application services. Called once at startup.
func RegisterCoreHandlers(d *Dispatcher, broker *usecase.Broker, registry *usecase.Registry, engine *usecase.Engine, store domain.JobStore) {
	d.Register(TypeSubmitJob, func(ctx context.Context, env Envelope) (any, error) {
		data, err := decode[submitJobData](env)
		if err != nil {
			return nil, err
		}
		j, err := broker.Submit(ctx, usecase.SubmitRequest{
			ServiceRequired:  data.ServiceRequired,
			Priority:         data.Priority,
			Payload:          data.Payload,
			Requirements:     data.Requirements,
			CustomerID:       data.CustomerID,
			MaxRetries:       data.MaxRetries,
			TimeoutMillis:    data.TimeoutMillis,
			WorkflowID:       data.WorkflowID,
			WorkflowPriority: data.WorkflowPriority,
			WorkflowDatetime: data.WorkflowDatetime,
			StepNumber:       data.StepNumber,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"job_id": j.ID, "status": j.Status}, nil
	})

	d.Register(TypeServiceRequest, func(ctx context.Context, env Envelope) (any, error) {
		if err := requireWorker(env); err != nil {
			return nil, err
		}
		data, err := decode[serviceRequestData](env)
		if err != nil {
			return nil, err
		}
		j, err := broker.Claim(ctx, env.WorkerID, data.Capabilities)
		if err != nil {
			return nil, err
		}
		if j == nil {
			return map[string]any{"job": nil}, nil
		}
		return map[string]any{"job": j}, nil
	})

	d.Register(TypeUpdateProgress, func(ctx context.Context, env Envelope) (any, error) {
		if err := requireWorker(env); err != nil {
			return nil, err
		}
		data, err := decode[progressData](env)
		if err != nil {
			return nil, err
		}
		if data.ServiceJobID != "" {
			if err := store.SetServiceJobID(ctx, data.JobID, data.ServiceJobID); err != nil {
				return nil, err
			}
		}
		if err := engine.Progress(ctx, data.JobID, env.WorkerID, data.Progress, data.StatusText, data.ETA); err != nil {
			return nil, err
		}
		return nil, nil
	})

	d.Register(TypeCompleteJob, func(ctx context.Context, env Envelope) (any, error) {
		if err := requireWorker(env); err != nil {
			return nil, err
		}
		data, err := decode[completeJobData](env)
		if err != nil {
			return nil, err
		}
		return nil, engine.Complete(ctx, data.JobID, env.WorkerID, data.Result)
	})

	d.Register(TypeFailJob, func(ctx context.Context, env Envelope) (any, error) {
		if err := requireWorker(env); err != nil {
			return nil, err
		}
		data, err := decode[failJobData](env)
		if err != nil {
			return nil, err
		}
		return nil, engine.Fail(ctx, data.JobID, env.WorkerID, data.Error, data.CanRetry)
	})

	d.Register(TypeCancelJob, func(ctx context.Context, env Envelope) (any, error) {
		data, err := decode[cancelJobData](env)
		if err != nil {
			return nil, err
		}
		return nil, engine.Cancel(ctx, data.JobID, data.Reason)
	})

	d.Register(TypeSyncJobState, func(ctx context.Context, env Envelope) (any, error) {
		data, err := decode[jobRefData](env)
		if err != nil {
			return nil, err
		}
		j, err := engine.SyncJobState(ctx, data.JobID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"job": j}, nil
	})

	d.Register(TypeRegisterWorker, func(ctx context.Context, env Envelope) (any, error) {
		if err := requireWorker(env); err != nil {
			return nil, err
		}
		data, err := decode[registerWorkerData](env)
		if err != nil {
			return nil, err
		}
		return nil, registry.Register(ctx, env.WorkerID, data.Capabilities, data.SystemInfo)
	})

	d.Register(TypeWorkerStatus, func(ctx context.Context, env Envelope) (any, error) {
		if err := requireWorker(env); err != nil {
			return nil, err
		}
		data, err := decode[workerStatusData](env)
		if err != nil {
			return nil, err
		}
		return nil, registry.UpdateStatus(ctx, env.WorkerID, data.Status)
	})

	d.Register(TypeWorkerHeartbeat, func(ctx context.Context, env Envelope) (any, error) {
		if err := requireWorker(env); err != nil {
			return nil, err
		}
		var info json.RawMessage
		if len(env.Data) > 0 {
			data, err := decode[heartbeatData](env)
			if err != nil {
				return nil, err
			}
			info = data.SystemInfo
		}
		return nil, registry.Heartbeat(ctx, env.WorkerID, info)
	})

	// Acks from clients need no action; registering them keeps them out of
	// the unknown-type path.
	d.Register(TypeAck, func(ctx context.Context, env Envelope) (any, error) {
		return nil, nil
	})

	d.Register(TypeError, func(ctx context.Context, env Envelope) (any, error) {
		return nil, nil
	})
}
