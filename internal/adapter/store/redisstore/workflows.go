package redisstore

import (
	"fmt"

	"github.com/fairyhunter13/ai-job-broker/internal/domain"
)

// CreateWorkflow creates the workflow if absent; an existing record wins so
// concurrent submissions of sibling jobs cannot clobber each other.
func (s *Store) CreateWorkflow(ctx domain.Context, wf domain.Workflow) error {
	if wf.Status == "" {
		wf.Status = domain.WorkflowActive
	}
	return s.withRetry(ctx, "CreateWorkflow", func() error {
		return s.createWf.Run(ctx, s.rdb, []string{s.workflowKey(wf.ID)}, workflowFields(wf)...).Err()
	})
}

// GetWorkflow loads a workflow record.
func (s *Store) GetWorkflow(ctx domain.Context, workflowID string) (domain.Workflow, error) {
	var wf domain.Workflow
	err := s.withRetry(ctx, "GetWorkflow", func() error {
		m, err := s.rdb.HGetAll(ctx, s.workflowKey(workflowID)).Result()
		if err != nil {
			return err
		}
		if len(m) == 0 {
			return fmt.Errorf("%w: workflow %s", domain.ErrNotFound, workflowID)
		}
		wf = workflowFromMap(m)
		return nil
	})
	return wf, err
}

// UpdateWorkflowStatus writes the workflow's status field.
func (s *Store) UpdateWorkflowStatus(ctx domain.Context, workflowID string, status domain.WorkflowStatus) error {
	return s.withRetry(ctx, "UpdateWorkflowStatus", func() error {
		n, err := s.rdb.Exists(ctx, s.workflowKey(workflowID)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: workflow %s", domain.ErrNotFound, workflowID)
		}
		return s.rdb.HSet(ctx, s.workflowKey(workflowID), "status", string(status)).Err()
	})
}
