package core

import (
	"context"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// CreateArtifact attaches an output reference (diff, log, report) to a task.
func (c *Core) CreateArtifact(ctx context.Context, req CreateArtifactRequest) (*types.Artifact, error) {
	now := c.clock.Now()
	artifact := &types.Artifact{
		ID:        idgen.NewID(),
		ProjectID: req.ProjectID,
		TaskID:    req.TaskID,
		Kind:      req.Kind,
		URI:       req.URI,
		CreatedBy: req.Actor,
		CreatedAt: now,
	}
	if req.Digest != "" {
		digest := req.Digest
		artifact.Digest = &digest
	}

	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetTask(ctx, req.ProjectID, req.TaskID); err != nil {
			return notFound(err, apperr.TaskNotFound, "task not found")
		}
		if err := tx.CreateArtifact(ctx, artifact); err != nil {
			return err
		}
		return appendEvent(ctx, tx, req.ProjectID, types.EntityArtifact, artifact.ID,
			types.EventArtifactCreated, map[string]any{
				"task_id": req.TaskID, "kind": req.Kind, "uri": req.URI,
			}, req.Actor, now)
	})
	if err != nil {
		return nil, c.fail("create_artifact", err)
	}
	return artifact, nil
}

// ListTaskArtifacts returns a task's artifacts in creation order.
func (c *Core) ListTaskArtifacts(ctx context.Context, projectID, taskID string) ([]*types.Artifact, error) {
	if _, err := c.store.GetTask(ctx, projectID, taskID); err != nil {
		return nil, c.fail("list_task_artifacts", notFound(err, apperr.TaskNotFound, "task not found"))
	}
	artifacts, err := c.store.ListTaskArtifacts(ctx, projectID, taskID)
	if err != nil {
		return nil, c.fail("list_task_artifacts", err)
	}
	return artifacts, nil
}

// EnqueueIntegrationAttempt queues an integration try for an implemented
// task.
func (c *Core) EnqueueIntegrationAttempt(ctx context.Context, req EnqueueAttemptRequest) (*types.IntegrationAttempt, error) {
	now := c.clock.Now()
	attempt := &types.IntegrationAttempt{
		ID:            idgen.NewID(),
		ProjectID:     req.ProjectID,
		TaskID:        req.TaskID,
		Status:        types.AttemptQueued,
		ResultPayload: types.JSONMap{},
		EnqueuedBy:    req.Actor,
		EnqueuedAt:    now,
	}
	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		task, err := tx.LockTask(ctx, req.ProjectID, req.TaskID)
		if err != nil {
			return notFound(err, apperr.TaskNotFound, "task not found")
		}
		if task.State != types.StateImplemented {
			return apperr.Newf(apperr.StateNotAllowed,
				"integration attempts require an implemented task, state is %q", task.State)
		}
		if err := tx.CreateIntegrationAttempt(ctx, attempt); err != nil {
			return err
		}
		return appendEvent(ctx, tx, req.ProjectID, types.EntityIntegration, attempt.ID,
			types.EventIntegrationAttemptEnqueued, map[string]any{
				"task_id": req.TaskID,
			}, req.Actor, now)
	})
	if err != nil {
		return nil, c.fail("enqueue_integration_attempt", err)
	}
	return attempt, nil
}

// UpdateIntegrationAttemptResult records an attempt's progress or outcome.
// Terminal attempts admit no further updates.
func (c *Core) UpdateIntegrationAttemptResult(ctx context.Context, req UpdateAttemptResultRequest) (*types.IntegrationAttempt, error) {
	if !req.Status.Valid() {
		return nil, apperr.Newf(apperr.InvalidCheckStatus, "unknown attempt status %q", req.Status)
	}
	if req.Status == types.AttemptQueued {
		return nil, apperr.New(apperr.InvalidIntegrationResult, "attempt cannot return to queued")
	}

	now := c.clock.Now()
	var result *types.IntegrationAttempt

	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		attempt, err := tx.GetIntegrationAttempt(ctx, req.ProjectID, req.AttemptID)
		if err != nil {
			return notFound(err, apperr.IntegrationAttemptNotFound, "integration attempt not found")
		}
		if attempt.Status.Terminal() {
			return apperr.Newf(apperr.InvalidIntegrationResult,
				"attempt already completed with status %q", attempt.Status)
		}

		attempt.Status = req.Status
		if req.ResultPayload != nil {
			attempt.ResultPayload = req.ResultPayload
		}
		if req.Status.Terminal() {
			attempt.CompletedAt = &now
		}
		if err := tx.UpdateIntegrationAttempt(ctx, attempt); err != nil {
			return err
		}
		if req.Status.Terminal() {
			if err := appendEvent(ctx, tx, req.ProjectID, types.EntityIntegration, attempt.ID,
				types.EventIntegrationAttemptComplete, map[string]any{
					"task_id": attempt.TaskID, "status": req.Status,
				}, req.Actor, now); err != nil {
				return err
			}
		}
		result = attempt
		return nil
	})
	if err != nil {
		return nil, c.fail("update_integration_attempt_result", err)
	}
	return result, nil
}

// ListIntegrationAttempts returns a task's attempts in enqueue order.
func (c *Core) ListIntegrationAttempts(ctx context.Context, projectID, taskID string) ([]*types.IntegrationAttempt, error) {
	attempts, err := c.store.ListIntegrationAttempts(ctx, projectID, taskID)
	if err != nil {
		return nil, c.fail("list_integration_attempts", err)
	}
	return attempts, nil
}
