package core

import (
	"context"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// CreateTask creates a backlog task under a milestone. The milestone's phase
// must match the task's phase; the task records the plan version it was
// introduced in.
func (c *Core) CreateTask(ctx context.Context, req CreateTaskRequest) (*types.Task, error) {
	if req.MilestoneID == "" {
		return nil, apperr.New(apperr.IdentifierParentRequired, "task requires a milestone parent")
	}
	class := req.TaskClass
	if class == "" {
		class = types.ClassOther
	}
	if !class.Valid() {
		return nil, apperr.Newf(apperr.InvalidState, "unknown task class %q", class)
	}

	now := c.clock.Now()
	task := &types.Task{
		ID:             idgen.NewID(),
		ProjectID:      req.ProjectID,
		PhaseID:        req.PhaseID,
		MilestoneID:    req.MilestoneID,
		Title:          req.Title,
		Description:    req.Description,
		State:          types.StateBacklog,
		Priority:       req.Priority,
		WorkSpec:       req.WorkSpec,
		TaskClass:      class,
		CapabilityTags: req.CapabilityTags,
		ExclusivePaths: req.ExclusivePaths,
		SharedPaths:    req.SharedPaths,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if task.WorkSpec == nil {
		task.WorkSpec = types.JSONMap{}
	}
	if task.Priority == 0 {
		task.Priority = 100
	}

	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetProject(ctx, req.ProjectID); err != nil {
			return notFound(err, apperr.ProjectNotFound, "project not found")
		}
		milestone, err := tx.GetMilestone(ctx, req.ProjectID, req.MilestoneID)
		if err != nil {
			return notFound(err, apperr.IdentifierParentRequired, "milestone not found in project")
		}
		if milestone.PhaseID != req.PhaseID {
			return apperr.New(apperr.PhaseMilestoneMismatch, "milestone does not belong to the task's phase")
		}
		current, err := tx.CurrentPlanVersion(ctx, req.ProjectID)
		if err != nil {
			return err
		}
		task.IntroducedInPlanVersion = &current
		return tx.CreateTask(ctx, task)
	})
	if err != nil {
		return nil, c.fail("create_task", err)
	}
	return task, nil
}

// GetTask returns a task by id within a project.
func (c *Core) GetTask(ctx context.Context, projectID, taskID string) (*types.Task, error) {
	task, err := c.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return nil, c.fail("get_task", notFound(err, apperr.TaskNotFound, "task not found"))
	}
	return task, nil
}

// ListTasks returns tasks matching the filter in dispatch order.
func (c *Core) ListTasks(ctx context.Context, req ListTasksRequest) ([]*types.Task, error) {
	for _, s := range req.States {
		if !s.Valid() {
			return nil, apperr.Newf(apperr.InvalidState, "unknown task state %q", s)
		}
	}
	tasks, err := c.store.ListTasks(ctx, req.ProjectID, storage.TaskFilter{
		States:      req.States,
		Classes:     req.Classes,
		PhaseID:     req.PhaseID,
		MilestoneID: req.MilestoneID,
		Limit:       req.Limit,
	})
	if err != nil {
		return nil, c.fail("list_tasks", err)
	}
	return tasks, nil
}
