package core

import (
	"context"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// CreateProject creates a project and its initial plan version. Plan
// history starts at version 1.
func (c *Core) CreateProject(ctx context.Context, req CreateProjectRequest) (*types.Project, error) {
	now := c.clock.Now()
	project := &types.Project{
		ID:        idgen.NewID(),
		Name:      req.Name,
		Status:    types.ProjectActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateProject(ctx, project); err != nil {
			return err
		}
		return tx.CreatePlanVersion(ctx, &types.PlanVersion{
			ID:            idgen.NewID(),
			ProjectID:     project.ID,
			VersionNumber: 1,
			Summary:       "initial plan",
			CreatedBy:     req.Actor,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return nil, c.fail("create_project", err)
	}
	return project, nil
}

// GetProject returns a project by id.
func (c *Core) GetProject(ctx context.Context, projectID string) (*types.Project, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, c.fail("get_project", notFound(err, apperr.ProjectNotFound, "project not found"))
	}
	return project, nil
}

// ListProjects returns every project.
func (c *Core) ListProjects(ctx context.Context) ([]*types.Project, error) {
	projects, err := c.store.ListProjects(ctx)
	if err != nil {
		return nil, c.fail("list_projects", err)
	}
	return projects, nil
}

// CreatePhase creates a phase. Sequence numbers are unique per project.
func (c *Core) CreatePhase(ctx context.Context, req CreatePhaseRequest) (*types.Phase, error) {
	phase := &types.Phase{
		ID:        idgen.NewID(),
		ProjectID: req.ProjectID,
		Name:      req.Name,
		Sequence:  req.Sequence,
		CreatedAt: c.clock.Now(),
	}
	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetProject(ctx, req.ProjectID); err != nil {
			return notFound(err, apperr.ProjectNotFound, "project not found")
		}
		if err := tx.CreatePhase(ctx, phase); err != nil {
			return notDuplicate(err, apperr.SequenceConflict, "phase sequence already used in project")
		}
		return nil
	})
	if err != nil {
		return nil, c.fail("create_phase", err)
	}
	return phase, nil
}

// CreateMilestone creates a milestone under a phase. Milestones always have
// a phase parent; sequence numbers are unique per phase.
func (c *Core) CreateMilestone(ctx context.Context, req CreateMilestoneRequest) (*types.Milestone, error) {
	if req.PhaseID == "" {
		return nil, apperr.New(apperr.IdentifierParentRequired, "milestone requires a phase parent")
	}
	milestone := &types.Milestone{
		ID:        idgen.NewID(),
		ProjectID: req.ProjectID,
		PhaseID:   req.PhaseID,
		Name:      req.Name,
		Sequence:  req.Sequence,
		CreatedAt: c.clock.Now(),
	}
	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetProject(ctx, req.ProjectID); err != nil {
			return notFound(err, apperr.ProjectNotFound, "project not found")
		}
		if _, err := tx.GetPhase(ctx, req.ProjectID, req.PhaseID); err != nil {
			return notFound(err, apperr.IdentifierParentRequired, "phase not found in project")
		}
		if err := tx.CreateMilestone(ctx, milestone); err != nil {
			return notDuplicate(err, apperr.SequenceConflict, "milestone sequence already used in phase")
		}
		return nil
	})
	if err != nil {
		return nil, c.fail("create_milestone", err)
	}
	return milestone, nil
}
