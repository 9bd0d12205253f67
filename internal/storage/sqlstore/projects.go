package sqlstore

import (
	"context"
	"time"

	"github.com/ceruleanworks/foreman/internal/types"
)

func (q *queries) GetProject(ctx context.Context, id string) (*types.Project, error) {
	var p types.Project
	err := q.get(ctx, &p, `SELECT * FROM projects WHERE id = ?`, id)
	if err != nil {
		return nil, wrapErr("get project", err)
	}
	return &p, nil
}

func (q *queries) ListProjects(ctx context.Context) ([]*types.Project, error) {
	var out []*types.Project
	err := q.selectAll(ctx, &out, `SELECT * FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, wrapErr("list projects", err)
	}
	return out, nil
}

func (q *queries) LockProject(ctx context.Context, id string) (*types.Project, error) {
	var p types.Project
	err := q.get(ctx, &p, `SELECT * FROM projects WHERE id = ?`+q.forUpdate(), id)
	if err != nil {
		return nil, wrapErr("lock project", err)
	}
	return &p, nil
}

func (q *queries) CreateProject(ctx context.Context, p *types.Project) error {
	_, err := q.exec(ctx, `
		INSERT INTO projects (id, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Status, p.CreatedAt, p.UpdatedAt)
	return wrapErr("create project", err)
}

func (q *queries) UpdateProjectStatus(ctx context.Context, id string, status types.ProjectStatus, now time.Time) error {
	res, err := q.exec(ctx, `
		UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
		status, now, id)
	return mustAffect("update project status", res, err)
}

func (q *queries) GetPhase(ctx context.Context, projectID, id string) (*types.Phase, error) {
	var p types.Phase
	err := q.get(ctx, &p, `SELECT * FROM phases WHERE project_id = ? AND id = ?`, projectID, id)
	if err != nil {
		return nil, wrapErr("get phase", err)
	}
	return &p, nil
}

func (q *queries) CreatePhase(ctx context.Context, p *types.Phase) error {
	_, err := q.exec(ctx, `
		INSERT INTO phases (id, project_id, name, sequence, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.ProjectID, p.Name, p.Sequence, p.CreatedAt)
	return wrapErr("create phase", err)
}

func (q *queries) GetMilestone(ctx context.Context, projectID, id string) (*types.Milestone, error) {
	var m types.Milestone
	err := q.get(ctx, &m, `SELECT * FROM milestones WHERE project_id = ? AND id = ?`, projectID, id)
	if err != nil {
		return nil, wrapErr("get milestone", err)
	}
	return &m, nil
}

func (q *queries) CreateMilestone(ctx context.Context, m *types.Milestone) error {
	_, err := q.exec(ctx, `
		INSERT INTO milestones (id, project_id, phase_id, name, sequence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.PhaseID, m.Name, m.Sequence, m.CreatedAt)
	return wrapErr("create milestone", err)
}
