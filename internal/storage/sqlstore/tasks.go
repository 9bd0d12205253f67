package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

func (q *queries) GetTask(ctx context.Context, projectID, id string) (*types.Task, error) {
	var t types.Task
	err := q.get(ctx, &t, `SELECT * FROM tasks WHERE project_id = ? AND id = ?`, projectID, id)
	if err != nil {
		return nil, wrapErr("get task", err)
	}
	return &t, nil
}

func (q *queries) LockTask(ctx context.Context, projectID, id string) (*types.Task, error) {
	var t types.Task
	err := q.get(ctx, &t, `SELECT * FROM tasks WHERE project_id = ? AND id = ?`+q.forUpdate(), projectID, id)
	if err != nil {
		return nil, wrapErr("lock task", err)
	}
	return &t, nil
}

func (q *queries) ListTasks(ctx context.Context, projectID string, filter storage.TaskFilter) ([]*types.Task, error) {
	query := `SELECT * FROM tasks WHERE project_id = ?`
	args := []any{projectID}

	if len(filter.States) > 0 {
		query += ` AND state IN (` + placeholders(len(filter.States)) + `)`
		for _, s := range filter.States {
			args = append(args, s)
		}
	}
	if len(filter.Classes) > 0 {
		query += ` AND task_class IN (` + placeholders(len(filter.Classes)) + `)`
		for _, c := range filter.Classes {
			args = append(args, c)
		}
	}
	if filter.PhaseID != "" {
		query += ` AND phase_id = ?`
		args = append(args, filter.PhaseID)
	}
	if filter.MilestoneID != "" {
		query += ` AND milestone_id = ?`
		args = append(args, filter.MilestoneID)
	}
	query += ` ORDER BY priority, created_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	var out []*types.Task
	if err := q.selectAll(ctx, &out, query, args...); err != nil {
		return nil, wrapErr("list tasks", err)
	}
	return out, nil
}

// readyRow joins a candidate task with its active reservation assignee.
type readyRow struct {
	types.Task
	ReservedFor *string `db:"reserved_for"`
}

// ReadyCandidates returns ready and reserved tasks whose predecessors are all
// satisfied and that carry no active lease, in dispatch order. Capability and
// assignee filtering happen in the caller.
func (q *queries) ReadyCandidates(ctx context.Context, projectID string) ([]*storage.ReadyCandidate, error) {
	var rows []*readyRow
	err := q.selectAll(ctx, &rows, `
		SELECT t.*, r.assignee_agent_id AS reserved_for
		FROM tasks t
		LEFT JOIN reservations r ON r.task_id = t.id AND r.status = 'active'
		WHERE t.project_id = ?
		  AND t.state IN ('ready', 'reserved')
		  AND NOT EXISTS (
		      SELECT 1 FROM leases l
		      WHERE l.task_id = t.id AND l.status = 'active')
		  AND NOT EXISTS (
		      SELECT 1 FROM dependencies d
		      JOIN tasks p ON p.id = d.from_task_id
		      WHERE d.to_task_id = t.id
		        AND NOT ((d.unlock_on = 'implemented' AND p.state IN ('implemented', 'integrated'))
		              OR (d.unlock_on = 'integrated' AND p.state = 'integrated')))
		ORDER BY t.priority, t.created_at, t.id`,
		projectID)
	if err != nil {
		return nil, wrapErr("ready candidates", err)
	}

	out := make([]*storage.ReadyCandidate, 0, len(rows))
	for _, r := range rows {
		task := r.Task
		out = append(out, &storage.ReadyCandidate{Task: &task, ReservedFor: r.ReservedFor})
	}
	return out, nil
}

func (q *queries) CreateTask(ctx context.Context, t *types.Task) error {
	_, err := q.exec(ctx, `
		INSERT INTO tasks (
			id, project_id, phase_id, milestone_id, title, description,
			state, priority, work_spec, task_class,
			capability_tags, exclusive_paths, shared_paths,
			introduced_in_plan_version, deprecated_in_plan_version,
			reviewed_by, review_evidence, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.PhaseID, t.MilestoneID, t.Title, t.Description,
		t.State, t.Priority, t.WorkSpec, t.TaskClass,
		t.CapabilityTags, t.ExclusivePaths, t.SharedPaths,
		t.IntroducedInPlanVersion, t.DeprecatedInPlanVersion,
		t.ReviewedBy, t.ReviewEvidence, t.Version, t.CreatedAt, t.UpdatedAt)
	return wrapErr("create task", err)
}

// UpdateTask rewrites every mutable column. The caller bumps Version before
// calling; mutations run under a task lock so no optimistic check is needed.
func (q *queries) UpdateTask(ctx context.Context, t *types.Task) error {
	res, err := q.exec(ctx, `
		UPDATE tasks SET
			title = ?, description = ?, state = ?, priority = ?,
			work_spec = ?, task_class = ?,
			capability_tags = ?, exclusive_paths = ?, shared_paths = ?,
			introduced_in_plan_version = ?, deprecated_in_plan_version = ?,
			reviewed_by = ?, review_evidence = ?, version = ?, updated_at = ?
		WHERE project_id = ? AND id = ?`,
		t.Title, t.Description, t.State, t.Priority,
		t.WorkSpec, t.TaskClass,
		t.CapabilityTags, t.ExclusivePaths, t.SharedPaths,
		t.IntroducedInPlanVersion, t.DeprecatedInPlanVersion,
		t.ReviewedBy, t.ReviewEvidence, t.Version, t.UpdatedAt,
		t.ProjectID, t.ID)
	return mustAffect("update task", res, err)
}

func (q *queries) ListDependencies(ctx context.Context, projectID string) ([]*types.Dependency, error) {
	var out []*types.Dependency
	err := q.selectAll(ctx, &out, `
		SELECT * FROM dependencies WHERE project_id = ? ORDER BY created_at, id`,
		projectID)
	if err != nil {
		return nil, wrapErr("list dependencies", err)
	}
	return out, nil
}

// ListPredecessors returns the edges into taskID joined with each
// predecessor's current state.
func (q *queries) ListPredecessors(ctx context.Context, projectID, taskID string) ([]*storage.PredecessorEdge, error) {
	type row struct {
		types.Dependency
		FromState types.TaskState `db:"from_state"`
	}
	var rows []*row
	err := q.selectAll(ctx, &rows, `
		SELECT d.*, p.state AS from_state
		FROM dependencies d
		JOIN tasks p ON p.id = d.from_task_id
		WHERE d.project_id = ? AND d.to_task_id = ?
		ORDER BY d.created_at, d.id`,
		projectID, taskID)
	if err != nil {
		return nil, wrapErr("list predecessors", err)
	}

	out := make([]*storage.PredecessorEdge, 0, len(rows))
	for _, r := range rows {
		edge := r.Dependency
		out = append(out, &storage.PredecessorEdge{Edge: &edge, FromState: r.FromState})
	}
	return out, nil
}

func (q *queries) CreateDependency(ctx context.Context, d *types.Dependency) error {
	_, err := q.exec(ctx, `
		INSERT INTO dependencies (id, project_id, from_task_id, to_task_id, unlock_on, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.FromTaskID, d.ToTaskID, d.UnlockOn, d.CreatedBy, d.CreatedAt)
	return wrapErr("create dependency", err)
}

func (q *queries) DeleteDependency(ctx context.Context, projectID, fromTaskID, toTaskID string) error {
	res, err := q.exec(ctx, `
		DELETE FROM dependencies WHERE project_id = ? AND from_task_id = ? AND to_task_id = ?`,
		projectID, fromTaskID, toTaskID)
	return mustAffect("delete dependency", res, err)
}

// placeholders builds "?, ?, ..." for an IN clause.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
