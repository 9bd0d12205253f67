package sqlstore

import (
	"context"

	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

func (q *queries) GetGateRule(ctx context.Context, projectID, id string) (*types.GateRule, error) {
	var r types.GateRule
	err := q.get(ctx, &r, `SELECT * FROM gate_rules WHERE project_id = ? AND id = ?`, projectID, id)
	if err != nil {
		return nil, wrapErr("get gate rule", err)
	}
	return &r, nil
}

func (q *queries) ListGateRules(ctx context.Context, projectID string) ([]*types.GateRule, error) {
	var out []*types.GateRule
	err := q.selectAll(ctx, &out, `
		SELECT * FROM gate_rules WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, wrapErr("list gate rules", err)
	}
	return out, nil
}

func (q *queries) CreateGateRule(ctx context.Context, r *types.GateRule) error {
	_, err := q.exec(ctx, `
		INSERT INTO gate_rules (id, project_id, name, gate_type,
			required_evidence, required_reviewer_roles, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.Name, r.GateType,
		r.RequiredEvidence, r.RequiredReviewerRoles, r.CreatedBy, r.CreatedAt)
	return wrapErr("create gate rule", err)
}

func (q *queries) ListGateDecisions(ctx context.Context, projectID string, filter storage.GateDecisionFilter) ([]*types.GateDecision, error) {
	query := `SELECT * FROM gate_decisions WHERE project_id = ?`
	args := []any{projectID}
	if filter.TaskID != "" {
		query += ` AND task_id = ?`
		args = append(args, filter.TaskID)
	}
	if filter.PhaseID != "" {
		query += ` AND phase_id = ?`
		args = append(args, filter.PhaseID)
	}
	query += ` ORDER BY created_at, id`

	var out []*types.GateDecision
	if err := q.selectAll(ctx, &out, query, args...); err != nil {
		return nil, wrapErr("list gate decisions", err)
	}
	return out, nil
}

// HasApprovingDecision reports whether any recorded decision approves the
// task (approved or approved_with_risk).
func (q *queries) HasApprovingDecision(ctx context.Context, projectID, taskID string) (bool, error) {
	var n int
	err := q.get(ctx, &n, `
		SELECT COUNT(*) FROM gate_decisions
		WHERE project_id = ? AND task_id = ? AND outcome IN ('approved', 'approved_with_risk')`,
		projectID, taskID)
	if err != nil {
		return false, wrapErr("has approving decision", err)
	}
	return n > 0, nil
}

func (q *queries) CreateGateDecision(ctx context.Context, d *types.GateDecision) error {
	_, err := q.exec(ctx, `
		INSERT INTO gate_decisions (id, project_id, rule_id, task_id, phase_id,
			outcome, decided_by, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.RuleID, d.TaskID, d.PhaseID,
		d.Outcome, d.DecidedBy, d.Notes, d.CreatedAt)
	return wrapErr("create gate decision", err)
}
