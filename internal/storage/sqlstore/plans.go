package sqlstore

import (
	"context"

	"github.com/ceruleanworks/foreman/internal/types"
)

// CurrentPlanVersion returns the project's highest plan version number.
// Zero means the project does not exist; every created project starts at 1.
func (q *queries) CurrentPlanVersion(ctx context.Context, projectID string) (int64, error) {
	var v int64
	err := q.get(ctx, &v, `
		SELECT COALESCE(MAX(version_number), 0) FROM plan_versions WHERE project_id = ?`,
		projectID)
	if err != nil {
		return 0, wrapErr("current plan version", err)
	}
	return v, nil
}

func (q *queries) GetPlanVersion(ctx context.Context, projectID string, versionNumber int64) (*types.PlanVersion, error) {
	var v types.PlanVersion
	err := q.get(ctx, &v, `
		SELECT * FROM plan_versions WHERE project_id = ? AND version_number = ?`,
		projectID, versionNumber)
	if err != nil {
		return nil, wrapErr("get plan version", err)
	}
	return &v, nil
}

func (q *queries) CreatePlanVersion(ctx context.Context, v *types.PlanVersion) error {
	_, err := q.exec(ctx, `
		INSERT INTO plan_versions (id, project_id, version_number, change_set_id, summary, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ProjectID, v.VersionNumber, v.ChangeSetID, v.Summary, v.CreatedBy, v.CreatedAt)
	return wrapErr("create plan version", err)
}

func (q *queries) GetChangeSet(ctx context.Context, projectID, id string) (*types.PlanChangeSet, error) {
	var cs types.PlanChangeSet
	err := q.get(ctx, &cs, `SELECT * FROM plan_changesets WHERE project_id = ? AND id = ?`, projectID, id)
	if err != nil {
		return nil, wrapErr("get changeset", err)
	}
	return &cs, nil
}

func (q *queries) CreateChangeSet(ctx context.Context, cs *types.PlanChangeSet) error {
	_, err := q.exec(ctx, `
		INSERT INTO plan_changesets (id, project_id, base_plan_version, target_plan_version,
			status, operations, impact_preview, created_by, created_at, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cs.ID, cs.ProjectID, cs.BasePlanVersion, cs.TargetPlanVersion,
		cs.Status, cs.Operations, cs.ImpactPreview, cs.CreatedBy, cs.CreatedAt, cs.AppliedAt)
	return wrapErr("create changeset", err)
}

func (q *queries) UpdateChangeSet(ctx context.Context, cs *types.PlanChangeSet) error {
	res, err := q.exec(ctx, `
		UPDATE plan_changesets SET status = ?, target_plan_version = ?, impact_preview = ?, applied_at = ?
		WHERE id = ?`,
		cs.Status, cs.TargetPlanVersion, cs.ImpactPreview, cs.AppliedAt, cs.ID)
	return mustAffect("update changeset", res, err)
}
