package sqlstore

import (
	"context"

	"github.com/ceruleanworks/foreman/internal/types"
)

func (q *queries) ListTaskArtifacts(ctx context.Context, projectID, taskID string) ([]*types.Artifact, error) {
	var out []*types.Artifact
	err := q.selectAll(ctx, &out, `
		SELECT * FROM artifacts WHERE project_id = ? AND task_id = ? ORDER BY created_at, id`,
		projectID, taskID)
	if err != nil {
		return nil, wrapErr("list artifacts", err)
	}
	return out, nil
}

func (q *queries) CreateArtifact(ctx context.Context, a *types.Artifact) error {
	_, err := q.exec(ctx, `
		INSERT INTO artifacts (id, project_id, task_id, kind, uri, digest, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProjectID, a.TaskID, a.Kind, a.URI, a.Digest, a.CreatedBy, a.CreatedAt)
	return wrapErr("create artifact", err)
}

func (q *queries) GetIntegrationAttempt(ctx context.Context, projectID, id string) (*types.IntegrationAttempt, error) {
	var a types.IntegrationAttempt
	err := q.get(ctx, &a, `
		SELECT * FROM integration_attempts WHERE project_id = ? AND id = ?`,
		projectID, id)
	if err != nil {
		return nil, wrapErr("get integration attempt", err)
	}
	return &a, nil
}

func (q *queries) ListIntegrationAttempts(ctx context.Context, projectID, taskID string) ([]*types.IntegrationAttempt, error) {
	var out []*types.IntegrationAttempt
	err := q.selectAll(ctx, &out, `
		SELECT * FROM integration_attempts WHERE project_id = ? AND task_id = ?
		ORDER BY enqueued_at, id`,
		projectID, taskID)
	if err != nil {
		return nil, wrapErr("list integration attempts", err)
	}
	return out, nil
}

func (q *queries) CreateIntegrationAttempt(ctx context.Context, a *types.IntegrationAttempt) error {
	_, err := q.exec(ctx, `
		INSERT INTO integration_attempts (id, project_id, task_id, status,
			result_payload, enqueued_by, enqueued_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProjectID, a.TaskID, a.Status,
		a.ResultPayload, a.EnqueuedBy, a.EnqueuedAt, a.CompletedAt)
	return wrapErr("create integration attempt", err)
}

func (q *queries) UpdateIntegrationAttempt(ctx context.Context, a *types.IntegrationAttempt) error {
	res, err := q.exec(ctx, `
		UPDATE integration_attempts SET status = ?, result_payload = ?, completed_at = ?
		WHERE id = ?`,
		a.Status, a.ResultPayload, a.CompletedAt, a.ID)
	return mustAffect("update integration attempt", res, err)
}
