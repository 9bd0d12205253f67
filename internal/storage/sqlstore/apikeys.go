package sqlstore

import (
	"context"
	"time"

	"github.com/ceruleanworks/foreman/internal/types"
)

func (q *queries) GetAPIKeyByHash(ctx context.Context, hash string) (*types.APIKey, error) {
	var k types.APIKey
	err := q.get(ctx, &k, `SELECT * FROM api_keys WHERE hash = ?`, hash)
	if err != nil {
		return nil, wrapErr("get api key", err)
	}
	return &k, nil
}

func (q *queries) ListAPIKeys(ctx context.Context, projectID string) ([]*types.APIKey, error) {
	var out []*types.APIKey
	err := q.selectAll(ctx, &out, `
		SELECT * FROM api_keys WHERE project_id = ? ORDER BY created_at, id`,
		projectID)
	if err != nil {
		return nil, wrapErr("list api keys", err)
	}
	return out, nil
}

func (q *queries) CreateAPIKey(ctx context.Context, k *types.APIKey) error {
	_, err := q.exec(ctx, `
		INSERT INTO api_keys (id, project_id, name, hash, status, role_scopes,
			created_by, created_at, last_used_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.ProjectID, k.Name, k.Hash, k.Status, k.RoleScopes,
		k.CreatedBy, k.CreatedAt, k.LastUsedAt, k.RevokedAt)
	return wrapErr("create api key", err)
}

func (q *queries) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	res, err := q.exec(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, usedAt, id)
	return mustAffect("touch api key", res, err)
}

func (q *queries) RevokeAPIKey(ctx context.Context, id string, revokedAt time.Time) error {
	res, err := q.exec(ctx, `
		UPDATE api_keys SET status = 'revoked', revoked_at = ?
		WHERE id = ? AND status = 'active'`,
		revokedAt, id)
	return mustAffect("revoke api key", res, err)
}
