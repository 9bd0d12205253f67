package auth

import (
	"context"
	"errors"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// CreateAPIKeyRequest mints a new credential. ProjectID may be "*" for a
// global key.
type CreateAPIKeyRequest struct {
	ProjectID string   `json:"project_id"`
	Name      string   `json:"name"`
	Roles     []string `json:"roles"`
	Actor     string   `json:"actor"`
}

// CreateAPIKey mints a credential and returns it alongside the raw token.
// The raw token is shown exactly once; only its digest is stored.
func (k *Kernel) CreateAPIKey(ctx context.Context, req CreateAPIKeyRequest) (*types.APIKey, string, error) {
	if req.Name == "" {
		return nil, "", apperr.New(apperr.InvalidState, "key name is required")
	}
	if req.ProjectID == "" {
		return nil, "", apperr.New(apperr.InvalidState, "project id is required (use * for a global key)")
	}
	if len(req.Roles) == 0 {
		return nil, "", apperr.New(apperr.InvalidRoles, "at least one role is required")
	}
	for _, r := range req.Roles {
		if !types.Role(r).Valid() {
			return nil, "", apperr.Newf(apperr.InvalidRoles, "unknown role %q", r)
		}
	}
	if req.ProjectID != types.GlobalProjectScope {
		if _, err := k.store.GetProject(ctx, req.ProjectID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, "", apperr.New(apperr.ProjectNotFound, "project not found")
			}
			k.log.Error().Err(err).Msg("project lookup failed")
			return nil, "", apperr.Wrap(err)
		}
	}

	token, err := idgen.NewToken()
	if err != nil {
		k.log.Error().Err(err).Msg("token generation failed")
		return nil, "", apperr.Wrap(err)
	}
	now := k.clock.Now()
	key := &types.APIKey{
		ID:         idgen.NewID(),
		ProjectID:  req.ProjectID,
		Name:       req.Name,
		Hash:       idgen.HashToken(token),
		Status:     types.KeyActive,
		RoleScopes: req.Roles,
		CreatedBy:  req.Actor,
		CreatedAt:  now,
	}
	if err := k.store.RunInTx(ctx, func(tx storage.Tx) error {
		return tx.CreateAPIKey(ctx, key)
	}); err != nil {
		k.log.Error().Err(err).Msg("api key insert failed")
		return nil, "", apperr.Wrap(err)
	}
	return key, token, nil
}

// ListAPIKeys returns the keys scoped to a project, digests omitted from the
// JSON form by the entity's field tags.
func (k *Kernel) ListAPIKeys(ctx context.Context, projectID string) ([]*types.APIKey, error) {
	keys, err := k.store.ListAPIKeys(ctx, projectID)
	if err != nil {
		k.log.Error().Err(err).Msg("api key list failed")
		return nil, apperr.Wrap(err)
	}
	return keys, nil
}

// RevokeAPIKey retires an active credential. Revocation is effective on the
// next Authenticate call; there is no session state to invalidate.
func (k *Kernel) RevokeAPIKey(ctx context.Context, id string) error {
	revokedAt := k.clock.Now()
	err := k.store.RunInTx(ctx, func(tx storage.Tx) error {
		return tx.RevokeAPIKey(ctx, id, revokedAt)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.AuthInvalid, "no active key with that id")
		}
		k.log.Error().Err(err).Msg("api key revoke failed")
		return apperr.Wrap(err)
	}
	return nil
}
