// Package auth implements the authentication and authorization kernel:
// bearer credential lookup, endpoint role checks, project scoping, and
// audit emission on denial.
package auth

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/config"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// Context is the authenticated caller identity attached to a request.
type Context struct {
	APIKeyID  string
	ProjectID string
	Name      string
	Roles     []types.Role

	// Anonymous marks the auth-disabled test-harness identity.
	Anonymous bool
}

// HasRole reports whether the caller carries the role.
func (c *Context) HasRole(role types.Role) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Kernel authenticates bearer tokens and authorizes endpoint calls.
type Kernel struct {
	store    storage.Store
	clock    idgen.Clock
	disabled bool
	log      zerolog.Logger
}

// New creates a Kernel. When cfg.AuthDisabled is set every request acts as
// an anonymous global admin; test harness use only.
func New(store storage.Store, cfg *config.Config, clock idgen.Clock, log zerolog.Logger) *Kernel {
	return &Kernel{store: store, clock: clock, disabled: cfg.AuthDisabled, log: log}
}

// Authenticate resolves a raw bearer token to a caller context. The token
// is hashed and looked up; only the digest is ever stored or compared.
func (k *Kernel) Authenticate(ctx context.Context, token string) (*Context, error) {
	if k.disabled {
		return &Context{
			ProjectID: types.GlobalProjectScope,
			Name:      "anonymous-admin",
			Roles:     []types.Role{types.RoleAdmin},
			Anonymous: true,
		}, nil
	}
	if token == "" {
		return nil, apperr.New(apperr.AuthMissing, "missing bearer token")
	}

	key, err := k.store.GetAPIKeyByHash(ctx, idgen.HashToken(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.New(apperr.AuthInvalid, "unknown credential")
		}
		k.log.Error().Err(err).Msg("credential lookup failed")
		return nil, apperr.Wrap(err)
	}
	if key.Status != types.KeyActive {
		return nil, apperr.New(apperr.AuthInvalid, "credential revoked")
	}

	now := k.clock.Now()
	if err := k.store.RunInTx(ctx, func(tx storage.Tx) error {
		return tx.TouchAPIKey(ctx, key.ID, now)
	}); err != nil {
		// last_used_at is advisory; a failed touch never blocks the caller.
		k.log.Warn().Err(err).Str("api_key_id", key.ID).Msg("failed to update last_used_at")
	}

	return &Context{
		APIKeyID:  key.ID,
		ProjectID: key.ProjectID,
		Name:      key.Name,
		Roles:     key.Roles(),
	}, nil
}

// Authorize checks the caller against the endpoint's role set and, when the
// operation targets a project, the key's project scope. Denials emit a
// durable auth_denied audit event on a best-effort basis.
func (k *Kernel) Authorize(ctx context.Context, caller *Context, endpoint, projectID string) error {
	required := endpointRoles[endpoint]
	if len(required) > 0 && !k.allowedByRole(caller, required) {
		err := apperr.Newf(apperr.InsufficientRole, "endpoint %s requires one of %v", endpoint, required)
		k.audit(ctx, caller, endpoint, projectID, "insufficient_role", required)
		return err
	}
	if projectID != "" && caller.ProjectID != types.GlobalProjectScope && caller.ProjectID != projectID {
		err := apperr.New(apperr.ProjectScopeViolation, "credential is scoped to another project")
		k.audit(ctx, caller, endpoint, projectID, "project_scope_violation", nil)
		return err
	}
	return nil
}

func (k *Kernel) allowedByRole(caller *Context, required []types.Role) bool {
	if caller.HasRole(types.RoleAdmin) {
		return true
	}
	for _, role := range required {
		if caller.HasRole(role) {
			return true
		}
	}
	return false
}

// audit writes the auth_denied event. Failures are logged, never surfaced;
// audit must not mask the denial itself.
func (k *Kernel) audit(ctx context.Context, caller *Context, endpoint, projectID, reason string, required []types.Role) {
	auditProject := projectID
	if auditProject == "" {
		auditProject = caller.ProjectID
	}
	if auditProject == "" || auditProject == types.GlobalProjectScope {
		return
	}

	payload := map[string]any{
		"reason":   reason,
		"endpoint": endpoint,
	}
	if len(caller.Roles) > 0 {
		payload["caller_roles"] = caller.Roles
	}
	if len(required) > 0 {
		payload["required_roles"] = required
	}

	now := k.clock.Now()
	err := k.store.RunInTx(ctx, func(tx storage.Tx) error {
		ev := &types.Event{
			ProjectID:  auditProject,
			EntityType: types.EntityAuth,
			EventType:  types.EventAuthDenied,
			CreatedAt:  now,
		}
		raw, err := idgen.CanonicalJSON(payload)
		if err != nil {
			return err
		}
		ev.Payload = raw
		if caller.APIKeyID != "" {
			keyID := caller.APIKeyID
			ev.CausedBy = &keyID
		}
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		k.log.Warn().Err(err).Str("endpoint", endpoint).Msg("failed to write auth_denied audit event")
	}
}
