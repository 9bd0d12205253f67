package auth

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/config"
	"github.com/ceruleanworks/foreman/internal/core"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/storage/sqlstore"
	"github.com/ceruleanworks/foreman/internal/types"
)

type testEnv struct {
	t       *testing.T
	K       *Kernel
	Store   storage.Store
	Ctx     context.Context
	Clock   *idgen.FixedClock
	Project *types.Project
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, config.Default())
}

func newTestEnvWith(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	store, err := sqlstore.Open(context.Background(),
		storage.Config{URL: t.TempDir() + "/test.db"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	clock := &idgen.FixedClock{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := &testEnv{
		t:     t,
		K:     New(store, cfg, clock, zerolog.Nop()),
		Store: store,
		Ctx:   context.Background(),
		Clock: clock,
	}

	c := core.New(store, cfg, clock, zerolog.Nop())
	e.Project, err = c.CreateProject(e.Ctx, core.CreateProjectRequest{Name: "auth project", Actor: "planner-1"})
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	return e
}

// mintKey creates a key scoped to the env's project and authenticates it.
func (e *testEnv) mintKey(name string, roles ...string) (*Context, *types.APIKey, string) {
	e.t.Helper()
	return e.mintKeyFor(e.Project.ID, name, roles...)
}

func (e *testEnv) mintKeyFor(projectID, name string, roles ...string) (*Context, *types.APIKey, string) {
	e.t.Helper()
	key, token, err := e.K.CreateAPIKey(e.Ctx, CreateAPIKeyRequest{
		ProjectID: projectID, Name: name, Roles: roles, Actor: "admin-1",
	})
	if err != nil {
		e.t.Fatalf("CreateAPIKey(%s) failed: %v", name, err)
	}
	caller, err := e.K.Authenticate(e.Ctx, token)
	if err != nil {
		e.t.Fatalf("Authenticate(%s) failed: %v", name, err)
	}
	return caller, key, token
}

func (e *testEnv) deniedEvents() []*types.Event {
	e.t.Helper()
	events, err := e.Store.ListEvents(e.Ctx, storage.EventQuery{
		ProjectID: e.Project.ID, EventType: types.EventAuthDenied,
	})
	if err != nil {
		e.t.Fatalf("ListEvents failed: %v", err)
	}
	return events
}

func wantCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	if got := apperr.CodeOf(err); got != code {
		t.Fatalf("expected code %s, got %s (%v)", code, got, err)
	}
}

func TestAuthenticateMissingToken(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.K.Authenticate(e.Ctx, "")
	wantCode(t, err, apperr.AuthMissing)
}

func TestAuthenticateUnknownToken(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.K.Authenticate(e.Ctx, "tsk_deadbeef")
	wantCode(t, err, apperr.AuthInvalid)
}

func TestAuthenticateRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	caller, key, _ := e.mintKey("ci-agent", "agent")

	if caller.APIKeyID != key.ID {
		t.Errorf("expected caller bound to key %s, got %s", key.ID, caller.APIKeyID)
	}
	if caller.ProjectID != e.Project.ID || caller.Name != "ci-agent" {
		t.Errorf("unexpected caller identity %+v", caller)
	}
	if !caller.HasRole(types.RoleAgent) || caller.HasRole(types.RoleAdmin) {
		t.Errorf("unexpected caller roles %v", caller.Roles)
	}

	// Authentication touches last_used_at.
	keys, err := e.K.ListAPIKeys(e.Ctx, e.Project.ID)
	if err != nil {
		t.Fatalf("ListAPIKeys failed: %v", err)
	}
	if len(keys) != 1 || keys[0].LastUsedAt == nil {
		t.Errorf("expected last_used_at recorded, got %+v", keys)
	}
}

func TestAuthenticateRevokedKey(t *testing.T) {
	e := newTestEnv(t)
	_, key, token := e.mintKey("short lived", "agent")

	if err := e.K.RevokeAPIKey(e.Ctx, key.ID); err != nil {
		t.Fatalf("RevokeAPIKey failed: %v", err)
	}
	_, err := e.K.Authenticate(e.Ctx, token)
	wantCode(t, err, apperr.AuthInvalid)
}

func TestAuthDisabledGrantsAnonymousAdmin(t *testing.T) {
	cfg := config.Default()
	cfg.AuthDisabled = true
	e := newTestEnvWith(t, cfg)

	caller, err := e.K.Authenticate(e.Ctx, "")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !caller.Anonymous || caller.ProjectID != types.GlobalProjectScope {
		t.Errorf("expected anonymous global identity, got %+v", caller)
	}
	if err := e.K.Authorize(e.Ctx, caller, EndpointCreateAPIKey, ""); err != nil {
		t.Errorf("expected anonymous admin to pass admin endpoints: %v", err)
	}
}

func TestAuthorizeRoleMatrix(t *testing.T) {
	e := newTestEnv(t)
	planner, _, _ := e.mintKey("planner", "planner")
	agent, _, _ := e.mintKey("agent", "agent")
	admin, _, _ := e.mintKey("root", "admin")

	err := e.K.Authorize(e.Ctx, planner, EndpointClaimTask, e.Project.ID)
	wantCode(t, err, apperr.InsufficientRole)

	if err := e.K.Authorize(e.Ctx, agent, EndpointClaimTask, e.Project.ID); err != nil {
		t.Errorf("expected agent allowed to claim: %v", err)
	}
	// Admin passes every role check.
	if err := e.K.Authorize(e.Ctx, admin, EndpointClaimTask, e.Project.ID); err != nil {
		t.Errorf("expected admin to pass: %v", err)
	}
	// An unlisted read endpoint admits any authenticated caller.
	if err := e.K.Authorize(e.Ctx, planner, EndpointListTasks, e.Project.ID); err != nil {
		t.Errorf("expected read endpoint open to any key: %v", err)
	}
}

func TestAuthorizeProjectScope(t *testing.T) {
	e := newTestEnv(t)
	scoped, _, _ := e.mintKey("scoped", "planner")
	global, _, _ := e.mintKeyFor(types.GlobalProjectScope, "roaming", "planner")

	err := e.K.Authorize(e.Ctx, scoped, EndpointCreateTask, "some-other-project")
	wantCode(t, err, apperr.ProjectScopeViolation)

	if err := e.K.Authorize(e.Ctx, scoped, EndpointCreateTask, e.Project.ID); err != nil {
		t.Errorf("expected in-scope call allowed: %v", err)
	}
	if err := e.K.Authorize(e.Ctx, global, EndpointCreateTask, e.Project.ID); err != nil {
		t.Errorf("expected global key allowed everywhere: %v", err)
	}
}

func TestDenialEmitsAuditEvent(t *testing.T) {
	e := newTestEnv(t)
	agent, key, _ := e.mintKey("agent", "agent")

	if err := e.K.Authorize(e.Ctx, agent, EndpointCreateProject, e.Project.ID); err == nil {
		t.Fatal("expected denial")
	}

	events := e.deniedEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 auth_denied event, got %d", len(events))
	}
	ev := events[0]
	if ev.CausedBy == nil || *ev.CausedBy != key.ID {
		t.Errorf("expected event attributed to key %s, got %v", key.ID, ev.CausedBy)
	}
}

func TestAuditSkippedWithoutConcreteProject(t *testing.T) {
	e := newTestEnv(t)
	caller := &Context{ProjectID: types.GlobalProjectScope, Roles: []types.Role{types.RoleReviewer}}

	err := e.K.Authorize(e.Ctx, caller, EndpointCreateAPIKey, "")
	wantCode(t, err, apperr.InsufficientRole)
	if len(e.deniedEvents()) != 0 {
		t.Error("expected no audit row when only the global scope is available")
	}
}

func TestCreateAPIKeyValidation(t *testing.T) {
	e := newTestEnv(t)

	_, _, err := e.K.CreateAPIKey(e.Ctx, CreateAPIKeyRequest{
		ProjectID: e.Project.ID, Name: "no roles", Actor: "admin-1",
	})
	wantCode(t, err, apperr.InvalidRoles)

	_, _, err = e.K.CreateAPIKey(e.Ctx, CreateAPIKeyRequest{
		ProjectID: e.Project.ID, Name: "bad role", Roles: []string{"wizard"}, Actor: "admin-1",
	})
	wantCode(t, err, apperr.InvalidRoles)

	_, _, err = e.K.CreateAPIKey(e.Ctx, CreateAPIKeyRequest{
		ProjectID: "ghost", Name: "orphan", Roles: []string{"agent"}, Actor: "admin-1",
	})
	wantCode(t, err, apperr.ProjectNotFound)
}

func TestRevokeUnknownKey(t *testing.T) {
	e := newTestEnv(t)
	err := e.K.RevokeAPIKey(e.Ctx, "no-such-key")
	wantCode(t, err, apperr.AuthInvalid)
}
