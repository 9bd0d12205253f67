package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// testEnv provides a test environment with common setup and helpers.
// Use newTestEnv(t) to create one with automatic cleanup.
type testEnv struct {
	t     *testing.T
	Store *Store
	Ctx   context.Context
	Now   time.Time

	project   *types.Project
	phase     *types.Phase
	milestone *types.Milestone
}

// newTestEnv creates a store on a temp-file SQLite database and seeds one
// project with a phase and milestone for tasks to hang off.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		t:     t,
		Store: newTestStore(t),
		Ctx:   context.Background(),
		Now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	e.project = &types.Project{
		ID: idgen.NewID(), Name: "test project", Status: types.ProjectActive,
		CreatedAt: e.Now, UpdatedAt: e.Now,
	}
	e.phase = &types.Phase{
		ID: idgen.NewID(), ProjectID: e.project.ID, Name: "phase 1", Sequence: 1, CreatedAt: e.Now,
	}
	e.milestone = &types.Milestone{
		ID: idgen.NewID(), ProjectID: e.project.ID, PhaseID: e.phase.ID,
		Name: "milestone 1", Sequence: 1, CreatedAt: e.Now,
	}
	e.InTx(func(tx storage.Tx) error {
		if err := tx.CreateProject(e.Ctx, e.project); err != nil {
			return err
		}
		if err := tx.CreatePhase(e.Ctx, e.phase); err != nil {
			return err
		}
		return tx.CreateMilestone(e.Ctx, e.milestone)
	})
	return e
}

// newTestStore creates a Store on a temp file. Each test gets its own
// database; temp files are more reliable than shared :memory: across the
// connection pool.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := storage.Config{URL: t.TempDir() + "/test.db"}
	store, err := Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})
	return store
}

// InTx runs fn in a transaction and fails the test on error.
func (e *testEnv) InTx(fn func(tx storage.Tx) error) {
	e.t.Helper()
	if err := e.Store.RunInTx(e.Ctx, fn); err != nil {
		e.t.Fatalf("RunInTx failed: %v", err)
	}
}

// CreateTask inserts a backlog task with defaults.
func (e *testEnv) CreateTask(title string) *types.Task {
	e.t.Helper()
	return e.CreateTaskWith(title, types.StateBacklog, 100)
}

// CreateTaskWith inserts a task with the given state and priority.
func (e *testEnv) CreateTaskWith(title string, state types.TaskState, priority int) *types.Task {
	e.t.Helper()
	task := &types.Task{
		ID: idgen.NewID(), ProjectID: e.project.ID,
		PhaseID: e.phase.ID, MilestoneID: e.milestone.ID,
		Title: title, State: state, Priority: priority,
		WorkSpec: types.JSONMap{}, TaskClass: types.ClassBackend,
		Version: 1, CreatedAt: e.Now, UpdatedAt: e.Now,
	}
	e.Now = e.Now.Add(time.Second)
	e.InTx(func(tx storage.Tx) error {
		return tx.CreateTask(e.Ctx, task)
	})
	return task
}

// AddDep links from -> to with the given unlock mode.
func (e *testEnv) AddDep(from, to *types.Task, unlockOn types.UnlockOn) {
	e.t.Helper()
	dep := &types.Dependency{
		ID: idgen.NewID(), ProjectID: e.project.ID,
		FromTaskID: from.ID, ToTaskID: to.ID,
		UnlockOn: unlockOn, CreatedBy: "test-user", CreatedAt: e.Now,
	}
	e.InTx(func(tx storage.Tx) error {
		return tx.CreateDependency(e.Ctx, dep)
	})
}

// SetState moves a task to the given state directly, bypassing the state
// machine. Storage tests only.
func (e *testEnv) SetState(task *types.Task, state types.TaskState) {
	e.t.Helper()
	task.State = state
	task.Version++
	task.UpdatedAt = e.Now
	e.InTx(func(tx storage.Tx) error {
		return tx.UpdateTask(e.Ctx, task)
	})
}

// GrantLease inserts an active lease on the task.
func (e *testEnv) GrantLease(task *types.Task, agentID string, counter int64) *types.Lease {
	e.t.Helper()
	lease := &types.Lease{
		ID: idgen.NewID(), ProjectID: e.project.ID, TaskID: task.ID,
		AgentID: agentID, Token: e.NewToken(), Status: types.GrantActive,
		ExpiresAt: e.Now.Add(5 * time.Minute), HeartbeatAt: e.Now,
		FencingCounter: counter, CreatedAt: e.Now,
	}
	e.InTx(func(tx storage.Tx) error {
		return tx.CreateLease(e.Ctx, lease)
	})
	return lease
}

// NewToken returns a fresh lease token, failing the test on entropy errors.
func (e *testEnv) NewToken() string {
	e.t.Helper()
	tok, err := idgen.NewToken()
	if err != nil {
		e.t.Fatalf("NewToken failed: %v", err)
	}
	return tok
}

// Reserve inserts an active reservation for the assignee.
func (e *testEnv) Reserve(task *types.Task, assignee string) *types.Reservation {
	e.t.Helper()
	res := &types.Reservation{
		ID: idgen.NewID(), ProjectID: e.project.ID, TaskID: task.ID,
		AssigneeAgentID: assignee, Status: types.GrantActive,
		TTLSeconds: 600, ExpiresAt: e.Now.Add(10 * time.Minute),
		CreatedBy: "test-user", CreatedAt: e.Now,
	}
	e.InTx(func(tx storage.Tx) error {
		return tx.CreateReservation(e.Ctx, res)
	})
	return res
}

// ReadyIDs returns the set of candidate task ids.
func (e *testEnv) ReadyIDs() map[string]bool {
	e.t.Helper()
	candidates, err := e.Store.ReadyCandidates(e.Ctx, e.project.ID)
	if err != nil {
		e.t.Fatalf("ReadyCandidates failed: %v", err)
	}
	ids := make(map[string]bool)
	for _, c := range candidates {
		ids[c.Task.ID] = true
	}
	return ids
}

// AssertReady asserts that the task is a ready candidate.
func (e *testEnv) AssertReady(task *types.Task) {
	e.t.Helper()
	if !e.ReadyIDs()[task.ID] {
		e.t.Errorf("expected %s (%s) to be ready, but it was excluded", task.ID, task.Title)
	}
}

// AssertNotReady asserts that the task is NOT a ready candidate.
func (e *testEnv) AssertNotReady(task *types.Task) {
	e.t.Helper()
	if e.ReadyIDs()[task.ID] {
		e.t.Errorf("expected %s (%s) to be excluded, but it was ready", task.ID, task.Title)
	}
}

// AppendEvent appends a minimal event of the given type for the task.
func (e *testEnv) AppendEvent(eventType types.EventType, taskID string, payload string) *types.Event {
	e.t.Helper()
	ev := &types.Event{
		ProjectID:  e.project.ID,
		EntityType: types.EntityTask,
		EntityID:   &taskID,
		EventType:  eventType,
		Payload:    []byte(payload),
		CreatedAt:  e.Now,
	}
	e.InTx(func(tx storage.Tx) error {
		return tx.AppendEvent(e.Ctx, ev)
	})
	return ev
}
