package core

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/config"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/storage/sqlstore"
	"github.com/ceruleanworks/foreman/internal/types"
)

// testEnv wires a Core to a temp-file SQLite store with a pinned clock and
// seeds one project with a phase and milestone.
type testEnv struct {
	t     *testing.T
	Core  *Core
	Store storage.Store
	Ctx   context.Context
	Clock *idgen.FixedClock
	Cfg   *config.Config

	Project   *types.Project
	Phase     *types.Phase
	Milestone *types.Milestone
}

func newTestEnv(t *testing.T) *testEnv {
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
	cfg := config.Default()
	e := &testEnv{
		t:     t,
		Core:  New(store, cfg, clock, zerolog.Nop()),
		Store: store,
		Ctx:   context.Background(),
		Clock: clock,
		Cfg:   cfg,
	}

	e.Project, err = e.Core.CreateProject(e.Ctx, CreateProjectRequest{Name: "test project", Actor: "planner-1"})
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	e.Phase, err = e.Core.CreatePhase(e.Ctx, CreatePhaseRequest{
		ProjectID: e.Project.ID, Name: "phase 1", Sequence: 1, Actor: "planner-1",
	})
	if err != nil {
		t.Fatalf("CreatePhase failed: %v", err)
	}
	e.Milestone, err = e.Core.CreateMilestone(e.Ctx, CreateMilestoneRequest{
		ProjectID: e.Project.ID, PhaseID: e.Phase.ID, Name: "milestone 1", Sequence: 1, Actor: "planner-1",
	})
	if err != nil {
		t.Fatalf("CreateMilestone failed: %v", err)
	}
	return e
}

// NewTask creates a backlog task with defaults.
func (e *testEnv) NewTask(title string) *types.Task {
	e.t.Helper()
	return e.NewTaskWith(title, CreateTaskRequest{})
}

// NewTaskWith creates a backlog task, filling in the parent identifiers.
func (e *testEnv) NewTaskWith(title string, req CreateTaskRequest) *types.Task {
	e.t.Helper()
	req.ProjectID = e.Project.ID
	req.PhaseID = e.Phase.ID
	req.MilestoneID = e.Milestone.ID
	req.Title = title
	if req.TaskClass == "" {
		req.TaskClass = types.ClassBackend
	}
	if req.Actor == "" {
		req.Actor = "planner-1"
	}
	task, err := e.Core.CreateTask(e.Ctx, req)
	if err != nil {
		e.t.Fatalf("CreateTask(%s) failed: %v", title, err)
	}
	return task
}

// ReadyTask creates a task and promotes it to ready.
func (e *testEnv) ReadyTask(title string) *types.Task {
	e.t.Helper()
	task := e.NewTask(title)
	return e.Transition(task, types.StateReady)
}

// Transition moves a task along the state machine, failing the test on error.
func (e *testEnv) Transition(task *types.Task, to types.TaskState) *types.Task {
	e.t.Helper()
	updated, err := e.Core.TransitionTaskState(e.Ctx, TransitionRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, ToState: to, Actor: "test-actor",
	})
	if err != nil {
		e.t.Fatalf("Transition %s -> %s failed: %v", task.State, to, err)
	}
	return updated
}

// Claim claims a task for an agent, failing the test on error.
func (e *testEnv) Claim(task *types.Task, agentID string) *ClaimResult {
	e.t.Helper()
	result, err := e.Core.ClaimTask(e.Ctx, ClaimRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AgentID: agentID,
	})
	if err != nil {
		e.t.Fatalf("ClaimTask(%s) failed: %v", task.Title, err)
	}
	return result
}

// Integrate drives a claimed task through in_progress and implemented into
// integrated with valid review fields.
func (e *testEnv) Integrate(task *types.Task, agentID, reviewer string) *types.Task {
	e.t.Helper()
	e.Transition(task, types.StateInProgress)
	e.Transition(task, types.StateImplemented)
	updated, err := e.Core.TransitionTaskState(e.Ctx, TransitionRequest{
		ProjectID:    e.Project.ID,
		TaskID:       task.ID,
		ToState:      types.StateIntegrated,
		Actor:        agentID,
		ReviewedBy:   reviewer,
		EvidenceRefs: []string{"https://ci.example.com/run/1"},
	})
	if err != nil {
		e.t.Fatalf("integration of %s failed: %v", task.Title, err)
	}
	return updated
}

// ApplyOps creates a changeset from ops and applies it, failing on error.
func (e *testEnv) ApplyOps(ops ...types.ChangeOperation) *ApplyChangeSetResult {
	e.t.Helper()
	cs, err := e.Core.CreatePlanChangeSet(e.Ctx, CreateChangeSetRequest{
		ProjectID: e.Project.ID, Operations: ops, CreatedBy: "planner-1",
	})
	if err != nil {
		e.t.Fatalf("CreatePlanChangeSet failed: %v", err)
	}
	result, err := e.Core.ApplyPlanChangeSet(e.Ctx, ApplyChangeSetRequest{
		ProjectID: e.Project.ID, ChangeSetID: cs.ID, Actor: "planner-1",
	})
	if err != nil {
		e.t.Fatalf("ApplyPlanChangeSet failed: %v", err)
	}
	return result
}

// GetTask re-reads a task.
func (e *testEnv) GetTask(id string) *types.Task {
	e.t.Helper()
	task, err := e.Store.GetTask(e.Ctx, e.Project.ID, id)
	if err != nil {
		e.t.Fatalf("GetTask failed: %v", err)
	}
	return task
}

// Events lists the project's events of one type in id order.
func (e *testEnv) Events(eventType types.EventType) []*types.Event {
	e.t.Helper()
	events, err := e.Store.ListEvents(e.Ctx, storage.EventQuery{
		ProjectID: e.Project.ID, EventType: eventType,
	})
	if err != nil {
		e.t.Fatalf("ListEvents failed: %v", err)
	}
	return events
}

// PlanVersion returns the project's current plan version number.
func (e *testEnv) PlanVersion() int64 {
	e.t.Helper()
	v, err := e.Store.CurrentPlanVersion(e.Ctx, e.Project.ID)
	if err != nil {
		e.t.Fatalf("CurrentPlanVersion failed: %v", err)
	}
	return v
}

// wantCode asserts that err carries the given stable error code.
func wantCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	if got := apperr.CodeOf(err); got != code {
		t.Fatalf("expected code %s, got %s (%v)", code, got, err)
	}
}
