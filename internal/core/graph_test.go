package core

import (
	"testing"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/types"
)

func (e *testEnv) addDep(from, to *types.Task) (*types.Dependency, error) {
	e.t.Helper()
	return e.Core.CreateDependency(e.Ctx, CreateDependencyRequest{
		ProjectID: e.Project.ID, FromTaskID: from.ID, ToTaskID: to.ID,
		UnlockOn: types.UnlockOnImplemented, Actor: "planner-1",
	})
}

func TestSelfDependencyRejected(t *testing.T) {
	e := newTestEnv(t)
	task := e.NewTask("narcissist")

	_, err := e.addDep(task, task)
	wantCode(t, err, apperr.CycleDetected)
}

func TestTwoNodeCycleRejected(t *testing.T) {
	e := newTestEnv(t)
	a := e.NewTask("a")
	b := e.NewTask("b")

	if _, err := e.addDep(a, b); err != nil {
		t.Fatalf("a -> b failed: %v", err)
	}
	_, err := e.addDep(b, a)
	wantCode(t, err, apperr.CycleDetected)
}

func TestLongCycleRejected(t *testing.T) {
	e := newTestEnv(t)
	a := e.NewTask("a")
	b := e.NewTask("b")
	c := e.NewTask("c")

	if _, err := e.addDep(a, b); err != nil {
		t.Fatalf("a -> b failed: %v", err)
	}
	if _, err := e.addDep(b, c); err != nil {
		t.Fatalf("b -> c failed: %v", err)
	}
	_, err := e.addDep(c, a)
	wantCode(t, err, apperr.CycleDetected)

	// The rejected edge must not have been persisted.
	graph, err := e.Core.GetProjectGraph(e.Ctx, e.Project.ID)
	if err != nil {
		t.Fatalf("GetProjectGraph failed: %v", err)
	}
	if len(graph.Dependencies) != 2 {
		t.Errorf("expected 2 edges after rejected cycle, got %d", len(graph.Dependencies))
	}
}

func TestDuplicateEdgeRejected(t *testing.T) {
	e := newTestEnv(t)
	a := e.NewTask("a")
	b := e.NewTask("b")

	if _, err := e.addDep(a, b); err != nil {
		t.Fatalf("a -> b failed: %v", err)
	}
	_, err := e.addDep(a, b)
	wantCode(t, err, apperr.InvalidState)
}

func TestDependencyUnknownEndpoint(t *testing.T) {
	e := newTestEnv(t)
	a := e.NewTask("a")
	ghost := &types.Task{ID: "no-such-task"}

	_, err := e.addDep(a, ghost)
	wantCode(t, err, apperr.TaskNotFound)
}

func TestDeleteDependencyRestoresReadiness(t *testing.T) {
	e := newTestEnv(t)
	blocker := e.ReadyTask("blocker")
	blocked := e.ReadyTask("blocked")
	if _, err := e.addDep(blocker, blocked); err != nil {
		t.Fatalf("dep failed: %v", err)
	}

	ready, err := e.Core.ReadyTasks(e.Ctx, ReadyTasksRequest{ProjectID: e.Project.ID, AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("ReadyTasks failed: %v", err)
	}
	if containsTask(ready, blocked.ID) {
		t.Fatal("expected blocked task excluded while the edge exists")
	}

	if err := e.Core.DeleteDependency(e.Ctx, DeleteDependencyRequest{
		ProjectID: e.Project.ID, FromTaskID: blocker.ID, ToTaskID: blocked.ID, Actor: "planner-1",
	}); err != nil {
		t.Fatalf("DeleteDependency failed: %v", err)
	}
	ready, err = e.Core.ReadyTasks(e.Ctx, ReadyTasksRequest{ProjectID: e.Project.ID, AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("ReadyTasks failed: %v", err)
	}
	if !containsTask(ready, blocked.ID) {
		t.Error("expected blocked task ready after the edge was removed")
	}
}

func containsTask(tasks []*types.Task, id string) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}
