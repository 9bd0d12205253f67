package core

import (
	"testing"

	"github.com/ceruleanworks/foreman/internal/types"
)

func TestReadyTasksCapabilityFilter(t *testing.T) {
	e := newTestEnv(t)
	tagged := e.NewTaskWith("needs go", CreateTaskRequest{
		CapabilityTags: types.StringSet{"go", "sql"},
	})
	e.Transition(tagged, types.StateReady)
	untagged := e.ReadyTask("anyone")

	ready, err := e.Core.ReadyTasks(e.Ctx, ReadyTasksRequest{
		ProjectID: e.Project.ID, AgentID: "agent-1",
		Capabilities: types.StringSet{"python"},
	})
	if err != nil {
		t.Fatalf("ReadyTasks failed: %v", err)
	}
	if containsTask(ready, tagged.ID) {
		t.Error("expected capability-tagged task excluded for a non-matching agent")
	}
	if !containsTask(ready, untagged.ID) {
		t.Error("expected untagged task offered to every agent")
	}

	ready, err = e.Core.ReadyTasks(e.Ctx, ReadyTasksRequest{
		ProjectID: e.Project.ID, AgentID: "agent-1",
		Capabilities: types.StringSet{"go"},
	})
	if err != nil {
		t.Fatalf("ReadyTasks failed: %v", err)
	}
	if !containsTask(ready, tagged.ID) {
		t.Error("expected one shared capability to satisfy the filter")
	}
}

func TestReadyTasksReservationFilter(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("reserved")
	if _, err := e.Core.AssignTask(e.Ctx, AssignRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AssigneeAgentID: "agent-1", CreatedBy: "planner-1",
	}); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}

	forAssignee, err := e.Core.ReadyTasks(e.Ctx, ReadyTasksRequest{ProjectID: e.Project.ID, AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("ReadyTasks failed: %v", err)
	}
	if !containsTask(forAssignee, task.ID) {
		t.Error("expected reserved task offered to its assignee")
	}

	forOther, err := e.Core.ReadyTasks(e.Ctx, ReadyTasksRequest{ProjectID: e.Project.ID, AgentID: "agent-2"})
	if err != nil {
		t.Fatalf("ReadyTasks failed: %v", err)
	}
	if containsTask(forOther, task.ID) {
		t.Error("expected reserved task hidden from other agents")
	}
}

func TestReadyTasksOrderedByPriority(t *testing.T) {
	e := newTestEnv(t)
	low := e.NewTaskWith("later", CreateTaskRequest{Priority: 200})
	e.Transition(low, types.StateReady)
	high := e.NewTaskWith("first", CreateTaskRequest{Priority: 5})
	e.Transition(high, types.StateReady)

	ready, err := e.Core.ReadyTasks(e.Ctx, ReadyTasksRequest{ProjectID: e.Project.ID, AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("ReadyTasks failed: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready tasks, got %d", len(ready))
	}
	if ready[0].ID != high.ID {
		t.Errorf("expected priority 5 task first, got %q", ready[0].Title)
	}
}

func TestReadyTasksLimit(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 5; i++ {
		e.ReadyTask("bulk")
	}
	ready, err := e.Core.ReadyTasks(e.Ctx, ReadyTasksRequest{
		ProjectID: e.Project.ID, AgentID: "agent-1", Limit: 3,
	})
	if err != nil {
		t.Fatalf("ReadyTasks failed: %v", err)
	}
	if len(ready) != 3 {
		t.Errorf("expected limit of 3 respected, got %d", len(ready))
	}
}
