package core

import (
	"testing"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/types"
)

func TestChangeSetRejectsUnknownOperation(t *testing.T) {
	e := newTestEnv(t)
	task := e.NewTask("victim")

	_, err := e.Core.CreatePlanChangeSet(e.Ctx, CreateChangeSetRequest{
		ProjectID: e.Project.ID,
		Operations: types.ChangeOperations{
			{Op: "delete_task", TaskID: task.ID},
		},
		CreatedBy: "planner-1",
	})
	wantCode(t, err, apperr.InvalidState)
}

func TestChangeSetRejectsUnknownField(t *testing.T) {
	e := newTestEnv(t)
	task := e.NewTask("victim")

	_, err := e.Core.CreatePlanChangeSet(e.Ctx, CreateChangeSetRequest{
		ProjectID: e.Project.ID,
		Operations: types.ChangeOperations{
			{Op: types.OpUpdateTask, TaskID: task.ID,
				Payload: types.JSONMap{"assignee": "agent-1"}},
		},
		CreatedBy: "planner-1",
	})
	wantCode(t, err, apperr.InvalidState)
}

func TestApplyBumpsPlanVersion(t *testing.T) {
	e := newTestEnv(t)
	task := e.NewTask("renamed")

	result := e.ApplyOps(types.ChangeOperation{
		Op: types.OpUpdateTask, TaskID: task.ID,
		Payload: types.JSONMap{"title": "renamed better"},
	})

	if result.PlanVersion.VersionNumber != 2 {
		t.Errorf("expected plan version 2, got %d", result.PlanVersion.VersionNumber)
	}
	if e.PlanVersion() != 2 {
		t.Errorf("expected current plan version 2, got %d", e.PlanVersion())
	}
	if result.ChangeSet.Status != types.ChangeSetApplied {
		t.Errorf("expected applied status, got %s", result.ChangeSet.Status)
	}
	if e.GetTask(task.ID).Title != "renamed better" {
		t.Error("expected the title patch applied")
	}
}

func TestMaterialChangeInvalidatesClaim(t *testing.T) {
	e := newTestEnv(t)
	task := e.NewTaskWith("rescoped", CreateTaskRequest{
		WorkSpec: types.JSONMap{"goal": "old goal"},
	})
	e.Transition(task, types.StateReady)
	claim := e.Claim(task, "agent-1")

	result := e.ApplyOps(types.ChangeOperation{
		Op: types.OpUpdateTask, TaskID: task.ID,
		Payload: types.JSONMap{"work_spec": map[string]any{"goal": "new goal"}},
	})

	if len(result.InvalidatedClaimTaskIDs) != 1 || result.InvalidatedClaimTaskIDs[0] != task.ID {
		t.Fatalf("expected the claim invalidated, got %v", result.InvalidatedClaimTaskIDs)
	}
	if got := e.GetTask(task.ID).State; got != types.StateReady {
		t.Errorf("expected task returned to ready, got %s", got)
	}
	lease, err := e.Store.ActiveLease(e.Ctx, task.ID)
	if err != nil {
		t.Fatalf("ActiveLease failed: %v", err)
	}
	if lease != nil {
		t.Error("expected lease released by the material change")
	}
	if len(e.Events(types.EventLeaseReleased)) != 1 {
		t.Error("expected a lease_released event")
	}

	// The stale lease token no longer heartbeats.
	_, err = e.Core.HeartbeatTask(e.Ctx, HeartbeatRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AgentID: "agent-1", Token: claim.Lease.Token,
	})
	wantCode(t, err, apperr.LeaseInvalid)
}

func TestCosmeticChangePreservesClaim(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("retitled")
	claim := e.Claim(task, "agent-1")

	result := e.ApplyOps(types.ChangeOperation{
		Op: types.OpUpdateTask, TaskID: task.ID,
		Payload: types.JSONMap{"title": "better title", "priority": float64(7)},
	})

	if len(result.InvalidatedClaimTaskIDs) != 0 {
		t.Fatalf("expected no invalidations, got %v", result.InvalidatedClaimTaskIDs)
	}
	updated := e.GetTask(task.ID)
	if updated.State != types.StateClaimed {
		t.Errorf("expected task still claimed, got %s", updated.State)
	}
	if updated.Title != "better title" || updated.Priority != 7 {
		t.Errorf("expected cosmetic fields applied, got %q prio %d", updated.Title, updated.Priority)
	}
	lease, err := e.Store.ActiveLease(e.Ctx, task.ID)
	if err != nil {
		t.Fatalf("ActiveLease failed: %v", err)
	}
	if lease == nil || lease.ID != claim.Lease.ID {
		t.Error("expected the original lease untouched by a cosmetic change")
	}
}

func TestUnchangedMaterialFieldIsNotMaterial(t *testing.T) {
	e := newTestEnv(t)
	task := e.NewTaskWith("same spec", CreateTaskRequest{
		WorkSpec: types.JSONMap{"goal": "steady"},
	})
	e.Transition(task, types.StateReady)
	e.Claim(task, "agent-1")

	// Re-asserting the identical spec changes nothing, so the claim holds.
	result := e.ApplyOps(types.ChangeOperation{
		Op: types.OpUpdateTask, TaskID: task.ID,
		Payload: types.JSONMap{"work_spec": map[string]any{"goal": "steady"}},
	})
	if len(result.InvalidatedClaimTaskIDs) != 0 {
		t.Errorf("expected no-op material field to preserve the claim, got %v",
			result.InvalidatedClaimTaskIDs)
	}
}

func TestMaterialChangeReleasesReservation(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("reassigned")
	if _, err := e.Core.AssignTask(e.Ctx, AssignRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AssigneeAgentID: "agent-1", CreatedBy: "planner-1",
	}); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}

	result := e.ApplyOps(types.ChangeOperation{
		Op: types.OpUpdateTask, TaskID: task.ID,
		Payload: types.JSONMap{"capability_tags": []any{"rust"}},
	})
	if len(result.InvalidatedReservationTaskIDs) != 1 {
		t.Fatalf("expected the reservation invalidated, got %v", result.InvalidatedReservationTaskIDs)
	}
	if got := e.GetTask(task.ID).State; got != types.StateReady {
		t.Errorf("expected task returned to ready, got %s", got)
	}
	if len(e.Events(types.EventReservationReleased)) != 1 {
		t.Error("expected a reservation_released event")
	}
}

func TestStaleBaseRejectedWithoutRebase(t *testing.T) {
	e := newTestEnv(t)
	task := e.NewTask("contested")

	stale, err := e.Core.CreatePlanChangeSet(e.Ctx, CreateChangeSetRequest{
		ProjectID: e.Project.ID, BasePlanVersion: 1,
		Operations: types.ChangeOperations{
			{Op: types.OpUpdateTask, TaskID: task.ID, Payload: types.JSONMap{"title": "loser"}},
		},
		CreatedBy: "planner-1",
	})
	if err != nil {
		t.Fatalf("CreatePlanChangeSet failed: %v", err)
	}

	// Another changeset moves the plan to version 2 first.
	e.ApplyOps(types.ChangeOperation{
		Op: types.OpUpdateTask, TaskID: task.ID, Payload: types.JSONMap{"title": "winner"},
	})

	_, err = e.Core.ApplyPlanChangeSet(e.Ctx, ApplyChangeSetRequest{
		ProjectID: e.Project.ID, ChangeSetID: stale.ID, Actor: "planner-1",
	})
	wantCode(t, err, apperr.PlanStale)
	coded := err.(*apperr.Error)
	if !coded.Retryable {
		t.Error("expected PLAN_STALE to be retryable")
	}
	if got := coded.Details["current_plan_version"]; got != int64(2) {
		t.Errorf("expected current_plan_version detail 2, got %v", got)
	}

	// allow_rebase applies it on top, landing at version 3.
	result, err := e.Core.ApplyPlanChangeSet(e.Ctx, ApplyChangeSetRequest{
		ProjectID: e.Project.ID, ChangeSetID: stale.ID, AllowRebase: true, Actor: "planner-1",
	})
	if err != nil {
		t.Fatalf("rebase apply failed: %v", err)
	}
	if result.PlanVersion.VersionNumber != 3 {
		t.Errorf("expected plan version 3 after rebase, got %d", result.PlanVersion.VersionNumber)
	}
}

func TestReapplyingAppliedChangeSetIsNoOp(t *testing.T) {
	e := newTestEnv(t)
	task := e.NewTask("idempotent")

	cs, err := e.Core.CreatePlanChangeSet(e.Ctx, CreateChangeSetRequest{
		ProjectID: e.Project.ID,
		Operations: types.ChangeOperations{
			{Op: types.OpUpdateTask, TaskID: task.ID, Payload: types.JSONMap{"title": "once"}},
		},
		CreatedBy: "planner-1",
	})
	if err != nil {
		t.Fatalf("CreatePlanChangeSet failed: %v", err)
	}
	first, err := e.Core.ApplyPlanChangeSet(e.Ctx, ApplyChangeSetRequest{
		ProjectID: e.Project.ID, ChangeSetID: cs.ID, Actor: "planner-1",
	})
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}

	second, err := e.Core.ApplyPlanChangeSet(e.Ctx, ApplyChangeSetRequest{
		ProjectID: e.Project.ID, ChangeSetID: cs.ID, AllowRebase: true, Actor: "planner-1",
	})
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if second.PlanVersion.VersionNumber != first.PlanVersion.VersionNumber {
		t.Errorf("expected re-apply to return the stored version %d, got %d",
			first.PlanVersion.VersionNumber, second.PlanVersion.VersionNumber)
	}
	if e.PlanVersion() != first.PlanVersion.VersionNumber {
		t.Errorf("expected plan version unchanged by re-apply, got %d", e.PlanVersion())
	}
	if len(e.Events(types.EventChangesetApplied)) != 1 {
		t.Error("expected exactly one changeset_applied event")
	}
}

func TestRebaseAppliedChangesetAfterPlanMoved(t *testing.T) {
	e := newTestEnv(t)
	task := e.NewTask("moving target")

	applied := e.ApplyOps(types.ChangeOperation{
		Op: types.OpUpdateTask, TaskID: task.ID, Payload: types.JSONMap{"title": "v2"},
	})
	e.ApplyOps(types.ChangeOperation{
		Op: types.OpUpdateTask, TaskID: task.ID, Payload: types.JSONMap{"title": "v3"},
	})

	// Without rebase, re-applying the old changeset reports staleness.
	_, err := e.Core.ApplyPlanChangeSet(e.Ctx, ApplyChangeSetRequest{
		ProjectID: e.Project.ID, ChangeSetID: applied.ChangeSet.ID, Actor: "planner-1",
	})
	wantCode(t, err, apperr.PlanStale)
}

func TestChangeSetForUnknownTask(t *testing.T) {
	e := newTestEnv(t)
	cs, err := e.Core.CreatePlanChangeSet(e.Ctx, CreateChangeSetRequest{
		ProjectID: e.Project.ID,
		Operations: types.ChangeOperations{
			{Op: types.OpUpdateTask, TaskID: "no-such-task", Payload: types.JSONMap{"title": "x"}},
		},
		CreatedBy: "planner-1",
	})
	if err != nil {
		t.Fatalf("CreatePlanChangeSet failed: %v", err)
	}
	_, err = e.Core.ApplyPlanChangeSet(e.Ctx, ApplyChangeSetRequest{
		ProjectID: e.Project.ID, ChangeSetID: cs.ID, Actor: "planner-1",
	})
	wantCode(t, err, apperr.TaskNotFound)

	// The failed apply rolled back: no plan version was recorded.
	if e.PlanVersion() != 1 {
		t.Errorf("expected plan version still 1 after rollback, got %d", e.PlanVersion())
	}
}
