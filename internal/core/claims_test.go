package core

import (
	"testing"
	"time"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/types"
)

func TestClaimGrantsLeaseAndSnapshot(t *testing.T) {
	e := newTestEnv(t)
	task := e.NewTaskWith("wire webhooks", CreateTaskRequest{
		WorkSpec: types.JSONMap{"goal": "handle retries"},
	})
	e.Transition(task, types.StateReady)

	result := e.Claim(task, "agent-1")

	if result.Task.State != types.StateClaimed {
		t.Errorf("expected claimed state, got %s", result.Task.State)
	}
	if result.Lease.FencingCounter != 1 {
		t.Errorf("expected fencing counter 1, got %d", result.Lease.FencingCounter)
	}
	if result.Lease.Token == "" {
		t.Error("expected lease token in claim result")
	}
	wantExpiry := e.Clock.Now().Add(e.Cfg.LeaseDuration)
	if !result.Lease.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected expiry %v, got %v", wantExpiry, result.Lease.ExpiresAt)
	}
	if result.Snapshot.CapturedPlanVersion != 1 {
		t.Errorf("expected snapshot at plan version 1, got %d", result.Snapshot.CapturedPlanVersion)
	}
	wantHash, err := idgen.WorkSpecHash(types.JSONMap{"goal": "handle retries"})
	if err != nil {
		t.Fatalf("WorkSpecHash failed: %v", err)
	}
	if result.Snapshot.WorkSpecHash != wantHash {
		t.Errorf("snapshot hash does not match work spec")
	}
}

func TestClaimBacklogTaskRejected(t *testing.T) {
	e := newTestEnv(t)
	task := e.NewTask("not ready yet")

	_, err := e.Core.ClaimTask(e.Ctx, ClaimRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AgentID: "agent-1",
	})
	wantCode(t, err, apperr.TaskNotClaimable)
}

func TestClaimUnknownTask(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.Core.ClaimTask(e.Ctx, ClaimRequest{
		ProjectID: e.Project.ID, TaskID: idgen.NewID(), AgentID: "agent-1",
	})
	wantCode(t, err, apperr.TaskNotFound)
}

func TestDoubleClaimRejected(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("contested")
	e.Claim(task, "agent-1")

	_, err := e.Core.ClaimTask(e.Ctx, ClaimRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AgentID: "agent-2",
	})
	wantCode(t, err, apperr.TaskNotClaimable)
}

func TestFencingCounterNeverResets(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("fenced")

	first := e.Claim(task, "agent-1")
	if first.Lease.FencingCounter != 1 {
		t.Fatalf("expected counter 1, got %d", first.Lease.FencingCounter)
	}

	// Returning to ready releases the lease; the next claim must fence higher.
	e.Transition(e.GetTask(task.ID), types.StateReady)
	second := e.Claim(e.GetTask(task.ID), "agent-2")
	if second.Lease.FencingCounter != 2 {
		t.Errorf("expected counter 2 after release and reclaim, got %d", second.Lease.FencingCounter)
	}
}

func TestClaimConsumesOwnReservation(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("reserved work")
	assigned, err := e.Core.AssignTask(e.Ctx, AssignRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AssigneeAgentID: "agent-1", CreatedBy: "planner-1",
	})
	if err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}
	if assigned.Task.State != types.StateReserved {
		t.Fatalf("expected reserved state, got %s", assigned.Task.State)
	}

	result := e.Claim(e.GetTask(task.ID), "agent-1")
	if result.Task.State != types.StateClaimed {
		t.Errorf("expected claimed, got %s", result.Task.State)
	}
	res, err := e.Store.ActiveReservation(e.Ctx, task.ID)
	if err != nil {
		t.Fatalf("ActiveReservation failed: %v", err)
	}
	if res != nil {
		t.Error("expected reservation consumed by the assignee's claim")
	}
}

func TestClaimReservedForOtherAgent(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("reserved work")
	if _, err := e.Core.AssignTask(e.Ctx, AssignRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AssigneeAgentID: "agent-1", CreatedBy: "planner-1",
	}); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}

	_, err := e.Core.ClaimTask(e.Ctx, ClaimRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AgentID: "agent-2",
	})
	wantCode(t, err, apperr.ReservationConflict)
}

func TestAssignTTLBounds(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("bounded")

	for _, ttl := range []int{59, 86401} {
		_, err := e.Core.AssignTask(e.Ctx, AssignRequest{
			ProjectID: e.Project.ID, TaskID: task.ID,
			AssigneeAgentID: "agent-1", CreatedBy: "planner-1", TTLSeconds: ttl,
		})
		wantCode(t, err, apperr.InvalidState)
	}

	// Bounds are inclusive.
	result, err := e.Core.AssignTask(e.Ctx, AssignRequest{
		ProjectID: e.Project.ID, TaskID: task.ID,
		AssigneeAgentID: "agent-1", CreatedBy: "planner-1", TTLSeconds: 60,
	})
	if err != nil {
		t.Fatalf("AssignTask with ttl 60 failed: %v", err)
	}
	if result.Reservation.TTLSeconds != 60 {
		t.Errorf("expected ttl 60, got %d", result.Reservation.TTLSeconds)
	}
}

func TestAssignDefaultTTL(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("default ttl")

	result, err := e.Core.AssignTask(e.Ctx, AssignRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AssigneeAgentID: "agent-1", CreatedBy: "planner-1",
	})
	if err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}
	want := int(e.Cfg.ReservationDefaultTTL.Seconds())
	if result.Reservation.TTLSeconds != want {
		t.Errorf("expected default ttl %d, got %d", want, result.Reservation.TTLSeconds)
	}
}

func TestAssignClaimedTaskRejected(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("busy")
	e.Claim(task, "agent-1")

	_, err := e.Core.AssignTask(e.Ctx, AssignRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AssigneeAgentID: "agent-2", CreatedBy: "planner-1",
	})
	wantCode(t, err, apperr.TaskNotAssignable)
}

func TestHeartbeatExtendsLease(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("heartbeat")
	claim := e.Claim(task, "agent-1")

	e.Clock.Advance(2 * time.Minute)
	result, err := e.Core.HeartbeatTask(e.Ctx, HeartbeatRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AgentID: "agent-1", Token: claim.Lease.Token,
	})
	if err != nil {
		t.Fatalf("HeartbeatTask failed: %v", err)
	}
	want := e.Clock.Now().Add(e.Cfg.LeaseDuration)
	if !result.Lease.ExpiresAt.Equal(want) {
		t.Errorf("expected extended expiry %v, got %v", want, result.Lease.ExpiresAt)
	}
	if result.CurrentPlanVersion != 1 {
		t.Errorf("expected current plan version 1, got %d", result.CurrentPlanVersion)
	}
}

func TestHeartbeatIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("repeat")
	claim := e.Claim(task, "agent-1")

	req := HeartbeatRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AgentID: "agent-1", Token: claim.Lease.Token,
	}
	first, err := e.Core.HeartbeatTask(e.Ctx, req)
	if err != nil {
		t.Fatalf("first heartbeat failed: %v", err)
	}
	second, err := e.Core.HeartbeatTask(e.Ctx, req)
	if err != nil {
		t.Fatalf("second heartbeat failed: %v", err)
	}
	if !first.Lease.ExpiresAt.Equal(second.Lease.ExpiresAt) {
		t.Errorf("repeated heartbeat at the same instant changed expiry: %v vs %v",
			first.Lease.ExpiresAt, second.Lease.ExpiresAt)
	}
}

func TestHeartbeatWrongTokenRejected(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("token check")
	e.Claim(task, "agent-1")

	_, err := e.Core.HeartbeatTask(e.Ctx, HeartbeatRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AgentID: "agent-1", Token: "tsk_bogus",
	})
	wantCode(t, err, apperr.LeaseInvalid)
}

func TestHeartbeatUnknownTask(t *testing.T) {
	e := newTestEnv(t)
	// The heartbeat locks the task row before touching the lease, so a
	// missing task surfaces as TASK_NOT_FOUND rather than LEASE_INVALID.
	_, err := e.Core.HeartbeatTask(e.Ctx, HeartbeatRequest{
		ProjectID: e.Project.ID, TaskID: idgen.NewID(), AgentID: "agent-1", Token: "tsk_bogus",
	})
	wantCode(t, err, apperr.TaskNotFound)
}

func TestHeartbeatAfterExpiryRejected(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("late")
	claim := e.Claim(task, "agent-1")

	e.Clock.Advance(e.Cfg.LeaseDuration + time.Second)
	_, err := e.Core.HeartbeatTask(e.Ctx, HeartbeatRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AgentID: "agent-1", Token: claim.Lease.Token,
	})
	wantCode(t, err, apperr.LeaseInvalid)
}

func TestHeartbeatStalePlanVersion(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("stale plan")
	other := e.ReadyTask("other")
	claim := e.Claim(task, "agent-1")

	// Advance the plan by touching an unrelated task.
	e.ApplyOps(types.ChangeOperation{
		Op: types.OpUpdateTask, TaskID: other.ID,
		Payload: types.JSONMap{"title": "renamed"},
	})

	seen := int64(1)
	_, err := e.Core.HeartbeatTask(e.Ctx, HeartbeatRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AgentID: "agent-1",
		Token: claim.Lease.Token, SeenPlanVersion: &seen,
	})
	wantCode(t, err, apperr.PlanStale)

	coded := err.(*apperr.Error)
	if !coded.Retryable {
		t.Error("expected PLAN_STALE to be retryable")
	}
	if got := coded.Details["current_plan_version"]; got != int64(2) {
		t.Errorf("expected current_plan_version detail 2, got %v", got)
	}

	// Acknowledging the current version recovers the same lease.
	seen = 2
	result, err := e.Core.HeartbeatTask(e.Ctx, HeartbeatRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AgentID: "agent-1",
		Token: claim.Lease.Token, SeenPlanVersion: &seen,
	})
	if err != nil {
		t.Fatalf("heartbeat with fresh plan version failed: %v", err)
	}
	if result.Lease.ID != claim.Lease.ID {
		t.Error("expected the original lease to survive a cosmetic plan change")
	}
}
