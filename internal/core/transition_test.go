package core

import (
	"encoding/json"
	"testing"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/types"
)

func TestTransitionFollowsAdjacency(t *testing.T) {
	e := newTestEnv(t)
	task := e.NewTask("lifecycle")

	for _, to := range []types.TaskState{
		types.StateReady, types.StateClaimed, types.StateInProgress,
		types.StateImplemented,
	} {
		task = e.Transition(task, to)
		if task.State != to {
			t.Fatalf("expected state %s, got %s", to, task.State)
		}
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	e := newTestEnv(t)
	task := e.NewTask("no shortcuts")

	_, err := e.Core.TransitionTaskState(e.Ctx, TransitionRequest{
		ProjectID: e.Project.ID, TaskID: task.ID,
		ToState: types.StateImplemented, Actor: "agent-1",
	})
	wantCode(t, err, apperr.InvalidStateTransition)
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("one way")
	e.Transition(task, types.StateCancelled)

	_, err := e.Core.TransitionTaskState(e.Ctx, TransitionRequest{
		ProjectID: e.Project.ID, TaskID: task.ID,
		ToState: types.StateReady, Actor: "agent-1",
	})
	wantCode(t, err, apperr.InvalidStateTransition)
}

func TestForcedTransitionRecordsPriorState(t *testing.T) {
	e := newTestEnv(t)
	task := e.NewTask("backfill")

	updated, err := e.Core.TransitionTaskState(e.Ctx, TransitionRequest{
		ProjectID: e.Project.ID, TaskID: task.ID,
		ToState: types.StateIntegrated, Actor: "operator-1", Force: true,
	})
	if err != nil {
		t.Fatalf("forced transition failed: %v", err)
	}
	if updated.State != types.StateIntegrated {
		t.Fatalf("expected integrated, got %s", updated.State)
	}

	events := e.Events(types.EventTaskStateTransitioned)
	if len(events) != 1 {
		t.Fatalf("expected 1 transition event, got %d", len(events))
	}
	var payload types.TransitionPayload
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.FromState != types.StateBacklog || !payload.Forced {
		t.Errorf("expected forced event from backlog, got %+v", payload)
	}
}

func TestIntegrationRequiresReviewer(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("unreviewed")
	e.Claim(task, "agent-1")
	e.Transition(e.GetTask(task.ID), types.StateInProgress)
	e.Transition(e.GetTask(task.ID), types.StateImplemented)

	_, err := e.Core.TransitionTaskState(e.Ctx, TransitionRequest{
		ProjectID: e.Project.ID, TaskID: task.ID,
		ToState: types.StateIntegrated, Actor: "agent-1",
	})
	wantCode(t, err, apperr.ReviewRequiredForIntegration)
}

func TestSelfReviewRejected(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("self approved")
	e.Claim(task, "agent-1")
	e.Transition(e.GetTask(task.ID), types.StateInProgress)
	e.Transition(e.GetTask(task.ID), types.StateImplemented)

	_, err := e.Core.TransitionTaskState(e.Ctx, TransitionRequest{
		ProjectID: e.Project.ID, TaskID: task.ID,
		ToState: types.StateIntegrated, Actor: "agent-1",
		ReviewedBy: "agent-1", EvidenceRefs: []string{"ref"},
	})
	wantCode(t, err, apperr.SelfReviewNotAllowed)
}

func TestIntegrationRequiresEvidence(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("no evidence")
	e.Claim(task, "agent-1")
	e.Transition(e.GetTask(task.ID), types.StateInProgress)
	e.Transition(e.GetTask(task.ID), types.StateImplemented)

	_, err := e.Core.TransitionTaskState(e.Ctx, TransitionRequest{
		ProjectID: e.Project.ID, TaskID: task.ID,
		ToState: types.StateIntegrated, Actor: "agent-1", ReviewedBy: "alice",
	})
	wantCode(t, err, apperr.ReviewEvidenceRequired)
}

func TestIntegrationPersistsReviewFields(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("reviewed")
	e.Claim(task, "agent-1")
	updated := e.Integrate(e.GetTask(task.ID), "agent-1", "alice")

	if updated.ReviewedBy == nil || *updated.ReviewedBy != "alice" {
		t.Errorf("expected reviewed_by alice, got %v", updated.ReviewedBy)
	}
	if len(updated.ReviewEvidence) != 1 {
		t.Errorf("expected 1 evidence ref, got %d", len(updated.ReviewEvidence))
	}
}

func TestGateTaskRequiresApprovingDecision(t *testing.T) {
	e := newTestEnv(t)
	gate := e.NewTaskWith("release gate", CreateTaskRequest{TaskClass: types.ClassReviewGate})
	e.Transition(gate, types.StateReady)
	e.Claim(gate, "agent-1")
	e.Transition(e.GetTask(gate.ID), types.StateInProgress)
	e.Transition(e.GetTask(gate.ID), types.StateImplemented)

	req := TransitionRequest{
		ProjectID: e.Project.ID, TaskID: gate.ID,
		ToState: types.StateIntegrated, Actor: "agent-1",
		ReviewedBy: "alice", EvidenceRefs: []string{"ref"},
	}
	_, err := e.Core.TransitionTaskState(e.Ctx, req)
	wantCode(t, err, apperr.GateDecisionRequired)

	// A rejection does not unblock the gate.
	if _, err := e.Core.CreateGateDecision(e.Ctx, CreateGateDecisionRequest{
		ProjectID: e.Project.ID, TaskID: gate.ID,
		Outcome: types.GateRejected, DecidedBy: "alice",
	}); err != nil {
		t.Fatalf("CreateGateDecision failed: %v", err)
	}
	_, err = e.Core.TransitionTaskState(e.Ctx, req)
	wantCode(t, err, apperr.GateDecisionRequired)

	// approved_with_risk counts as approval.
	if _, err := e.Core.CreateGateDecision(e.Ctx, CreateGateDecisionRequest{
		ProjectID: e.Project.ID, TaskID: gate.ID,
		Outcome: types.GateApprovedWithRisk, DecidedBy: "alice",
	}); err != nil {
		t.Fatalf("CreateGateDecision failed: %v", err)
	}
	if _, err := e.Core.TransitionTaskState(e.Ctx, req); err != nil {
		t.Fatalf("integration after approval failed: %v", err)
	}
}

func TestAbandonReleasesLease(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("walked away")
	e.Claim(task, "agent-1")
	e.Transition(e.GetTask(task.ID), types.StateInProgress)
	e.Transition(e.GetTask(task.ID), types.StateBlocked)

	lease, err := e.Store.ActiveLease(e.Ctx, task.ID)
	if err != nil {
		t.Fatalf("ActiveLease failed: %v", err)
	}
	if lease != nil {
		t.Error("expected lease released when the task left in_progress")
	}
}

func TestNonClaimExitFromReservedReleasesReservation(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("poached")
	if _, err := e.Core.AssignTask(e.Ctx, AssignRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AssigneeAgentID: "agent-1", CreatedBy: "planner-1",
	}); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}

	// A generic transition into claimed is not a claim: it creates no lease,
	// so it must not keep the reservation alive either.
	e.Transition(e.GetTask(task.ID), types.StateClaimed)

	res, err := e.Store.ActiveReservation(e.Ctx, task.ID)
	if err != nil {
		t.Fatalf("ActiveReservation failed: %v", err)
	}
	if res != nil {
		t.Fatal("expected reservation released on a non-claim exit from reserved")
	}

	// Back in ready, the task is claimable by any agent.
	e.Transition(e.GetTask(task.ID), types.StateReady)
	e.Claim(e.GetTask(task.ID), "agent-2")
}

func TestLeavingReservedReleasesReservation(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("unreserved")
	if _, err := e.Core.AssignTask(e.Ctx, AssignRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AssigneeAgentID: "agent-1", CreatedBy: "planner-1",
	}); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}
	e.Transition(e.GetTask(task.ID), types.StateReady)

	res, err := e.Store.ActiveReservation(e.Ctx, task.ID)
	if err != nil {
		t.Fatalf("ActiveReservation failed: %v", err)
	}
	if res != nil {
		t.Error("expected reservation released when the task left reserved")
	}
}
