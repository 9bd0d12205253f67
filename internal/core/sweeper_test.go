package core

import (
	"testing"
	"time"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/types"
)

func TestSweepExpiresLapsedLease(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("abandoned")
	claim := e.Claim(task, "agent-1")
	e.Transition(e.GetTask(task.ID), types.StateInProgress)

	e.Clock.Advance(e.Cfg.LeaseDuration + time.Second)
	result, err := e.Core.Sweep(e.Ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.ExpiredLeases != 1 {
		t.Fatalf("expected 1 expired lease, got %d", result.ExpiredLeases)
	}
	if got := e.GetTask(task.ID); got.State != types.StateReady {
		t.Errorf("expected task returned to ready, got %s", got.State)
	}
	lease, err := e.Store.ActiveLease(e.Ctx, task.ID)
	if err != nil {
		t.Fatalf("ActiveLease failed: %v", err)
	}
	if lease != nil {
		t.Error("expected no active lease after the sweep")
	}
	if len(e.Events(types.EventLeaseExpired)) != 1 {
		t.Error("expected a lease_expired event")
	}

	// The reaped token is dead.
	_, err = e.Core.HeartbeatTask(e.Ctx, HeartbeatRequest{
		ProjectID: e.Project.ID, TaskID: task.ID, AgentID: "agent-1", Token: claim.Lease.Token,
	})
	wantCode(t, err, apperr.LeaseInvalid)

	// A second pass finds nothing: expired grants are reaped once.
	again, err := e.Core.Sweep(e.Ctx)
	if err != nil {
		t.Fatalf("second Sweep failed: %v", err)
	}
	if again.ExpiredLeases != 0 || again.ExpiredReservations != 0 {
		t.Errorf("expected idempotent sweep, got %+v", again)
	}
}

func TestSweepExpiresLapsedReservation(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("forgotten")
	if _, err := e.Core.AssignTask(e.Ctx, AssignRequest{
		ProjectID: e.Project.ID, TaskID: task.ID,
		AssigneeAgentID: "agent-1", CreatedBy: "planner-1", TTLSeconds: 60,
	}); err != nil {
		t.Fatalf("AssignTask failed: %v", err)
	}

	e.Clock.Advance(61 * time.Second)
	result, err := e.Core.Sweep(e.Ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.ExpiredReservations != 1 {
		t.Fatalf("expected 1 expired reservation, got %d", result.ExpiredReservations)
	}
	if got := e.GetTask(task.ID); got.State != types.StateReady {
		t.Errorf("expected task returned to ready, got %s", got.State)
	}
	res, err := e.Store.ActiveReservation(e.Ctx, task.ID)
	if err != nil {
		t.Fatalf("ActiveReservation failed: %v", err)
	}
	if res != nil {
		t.Error("expected no active reservation after the sweep")
	}
	if len(e.Events(types.EventReservationExpired)) != 1 {
		t.Error("expected a reservation_expired event")
	}

	// Once the reservation lapses the task is open to any agent.
	e.Claim(e.GetTask(task.ID), "agent-2")
}

func TestSweepOnQuietStoreDoesNothing(t *testing.T) {
	e := newTestEnv(t)
	task := e.ReadyTask("alive")
	e.Claim(task, "agent-1")

	// Lease still fresh: nothing to reap.
	result, err := e.Core.Sweep(e.Ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.ExpiredLeases != 0 || result.ExpiredReservations != 0 {
		t.Errorf("expected nothing reaped, got %+v", result)
	}
	if got := e.GetTask(task.ID); got.State != types.StateClaimed {
		t.Errorf("expected claim untouched, got %s", got.State)
	}
}
