package core

import (
	"context"
	"time"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// TransitionTaskState moves a task through the reviewed state machine.
// Non-forced transitions must follow the adjacency; transitions into
// integrated additionally require review fields and, for gate-class tasks,
// an approving gate decision. Force bypasses both checks but the emitted
// event still records the prior state.
func (c *Core) TransitionTaskState(ctx context.Context, req TransitionRequest) (*types.Task, error) {
	if !req.ToState.Valid() {
		return nil, apperr.Newf(apperr.InvalidState, "unknown task state %q", req.ToState)
	}

	now := c.clock.Now()
	var result *types.Task

	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		task, err := tx.LockTask(ctx, req.ProjectID, req.TaskID)
		if err != nil {
			return notFound(err, apperr.TaskNotFound, "task not found")
		}
		from := task.State

		if !req.Force && !types.CanTransition(from, req.ToState) {
			return apperr.Newf(apperr.InvalidStateTransition,
				"transition %s -> %s is not allowed", from, req.ToState)
		}
		if req.ToState == types.StateIntegrated && !req.Force {
			if err := checkIntegrationReview(ctx, tx, task, req); err != nil {
				return err
			}
		}
		if req.ToState == types.StateIntegrated && req.ReviewedBy != "" {
			reviewedBy := req.ReviewedBy
			task.ReviewedBy = &reviewedBy
			task.ReviewEvidence = req.EvidenceRefs
		}

		if err := releaseGrantsForTransition(ctx, tx, task, from, req.ToState, now); err != nil {
			return err
		}

		task.State = req.ToState
		task.Version++
		task.UpdatedAt = now
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}

		payload := types.TransitionPayload{
			FromState:    from,
			ToState:      req.ToState,
			Reason:       req.Reason,
			Actor:        req.Actor,
			Forced:       req.Force,
			ReviewedBy:   req.ReviewedBy,
			EvidenceRefs: req.EvidenceRefs,
		}
		if err := appendEvent(ctx, tx, task.ProjectID, types.EntityTask, task.ID,
			types.EventTaskStateTransitioned, payload, req.Actor, now); err != nil {
			return err
		}
		result = task
		return nil
	})
	if err != nil {
		return nil, c.fail("transition_task_state", err)
	}
	return result, nil
}

// checkIntegrationReview enforces the review and gate preconditions of a
// non-forced transition into integrated.
func checkIntegrationReview(ctx context.Context, tx storage.Tx, task *types.Task, req TransitionRequest) error {
	if req.ReviewedBy == "" {
		return apperr.New(apperr.ReviewRequiredForIntegration, "integration requires a reviewer")
	}
	if req.ReviewedBy == req.Actor {
		return apperr.New(apperr.SelfReviewNotAllowed, "reviewer must differ from the acting agent")
	}
	if len(req.EvidenceRefs) == 0 {
		return apperr.New(apperr.ReviewEvidenceRequired, "integration requires review evidence")
	}
	if task.TaskClass.IsGate() {
		approved, err := tx.HasApprovingDecision(ctx, task.ProjectID, task.ID)
		if err != nil {
			return err
		}
		if !approved {
			return apperr.New(apperr.GateDecisionRequired, "gate task requires an approving decision")
		}
	}
	return nil
}

// releaseGrantsForTransition applies the grant side effects of a state
// change: leaving claimed/in_progress for a non-lease-holding state releases
// the lease, and leaving reserved releases the reservation. A matching claim
// never reaches here; ClaimTask consumes its reservation itself.
func releaseGrantsForTransition(ctx context.Context, tx storage.Tx, task *types.Task,
	from, to types.TaskState, now time.Time) error {

	if from.HoldsLease() && !to.HoldsLease() {
		lease, err := tx.ActiveLease(ctx, task.ID)
		if err != nil {
			return err
		}
		if lease != nil {
			lease.Status = types.GrantReleased
			lease.ReleasedAt = &now
			if err := tx.UpdateLease(ctx, lease); err != nil {
				return err
			}
		}
	}
	if from == types.StateReserved && to != types.StateReserved {
		reservation, err := tx.ActiveReservation(ctx, task.ID)
		if err != nil {
			return err
		}
		if reservation != nil {
			reservation.Status = types.GrantReleased
			reservation.ReleasedAt = &now
			if err := tx.UpdateReservation(ctx, reservation); err != nil {
				return err
			}
		}
	}
	return nil
}
