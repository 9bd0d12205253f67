package core

import (
	"context"
	"time"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// ClaimTask grants an agent exclusive execution rights on a ready or
// reserved task. The lease, its fencing counter, the task transition to
// claimed, and the work-spec snapshot are all created in one transaction
// under the task's row lock.
func (c *Core) ClaimTask(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	now := c.clock.Now()
	var result *ClaimResult

	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		task, err := tx.LockTask(ctx, req.ProjectID, req.TaskID)
		if err != nil {
			return notFound(err, apperr.TaskNotFound, "task not found")
		}
		if task.State != types.StateReady && task.State != types.StateReserved {
			return apperr.Newf(apperr.TaskNotClaimable, "task in state %q cannot be claimed", task.State)
		}
		lease, err := tx.ActiveLease(ctx, task.ID)
		if err != nil {
			return err
		}
		if lease != nil {
			return apperr.New(apperr.LeaseExists, "task already has an active lease")
		}
		reservation, err := tx.ActiveReservation(ctx, task.ID)
		if err != nil {
			return err
		}
		if reservation != nil {
			if reservation.AssigneeAgentID != req.AgentID {
				return apperr.Newf(apperr.ReservationConflict,
					"task is reserved for another agent")
			}
			reservation.Status = types.GrantConsumed
			reservation.ReleasedAt = &now
			if err := tx.UpdateReservation(ctx, reservation); err != nil {
				return err
			}
		}

		prevCounter, err := tx.MaxFencingCounter(ctx, task.ID)
		if err != nil {
			return err
		}
		token, err := idgen.NewToken()
		if err != nil {
			return err
		}
		lease = &types.Lease{
			ID:             idgen.NewID(),
			ProjectID:      task.ProjectID,
			TaskID:         task.ID,
			AgentID:        req.AgentID,
			Token:          token,
			Status:         types.GrantActive,
			ExpiresAt:      now.Add(c.cfg.LeaseDuration),
			HeartbeatAt:    now,
			FencingCounter: prevCounter + 1,
			CreatedAt:      now,
		}
		if err := tx.CreateLease(ctx, lease); err != nil {
			return notDuplicate(err, apperr.LeaseExists, "task already has an active lease")
		}

		planVersion, err := tx.CurrentPlanVersion(ctx, task.ProjectID)
		if err != nil {
			return err
		}
		payload, err := idgen.CanonicalJSON(task.WorkSpec)
		if err != nil {
			return err
		}
		hash, err := idgen.WorkSpecHash(task.WorkSpec)
		if err != nil {
			return err
		}
		snapshot := &types.TaskSnapshot{
			ID:                  idgen.NewID(),
			ProjectID:           task.ProjectID,
			TaskID:              task.ID,
			LeaseID:             lease.ID,
			CapturedPlanVersion: planVersion,
			WorkSpecHash:        hash,
			WorkSpecPayload:     payload,
			CapturedBy:          req.AgentID,
			CapturedAt:          now,
		}
		if err := tx.CreateSnapshot(ctx, snapshot); err != nil {
			return err
		}

		from := task.State
		task.State = types.StateClaimed
		task.Version++
		task.UpdatedAt = now
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, task.ProjectID, types.EntityTask, task.ID,
			types.EventTaskStateTransitioned,
			types.TransitionPayload{FromState: from, ToState: types.StateClaimed, Reason: "claimed", Actor: req.AgentID},
			req.AgentID, now); err != nil {
			return err
		}

		result = &ClaimResult{Task: task, Lease: lease, Snapshot: snapshot}
		return nil
	})
	if err != nil {
		return nil, c.fail("claim_task", err)
	}
	return result, nil
}

// HeartbeatTask extends an active lease. A stale seen_plan_version fails
// with retryable PLAN_STALE carrying the current version; an expired or
// unknown lease fails with LEASE_INVALID.
func (c *Core) HeartbeatTask(ctx context.Context, req HeartbeatRequest) (*HeartbeatResult, error) {
	now := c.clock.Now()
	var result *HeartbeatResult

	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		// Row lock first, like claim and assign: a concurrent sweep of this
		// task commits before or after the whole heartbeat, never between the
		// lease read and the write-back.
		if _, err := tx.LockTask(ctx, req.ProjectID, req.TaskID); err != nil {
			return notFound(err, apperr.TaskNotFound, "task not found")
		}
		current, err := tx.CurrentPlanVersion(ctx, req.ProjectID)
		if err != nil {
			return err
		}
		if req.SeenPlanVersion != nil && *req.SeenPlanVersion < current {
			return apperr.Retry(apperr.PlanStale, "plan has advanced past the seen version").
				WithDetail("current_plan_version", current)
		}

		lease, err := tx.FindActiveLease(ctx, req.ProjectID, req.TaskID, req.AgentID, req.Token)
		if err != nil {
			return err
		}
		if lease == nil {
			return apperr.New(apperr.LeaseInvalid, "no active lease matches the supplied token")
		}
		// Wall-clock expiry makes a late heartbeat invalid even before the
		// sweeper reaps the lease.
		if !lease.ExpiresAt.After(now) {
			return apperr.New(apperr.LeaseInvalid, "lease has expired")
		}

		lease.HeartbeatAt = now
		lease.ExpiresAt = now.Add(c.cfg.LeaseDuration)
		if err := tx.UpdateLease(ctx, lease); err != nil {
			return err
		}
		result = &HeartbeatResult{Lease: lease, CurrentPlanVersion: current}
		return nil
	})
	if err != nil {
		return nil, c.fail("heartbeat_task", err)
	}
	return result, nil
}

// AssignTask reserves a task for a named agent. The reservation is hard:
// only the assignee may claim while it is active.
func (c *Core) AssignTask(ctx context.Context, req AssignRequest) (*AssignResult, error) {
	ttl := req.TTLSeconds
	if ttl == 0 {
		ttl = int(c.cfg.ReservationDefaultTTL.Seconds())
	}
	if ttl < types.ReservationMinTTLSeconds || ttl > types.ReservationMaxTTLSeconds {
		return nil, apperr.Newf(apperr.InvalidState,
			"reservation ttl %d outside allowed range [%d, %d]",
			ttl, types.ReservationMinTTLSeconds, types.ReservationMaxTTLSeconds)
	}

	now := c.clock.Now()
	var result *AssignResult

	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		task, err := tx.LockTask(ctx, req.ProjectID, req.TaskID)
		if err != nil {
			return notFound(err, apperr.TaskNotFound, "task not found")
		}
		if task.State != types.StateReady && task.State != types.StateReserved {
			return apperr.Newf(apperr.TaskNotAssignable, "task in state %q cannot be assigned", task.State)
		}
		lease, err := tx.ActiveLease(ctx, task.ID)
		if err != nil {
			return err
		}
		if lease != nil {
			return apperr.New(apperr.LeaseExists, "task already has an active lease")
		}
		existing, err := tx.ActiveReservation(ctx, task.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.New(apperr.ReservationExists, "task already has an active reservation")
		}

		reservation := &types.Reservation{
			ID:              idgen.NewID(),
			ProjectID:       task.ProjectID,
			TaskID:          task.ID,
			AssigneeAgentID: req.AssigneeAgentID,
			Status:          types.GrantActive,
			TTLSeconds:      ttl,
			ExpiresAt:       now.Add(time.Duration(ttl) * time.Second),
			CreatedBy:       req.CreatedBy,
			CreatedAt:       now,
		}
		if err := tx.CreateReservation(ctx, reservation); err != nil {
			return notDuplicate(err, apperr.ReservationExists, "task already has an active reservation")
		}

		if task.State != types.StateReserved {
			from := task.State
			task.State = types.StateReserved
			task.Version++
			task.UpdatedAt = now
			if err := tx.UpdateTask(ctx, task); err != nil {
				return err
			}
			if err := appendEvent(ctx, tx, task.ProjectID, types.EntityTask, task.ID,
				types.EventTaskStateTransitioned,
				types.TransitionPayload{FromState: from, ToState: types.StateReserved, Reason: "assigned", Actor: req.CreatedBy},
				req.CreatedBy, now); err != nil {
				return err
			}
		}
		result = &AssignResult{Task: task, Reservation: reservation}
		return nil
	})
	if err != nil {
		return nil, c.fail("assign_task", err)
	}
	return result, nil
}
