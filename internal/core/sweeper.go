package core

import (
	"context"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// sweepBatchLimit caps how many grants one sweep pass reaps.
const sweepBatchLimit = 500

// SweepResult reports one pass of the expiration sweeper.
type SweepResult struct {
	ExpiredLeases       int `json:"expired_leases"`
	ExpiredReservations int `json:"expired_reservations"`
}

// Sweep reaps expired leases and reservations in one transaction. A lease
// expiry returns its claimed/in_progress task to ready; a reservation expiry
// returns its reserved task to ready.
func (c *Core) Sweep(ctx context.Context) (*SweepResult, error) {
	now := c.clock.Now()
	result := &SweepResult{}

	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		leases, err := tx.ExpiredLeases(ctx, now, sweepBatchLimit)
		if err != nil {
			return err
		}
		for _, lease := range leases {
			lease.Status = types.GrantExpired
			if err := tx.UpdateLease(ctx, lease); err != nil {
				return err
			}
			if err := appendEvent(ctx, tx, lease.ProjectID, types.EntityLease, lease.ID,
				types.EventLeaseExpired, map[string]any{
					"task_id": lease.TaskID, "agent_id": lease.AgentID,
				}, "", now); err != nil {
				return err
			}
			if err := returnTaskToReady(ctx, tx, lease.ProjectID, lease.TaskID, "lease_expired", now); err != nil {
				return err
			}
			result.ExpiredLeases++
		}

		reservations, err := tx.ExpiredReservations(ctx, now, sweepBatchLimit)
		if err != nil {
			return err
		}
		for _, res := range reservations {
			res.Status = types.GrantExpired
			if err := tx.UpdateReservation(ctx, res); err != nil {
				return err
			}
			if err := appendEvent(ctx, tx, res.ProjectID, types.EntityReservation, res.ID,
				types.EventReservationExpired, map[string]any{
					"task_id": res.TaskID, "assignee_agent_id": res.AssigneeAgentID,
				}, "", now); err != nil {
				return err
			}
			if err := returnTaskToReady(ctx, tx, res.ProjectID, res.TaskID, "reservation_expired", now); err != nil {
				return err
			}
			result.ExpiredReservations++
		}
		return nil
	})
	if err != nil {
		return nil, c.fail("sweep", err)
	}
	return result, nil
}

// returnTaskToReady moves a task whose grant lapsed back to ready, if it is
// still in a granted state.
func returnTaskToReady(ctx context.Context, tx storage.Tx, projectID, taskID, reason string, now time.Time) error {
	task, err := tx.LockTask(ctx, projectID, taskID)
	if err != nil {
		return err
	}
	switch task.State {
	case types.StateClaimed, types.StateInProgress, types.StateReserved:
	default:
		return nil
	}

	from := task.State
	task.State = types.StateReady
	task.Version++
	task.UpdatedAt = now
	if err := tx.UpdateTask(ctx, task); err != nil {
		return err
	}
	return appendEvent(ctx, tx, projectID, types.EntityTask, task.ID,
		types.EventTaskStateTransitioned,
		types.TransitionPayload{FromState: from, ToState: types.StateReady, Reason: reason, Actor: "sweeper"},
		"", now)
}

// Sweeper runs Sweep on a cadence under a filesystem advisory lock, so only
// one process reaps grants even when several instances share a host.
type Sweeper struct {
	core     *Core
	interval time.Duration
	lock     *flock.Flock
	log      zerolog.Logger
}

// NewSweeper creates a sweeper. lockPath is the advisory lock file shared by
// all instances on the host.
func NewSweeper(core *Core, interval time.Duration, lockPath string, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		core:     core,
		interval: interval,
		lock:     flock.New(lockPath),
		log:      log,
	}
}

// Run sweeps until the context is cancelled. A pass that cannot take the
// advisory lock is skipped; another instance is sweeping.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweepOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep pass failed")
			}
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) error {
	locked, err := s.lock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return nil
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	result, err := s.core.Sweep(ctx)
	if err != nil {
		return err
	}
	if result.ExpiredLeases > 0 || result.ExpiredReservations > 0 {
		s.log.Info().
			Int("leases", result.ExpiredLeases).
			Int("reservations", result.ExpiredReservations).
			Msg("reaped expired grants")
	}
	return nil
}
