// Package metrics derives the read model from the event log. The
// materializer is an idempotent incremental consumer: it resumes from a
// per-(project, mode) checkpoint, processes transition events in id order,
// and records every invocation as a MetricsRun keyed for safe retries.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/config"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// Materializer consumes task_state_transitioned events into per-state
// transition counters.
type Materializer struct {
	store      storage.Store
	clock      idgen.Clock
	log        zerolog.Logger
	batchSizes map[types.MetricsMode]int
}

// New creates a materializer with the configured per-mode batch sizes.
func New(store storage.Store, cfg *config.Config, clock idgen.Clock, log zerolog.Logger) *Materializer {
	return &Materializer{
		store: store,
		clock: clock,
		log:   log,
		batchSizes: map[types.MetricsMode]int{
			types.ModeBatch:        cfg.MetricsBatchSize,
			types.ModeNearRealTime: cfg.MetricsNRTBatchSize,
		},
	}
}

// RunRequest parameterizes one materializer invocation.
type RunRequest struct {
	ProjectID      string
	Mode           types.MetricsMode
	IdempotencyKey string

	// ReplayFromEventID, when positive, resets the project's counters and
	// replays from that event id. Zero means incremental.
	ReplayFromEventID int64
}

// Run executes one materializer pass. A request whose idempotency key was
// already used returns the stored run verbatim with no side effects. A run
// that hits an undecodable event payload is recorded as failed without
// advancing the checkpoint or counters; the failed run is returned, not an
// error.
func (m *Materializer) Run(ctx context.Context, req RunRequest) (*types.MetricsRun, error) {
	if !req.Mode.Valid() {
		return nil, apperr.Newf(apperr.InvalidState, "unknown metrics mode %q", req.Mode)
	}
	if req.IdempotencyKey == "" {
		return nil, apperr.New(apperr.InvalidState, "idempotency key is required")
	}

	// Idempotent re-fetch before doing any work.
	prior, err := m.store.GetRunByKey(ctx, req.ProjectID, req.IdempotencyKey)
	if err != nil {
		return nil, m.fail(err)
	}
	if prior != nil {
		return prior, nil
	}

	now := m.clock.Now()
	var run *types.MetricsRun

	err = m.store.RunInTx(ctx, func(tx storage.Tx) error {
		cp, err := tx.GetCheckpoint(ctx, req.ProjectID, req.Mode)
		if err != nil {
			return err
		}
		if cp == nil {
			cp = &types.MetricsCheckpoint{ProjectID: req.ProjectID, Mode: req.Mode}
		}
		base := cp.LastEventID
		replay := req.ReplayFromEventID > 0
		if replay {
			base = req.ReplayFromEventID - 1
		}
		startEventID := base + 1

		events, err := tx.ListEvents(ctx, storage.EventQuery{
			ProjectID:  req.ProjectID,
			AfterID:    base,
			EntityType: types.EntityTask,
			EventType:  types.EventTaskStateTransitioned,
			Limit:      m.batchSizes[req.Mode],
		})
		if err != nil {
			return err
		}

		// Decode everything before touching counters so a poison event
		// leaves the read model and checkpoint untouched.
		states := make([]types.TaskState, 0, len(events))
		for _, ev := range events {
			state, err := decodeToState(ev)
			if err != nil {
				reason := err.Error()
				run = &types.MetricsRun{
					ID:             idgen.NewID(),
					ProjectID:      req.ProjectID,
					Mode:           req.Mode,
					Status:         types.RunFailed,
					IdempotencyKey: req.IdempotencyKey,
					StartEventID:   startEventID,
					EndEventID:     ev.ID,
					FailureReason:  &reason,
					StartedAt:      now,
					CompletedAt:    &now,
				}
				return tx.CreateRun(ctx, run)
			}
			states = append(states, state)
		}

		if replay {
			if err := tx.DeleteStateCounters(ctx, req.ProjectID); err != nil {
				return err
			}
		}
		endEventID := base
		for i, ev := range events {
			if err := tx.BumpStateCounter(ctx, req.ProjectID, states[i], ev.ID); err != nil {
				return err
			}
			endEventID = ev.ID
		}
		if len(events) > 0 || replay {
			cp.LastEventID = endEventID
			cp.LastSuccessAt = &now
			if err := tx.UpsertCheckpoint(ctx, cp); err != nil {
				return err
			}
		}

		run = &types.MetricsRun{
			ID:              idgen.NewID(),
			ProjectID:       req.ProjectID,
			Mode:            req.Mode,
			Status:          types.RunSucceeded,
			IdempotencyKey:  req.IdempotencyKey,
			StartEventID:    startEventID,
			EndEventID:      endEventID,
			ProcessedEvents: len(events),
			StartedAt:       now,
			CompletedAt:     &now,
		}
		return tx.CreateRun(ctx, run)
	})
	if err != nil {
		// A concurrent run with the same key won the race; its stored
		// record is the canonical result.
		if errors.Is(err, storage.ErrDuplicate) {
			stored, lookupErr := m.store.GetRunByKey(ctx, req.ProjectID, req.IdempotencyKey)
			if lookupErr == nil && stored != nil {
				return stored, nil
			}
		}
		return nil, m.failRun(ctx, req, err)
	}
	return run, nil
}

// decodeToState extracts payload.to_state, rejecting unknown states.
func decodeToState(ev *types.Event) (types.TaskState, error) {
	var payload types.TransitionPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return "", apperr.Newf(apperr.InvalidEventPayload, "event %d: undecodable payload", ev.ID)
	}
	if !payload.ToState.Valid() {
		return "", apperr.Newf(apperr.InvalidEventPayload, "event %d: unknown to_state %q", ev.ID, payload.ToState)
	}
	return payload.ToState, nil
}

// failRun records an unexpected failure as a failed run so the invocation is
// still visible, then surfaces the coded error.
func (m *Materializer) failRun(ctx context.Context, req RunRequest, cause error) error {
	coded := m.fail(cause)
	reason := coded.Error()
	now := m.clock.Now()
	run := &types.MetricsRun{
		ID:             idgen.NewID(),
		ProjectID:      req.ProjectID,
		Mode:           req.Mode,
		Status:         types.RunFailed,
		IdempotencyKey: req.IdempotencyKey,
		FailureReason:  &reason,
		StartedAt:      now,
		CompletedAt:    &now,
	}
	if err := m.store.RunInTx(ctx, func(tx storage.Tx) error {
		return tx.CreateRun(ctx, run)
	}); err != nil {
		m.log.Error().Err(err).Msg("failed to record failed metrics run")
	}
	return coded
}

func (m *Materializer) fail(err error) *apperr.Error {
	var coded *apperr.Error
	if errors.As(err, &coded) {
		return coded
	}
	m.log.Error().Err(err).Msg("materializer failure")
	return apperr.Wrap(err)
}

// Counters returns the project's derived per-state transition counters.
func (m *Materializer) Counters(ctx context.Context, projectID string) ([]*types.StateCounter, error) {
	counters, err := m.store.StateCounters(ctx, projectID)
	if err != nil {
		return nil, m.fail(err)
	}
	return counters, nil
}

// DeriveKey builds the stable per-run idempotency key used by the backfill
// and cadence orchestrators.
func DeriveKey(prefix string, mode types.MetricsMode, startEventID int64) string {
	return fmt.Sprintf("%s:%s:%d", prefix, mode, startEventID)
}
