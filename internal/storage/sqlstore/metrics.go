package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ceruleanworks/foreman/internal/types"
)

// GetCheckpoint returns the materializer cursor for (project, mode), or nil
// when the materializer has never run.
func (q *queries) GetCheckpoint(ctx context.Context, projectID string, mode types.MetricsMode) (*types.MetricsCheckpoint, error) {
	var cp types.MetricsCheckpoint
	err := q.get(ctx, &cp, `
		SELECT * FROM metrics_checkpoints WHERE project_id = ? AND mode = ?`,
		projectID, mode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get checkpoint", err)
	}
	return &cp, nil
}

func (q *queries) UpsertCheckpoint(ctx context.Context, cp *types.MetricsCheckpoint) error {
	_, err := q.exec(ctx, `
		INSERT INTO metrics_checkpoints (project_id, mode, last_event_id, last_success_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, mode) DO UPDATE SET
			last_event_id = excluded.last_event_id,
			last_success_at = excluded.last_success_at`,
		cp.ProjectID, cp.Mode, cp.LastEventID, cp.LastSuccessAt)
	return wrapErr("upsert checkpoint", err)
}

// GetRunByKey returns the run stored under (project, idempotency key), or nil
// when the key was never used.
func (q *queries) GetRunByKey(ctx context.Context, projectID, idempotencyKey string) (*types.MetricsRun, error) {
	var r types.MetricsRun
	err := q.get(ctx, &r, `
		SELECT * FROM metrics_runs WHERE project_id = ? AND idempotency_key = ?`,
		projectID, idempotencyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get run by key", err)
	}
	return &r, nil
}

func (q *queries) GetRun(ctx context.Context, id string) (*types.MetricsRun, error) {
	var r types.MetricsRun
	err := q.get(ctx, &r, `SELECT * FROM metrics_runs WHERE id = ?`, id)
	if err != nil {
		return nil, wrapErr("get run", err)
	}
	return &r, nil
}

func (q *queries) CreateRun(ctx context.Context, r *types.MetricsRun) error {
	_, err := q.exec(ctx, `
		INSERT INTO metrics_runs (id, project_id, mode, status, idempotency_key,
			start_event_id, end_event_id, processed_events, failure_reason, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.Mode, r.Status, r.IdempotencyKey,
		r.StartEventID, r.EndEventID, r.ProcessedEvents, r.FailureReason, r.StartedAt, r.CompletedAt)
	return wrapErr("create run", err)
}

func (q *queries) StateCounters(ctx context.Context, projectID string) ([]*types.StateCounter, error) {
	var out []*types.StateCounter
	err := q.selectAll(ctx, &out, `
		SELECT * FROM metrics_state_counters WHERE project_id = ? ORDER BY state`,
		projectID)
	if err != nil {
		return nil, wrapErr("state counters", err)
	}
	return out, nil
}

// BumpStateCounter increments the transition counter for (project, state)
// and advances its high-water event id.
func (q *queries) BumpStateCounter(ctx context.Context, projectID string, state types.TaskState, eventID int64) error {
	_, err := q.exec(ctx, `
		INSERT INTO metrics_state_counters (project_id, state, transition_count, last_event_id)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (project_id, state) DO UPDATE SET
			transition_count = metrics_state_counters.transition_count + 1,
			last_event_id = excluded.last_event_id`,
		projectID, state, eventID)
	return wrapErr("bump state counter", err)
}

// DeleteStateCounters clears the derived read model ahead of a replay reset.
func (q *queries) DeleteStateCounters(ctx context.Context, projectID string) error {
	_, err := q.exec(ctx, `DELETE FROM metrics_state_counters WHERE project_id = ?`, projectID)
	return wrapErr("delete state counters", err)
}
