package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ceruleanworks/foreman/internal/types"
)

// ActiveLease returns the task's active lease, or nil when no lease is held.
func (q *queries) ActiveLease(ctx context.Context, taskID string) (*types.Lease, error) {
	var l types.Lease
	err := q.get(ctx, &l, `SELECT * FROM leases WHERE task_id = ? AND status = 'active'`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("active lease", err)
	}
	return &l, nil
}

// FindActiveLease resolves a lease by its full identity: project, task,
// holder, and token. Returns nil when no such active lease exists.
func (q *queries) FindActiveLease(ctx context.Context, projectID, taskID, agentID, token string) (*types.Lease, error) {
	var l types.Lease
	err := q.get(ctx, &l, `
		SELECT * FROM leases
		WHERE project_id = ? AND task_id = ? AND agent_id = ? AND token = ? AND status = 'active'`,
		projectID, taskID, agentID, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("find active lease", err)
	}
	return &l, nil
}

func (q *queries) CreateLease(ctx context.Context, l *types.Lease) error {
	_, err := q.exec(ctx, `
		INSERT INTO leases (id, project_id, task_id, agent_id, token, status,
			expires_at, heartbeat_at, fencing_counter, created_at, released_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ProjectID, l.TaskID, l.AgentID, l.Token, l.Status,
		l.ExpiresAt, l.HeartbeatAt, l.FencingCounter, l.CreatedAt, l.ReleasedAt)
	return wrapErr("create lease", err)
}

func (q *queries) UpdateLease(ctx context.Context, l *types.Lease) error {
	res, err := q.exec(ctx, `
		UPDATE leases SET status = ?, expires_at = ?, heartbeat_at = ?, released_at = ?
		WHERE id = ?`,
		l.Status, l.ExpiresAt, l.HeartbeatAt, l.ReleasedAt, l.ID)
	return mustAffect("update lease", res, err)
}

// MaxFencingCounter returns the highest fencing counter ever issued for a
// task, across all lease statuses. Zero means no lease was ever granted.
func (q *queries) MaxFencingCounter(ctx context.Context, taskID string) (int64, error) {
	var max int64
	err := q.get(ctx, &max, `
		SELECT COALESCE(MAX(fencing_counter), 0) FROM leases WHERE task_id = ?`, taskID)
	if err != nil {
		return 0, wrapErr("max fencing counter", err)
	}
	return max, nil
}

func (q *queries) ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*types.Lease, error) {
	var out []*types.Lease
	err := q.selectAll(ctx, &out, `
		SELECT * FROM leases
		WHERE status = 'active' AND expires_at <= ?
		ORDER BY expires_at, id
		LIMIT ?`,
		now, limit)
	if err != nil {
		return nil, wrapErr("expired leases", err)
	}
	return out, nil
}

// ActiveReservation returns the task's active reservation, or nil when the
// task is unreserved.
func (q *queries) ActiveReservation(ctx context.Context, taskID string) (*types.Reservation, error) {
	var r types.Reservation
	err := q.get(ctx, &r, `SELECT * FROM reservations WHERE task_id = ? AND status = 'active'`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("active reservation", err)
	}
	return &r, nil
}

func (q *queries) CreateReservation(ctx context.Context, r *types.Reservation) error {
	_, err := q.exec(ctx, `
		INSERT INTO reservations (id, project_id, task_id, assignee_agent_id, status,
			ttl_seconds, expires_at, created_by, created_at, released_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.TaskID, r.AssigneeAgentID, r.Status,
		r.TTLSeconds, r.ExpiresAt, r.CreatedBy, r.CreatedAt, r.ReleasedAt)
	return wrapErr("create reservation", err)
}

func (q *queries) UpdateReservation(ctx context.Context, r *types.Reservation) error {
	res, err := q.exec(ctx, `
		UPDATE reservations SET status = ?, expires_at = ?, released_at = ?
		WHERE id = ?`,
		r.Status, r.ExpiresAt, r.ReleasedAt, r.ID)
	return mustAffect("update reservation", res, err)
}

func (q *queries) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*types.Reservation, error) {
	var out []*types.Reservation
	err := q.selectAll(ctx, &out, `
		SELECT * FROM reservations
		WHERE status = 'active' AND expires_at <= ?
		ORDER BY expires_at, id
		LIMIT ?`,
		now, limit)
	if err != nil {
		return nil, wrapErr("expired reservations", err)
	}
	return out, nil
}

func (q *queries) GetSnapshotByLease(ctx context.Context, leaseID string) (*types.TaskSnapshot, error) {
	var s types.TaskSnapshot
	err := q.get(ctx, &s, `SELECT * FROM task_snapshots WHERE lease_id = ?`, leaseID)
	if err != nil {
		return nil, wrapErr("get snapshot", err)
	}
	return &s, nil
}

func (q *queries) CreateSnapshot(ctx context.Context, s *types.TaskSnapshot) error {
	_, err := q.exec(ctx, `
		INSERT INTO task_snapshots (id, project_id, task_id, lease_id,
			captured_plan_version, work_spec_hash, work_spec_payload, captured_by, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProjectID, s.TaskID, s.LeaseID,
		s.CapturedPlanVersion, s.WorkSpecHash, string(s.WorkSpecPayload), s.CapturedBy, s.CapturedAt)
	return wrapErr("create snapshot", err)
}
