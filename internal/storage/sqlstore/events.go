package sqlstore

import (
	"context"
	"fmt"

	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// AppendEvent inserts a log entry and assigns its dense monotonic id. The id
// comes from the database sequence so concurrent writers can never collide;
// appending inside the mutating transaction keeps the log gapless on commit.
func (q *queries) AppendEvent(ctx context.Context, e *types.Event) error {
	payload := "{}"
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}

	if q.d == dialectPostgres {
		row := q.ext.QueryRowxContext(ctx, q.rebind(`
			INSERT INTO event_log (project_id, entity_type, entity_id, event_type, payload, caused_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id`),
			e.ProjectID, e.EntityType, e.EntityID, e.EventType, payload, e.CausedBy, e.CreatedAt)
		if err := row.Scan(&e.ID); err != nil {
			return wrapErr("append event", err)
		}
		return nil
	}

	res, err := q.exec(ctx, `
		INSERT INTO event_log (project_id, entity_type, entity_id, event_type, payload, caused_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ProjectID, e.EntityType, e.EntityID, e.EventType, payload, e.CausedBy, e.CreatedAt)
	if err != nil {
		return wrapErr("append event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapErr("append event", err)
	}
	e.ID = id
	return nil
}

// ListEvents returns events after q.AfterID in id order.
func (q *queries) ListEvents(ctx context.Context, query storage.EventQuery) ([]*types.Event, error) {
	sqlQuery := `SELECT * FROM event_log WHERE project_id = ? AND id > ?`
	args := []any{query.ProjectID, query.AfterID}

	if query.EntityType != "" {
		sqlQuery += ` AND entity_type = ?`
		args = append(args, query.EntityType)
	}
	if query.EventType != "" {
		sqlQuery += ` AND event_type = ?`
		args = append(args, query.EventType)
	}
	sqlQuery += ` ORDER BY id`
	if query.Limit > 0 {
		sqlQuery += fmt.Sprintf(` LIMIT %d`, query.Limit)
	}

	var out []*types.Event
	if err := q.selectAll(ctx, &out, sqlQuery, args...); err != nil {
		return nil, wrapErr("list events", err)
	}
	return out, nil
}
