package core

import (
	"context"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/types"
)

// ReadyTasks scores ready work for an agent. The store pre-filters on state,
// active leases, and predecessor satisfaction; this layer applies the
// capability and reservation-assignee filters and the result ordering is
// (priority, created_at, id) ascending from the query.
func (c *Core) ReadyTasks(ctx context.Context, req ReadyTasksRequest) ([]*types.Task, error) {
	if _, err := c.store.GetProject(ctx, req.ProjectID); err != nil {
		return nil, c.fail("get_ready_tasks", notFound(err, apperr.ProjectNotFound, "project not found"))
	}
	candidates, err := c.store.ReadyCandidates(ctx, req.ProjectID)
	if err != nil {
		return nil, c.fail("get_ready_tasks", err)
	}

	var out []*types.Task
	for _, cand := range candidates {
		// A reservation held by the caller is a positive filter, one held
		// by anyone else excludes the task.
		if cand.ReservedFor != nil && *cand.ReservedFor != req.AgentID {
			continue
		}
		// Empty capability tags bypass the capability filter.
		if len(cand.Task.CapabilityTags) > 0 && !cand.Task.CapabilityTags.Intersects(req.Capabilities) {
			continue
		}
		out = append(out, cand.Task)
		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
	}
	return out, nil
}
