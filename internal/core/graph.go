package core

import (
	"context"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// CreateDependency inserts an edge from -> to after verifying both endpoints
// and that the edge keeps the graph acyclic.
func (c *Core) CreateDependency(ctx context.Context, req CreateDependencyRequest) (*types.Dependency, error) {
	if req.FromTaskID == req.ToTaskID {
		return nil, apperr.New(apperr.CycleDetected, "a task cannot depend on itself")
	}
	unlockOn := req.UnlockOn
	if unlockOn == "" {
		unlockOn = types.UnlockOnImplemented
	}
	if !unlockOn.Valid() {
		return nil, apperr.Newf(apperr.InvalidState, "unknown unlock mode %q", unlockOn)
	}

	dep := &types.Dependency{
		ID:         idgen.NewID(),
		ProjectID:  req.ProjectID,
		FromTaskID: req.FromTaskID,
		ToTaskID:   req.ToTaskID,
		UnlockOn:   unlockOn,
		CreatedBy:  req.Actor,
		CreatedAt:  c.clock.Now(),
	}
	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		// Project lock serializes concurrent edge inserts so the cycle
		// check sees a stable graph.
		if _, err := tx.LockProject(ctx, req.ProjectID); err != nil {
			return notFound(err, apperr.ProjectNotFound, "project not found")
		}
		// Both lookups are project-scoped, so a wrong-project endpoint
		// surfaces as TASK_NOT_FOUND.
		if _, err := tx.GetTask(ctx, req.ProjectID, req.FromTaskID); err != nil {
			return notFound(err, apperr.TaskNotFound, "from task not found")
		}
		if _, err := tx.GetTask(ctx, req.ProjectID, req.ToTaskID); err != nil {
			return notFound(err, apperr.TaskNotFound, "to task not found")
		}

		cyclic, err := createsCycle(ctx, tx, req.ProjectID, req.FromTaskID, req.ToTaskID)
		if err != nil {
			return err
		}
		if cyclic {
			return apperr.New(apperr.CycleDetected, "edge would create a dependency cycle")
		}
		if err := tx.CreateDependency(ctx, dep); err != nil {
			return notDuplicate(err, apperr.InvalidState, "dependency already exists")
		}
		return nil
	})
	if err != nil {
		return nil, c.fail("create_dependency", err)
	}
	return dep, nil
}

// createsCycle reports whether adding from -> to closes a directed cycle:
// true iff from is reachable from to over the existing edges.
func createsCycle(ctx context.Context, tx storage.Tx, projectID, fromTaskID, toTaskID string) (bool, error) {
	deps, err := tx.ListDependencies(ctx, projectID)
	if err != nil {
		return false, err
	}
	next := make(map[string][]string, len(deps))
	for _, d := range deps {
		next[d.FromTaskID] = append(next[d.FromTaskID], d.ToTaskID)
	}

	visited := make(map[string]bool)
	stack := []string{toTaskID}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == fromTaskID {
			return true, nil
		}
		if visited[node] {
			continue
		}
		visited[node] = true
		stack = append(stack, next[node]...)
	}
	return false, nil
}

// DeleteDependency removes an edge.
func (c *Core) DeleteDependency(ctx context.Context, req DeleteDependencyRequest) error {
	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		err := tx.DeleteDependency(ctx, req.ProjectID, req.FromTaskID, req.ToTaskID)
		return notFound(err, apperr.TaskNotFound, "dependency not found")
	})
	if err != nil {
		return c.fail("delete_dependency", err)
	}
	return nil
}

// GetProjectGraph returns every task and dependency edge of a project.
func (c *Core) GetProjectGraph(ctx context.Context, projectID string) (*ProjectGraph, error) {
	if _, err := c.store.GetProject(ctx, projectID); err != nil {
		return nil, c.fail("get_project_graph", notFound(err, apperr.ProjectNotFound, "project not found"))
	}
	tasks, err := c.store.ListTasks(ctx, projectID, storage.TaskFilter{})
	if err != nil {
		return nil, c.fail("get_project_graph", err)
	}
	deps, err := c.store.ListDependencies(ctx, projectID)
	if err != nil {
		return nil, c.fail("get_project_graph", err)
	}
	return &ProjectGraph{Tasks: tasks, Dependencies: deps}, nil
}
