package core

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
	"github.com/ceruleanworks/foreman/internal/types"
)

// Material and cosmetic field sets of the update_task operation. A task is
// materially touched iff any material field actually changed value; new
// operation tags must declare their classification here explicitly.
var (
	materialFields = map[string]bool{
		"work_spec":        true,
		"task_class":       true,
		"capability_tags":  true,
		"expected_touches": true,
		"exclusive_paths":  true,
		"shared_paths":     true,
	}
	cosmeticFields = map[string]bool{
		"title":       true,
		"description": true,
		"priority":    true,
	}
)

// CreatePlanChangeSet records a draft changeset. Operations are validated
// for known tags and payload fields up front; application happens separately.
func (c *Core) CreatePlanChangeSet(ctx context.Context, req CreateChangeSetRequest) (*types.PlanChangeSet, error) {
	for i, op := range req.Operations {
		if err := validateOperation(op); err != nil {
			return nil, c.fail("create_plan_changeset",
				fmt.Errorf("operation %d: %w", i, err))
		}
	}

	now := c.clock.Now()
	cs := &types.PlanChangeSet{
		ID:            idgen.NewID(),
		ProjectID:     req.ProjectID,
		Status:        types.ChangeSetDraft,
		Operations:    req.Operations,
		ImpactPreview: types.JSONMap{},
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now,
	}
	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		current, err := tx.CurrentPlanVersion(ctx, req.ProjectID)
		if err != nil {
			return err
		}
		if current == 0 {
			return apperr.New(apperr.ProjectNotFound, "project not found")
		}
		cs.BasePlanVersion = req.BasePlanVersion
		if cs.BasePlanVersion == 0 {
			cs.BasePlanVersion = current
		}
		cs.TargetPlanVersion = req.TargetPlanVersion
		if cs.TargetPlanVersion == 0 {
			cs.TargetPlanVersion = cs.BasePlanVersion + 1
		}
		return tx.CreateChangeSet(ctx, cs)
	})
	if err != nil {
		return nil, c.fail("create_plan_changeset", err)
	}
	return cs, nil
}

func validateOperation(op types.ChangeOperation) error {
	switch op.Op {
	case types.OpReprioritizeTask:
		if op.TaskID == "" {
			return apperr.New(apperr.InvalidState, "reprioritize_task requires a task_id")
		}
	case types.OpUpdateTask:
		if op.TaskID == "" {
			return apperr.New(apperr.InvalidState, "update_task requires a task_id")
		}
		for field := range op.Payload {
			if !materialFields[field] && !cosmeticFields[field] {
				return apperr.Newf(apperr.InvalidState, "update_task does not accept field %q", field)
			}
		}
	default:
		// New tags must declare a material/cosmetic classification before
		// the applier will touch them.
		return apperr.Newf(apperr.InvalidState, "unknown changeset operation %q", op.Op)
	}
	return nil
}

// ApplyPlanChangeSet applies a changeset transactionally: operations run in
// order, materially-touched claimed/reserved tasks lose their grants and
// return to ready, and a new plan version is recorded. Re-applying an
// already-applied changeset is a no-op under allow_rebase and PLAN_STALE
// otherwise.
func (c *Core) ApplyPlanChangeSet(ctx context.Context, req ApplyChangeSetRequest) (*ApplyChangeSetResult, error) {
	now := c.clock.Now()
	var result *ApplyChangeSetResult

	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.LockProject(ctx, req.ProjectID); err != nil {
			return notFound(err, apperr.ProjectNotFound, "project not found")
		}
		cs, err := tx.GetChangeSet(ctx, req.ProjectID, req.ChangeSetID)
		if err != nil {
			return notFound(err, apperr.ChangesetNotFound, "changeset not found")
		}
		current, err := tx.CurrentPlanVersion(ctx, req.ProjectID)
		if err != nil {
			return err
		}

		if cs.Status == types.ChangeSetApplied {
			if !req.AllowRebase && cs.BasePlanVersion != current {
				return apperr.Retry(apperr.PlanStale, "changeset base version no longer current").
					WithDetail("current_plan_version", current)
			}
			applied, err := tx.GetPlanVersion(ctx, req.ProjectID, cs.TargetPlanVersion)
			if err != nil {
				return err
			}
			result = &ApplyChangeSetResult{
				ChangeSet:                     cs,
				PlanVersion:                   applied,
				InvalidatedClaimTaskIDs:       []string{},
				InvalidatedReservationTaskIDs: []string{},
			}
			return nil
		}
		if cs.Status == types.ChangeSetRejected {
			return apperr.New(apperr.InvalidState, "changeset was rejected")
		}
		if cs.BasePlanVersion != current && !req.AllowRebase {
			return apperr.Retry(apperr.PlanStale, "changeset base version no longer current").
				WithDetail("current_plan_version", current)
		}

		// Lock every referenced task in id order before mutating any,
		// keeping the cross-task lock order deterministic.
		tasks, err := lockReferencedTasks(ctx, tx, cs)
		if err != nil {
			return err
		}

		materiallyTouched := make(map[string]bool)
		for i, op := range cs.Operations {
			if err := validateOperation(op); err != nil {
				return fmt.Errorf("operation %d: %w", i, err)
			}
			task := tasks[op.TaskID]
			material, err := applyOperation(task, op)
			if err != nil {
				return fmt.Errorf("operation %d: %w", i, err)
			}
			if material {
				materiallyTouched[task.ID] = true
			}
		}

		invalidatedClaims := []string{}
		invalidatedReservations := []string{}
		for _, id := range sortedKeys(tasks) {
			task := tasks[id]
			if materiallyTouched[id] {
				claim, reservation, err := invalidateGrants(ctx, tx, task, req.Actor, now)
				if err != nil {
					return err
				}
				if claim {
					invalidatedClaims = append(invalidatedClaims, id)
				}
				if reservation {
					invalidatedReservations = append(invalidatedReservations, id)
				}
			}
			task.Version++
			task.UpdatedAt = now
			if err := tx.UpdateTask(ctx, task); err != nil {
				return err
			}
		}

		newVersion := &types.PlanVersion{
			ID:            idgen.NewID(),
			ProjectID:     req.ProjectID,
			VersionNumber: maxInt64(cs.TargetPlanVersion, current+1),
			ChangeSetID:   &cs.ID,
			Summary:       fmt.Sprintf("changeset %s applied", cs.ID),
			CreatedBy:     req.Actor,
			CreatedAt:     now,
		}
		if err := tx.CreatePlanVersion(ctx, newVersion); err != nil {
			return err
		}

		cs.Status = types.ChangeSetApplied
		cs.TargetPlanVersion = newVersion.VersionNumber
		cs.AppliedAt = &now
		if err := tx.UpdateChangeSet(ctx, cs); err != nil {
			return err
		}

		if err := appendEvent(ctx, tx, req.ProjectID, types.EntityChangeSet, cs.ID,
			types.EventChangesetApplied, map[string]any{
				"changeset_id":                     cs.ID,
				"plan_version":                     newVersion.VersionNumber,
				"invalidated_claim_task_ids":       invalidatedClaims,
				"invalidated_reservation_task_ids": invalidatedReservations,
			}, req.Actor, now); err != nil {
			return err
		}

		result = &ApplyChangeSetResult{
			ChangeSet:                     cs,
			PlanVersion:                   newVersion,
			InvalidatedClaimTaskIDs:       invalidatedClaims,
			InvalidatedReservationTaskIDs: invalidatedReservations,
		}
		return nil
	})
	if err != nil {
		return nil, c.fail("apply_plan_changeset", err)
	}
	return result, nil
}

func lockReferencedTasks(ctx context.Context, tx storage.Tx, cs *types.PlanChangeSet) (map[string]*types.Task, error) {
	ids := make(map[string]bool)
	for _, op := range cs.Operations {
		ids[op.TaskID] = true
	}
	ordered := make([]string, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	tasks := make(map[string]*types.Task, len(ordered))
	for _, id := range ordered {
		task, err := tx.LockTask(ctx, cs.ProjectID, id)
		if err != nil {
			return nil, notFound(err, apperr.TaskNotFound, fmt.Sprintf("task %s not found", id))
		}
		tasks[id] = task
	}
	return tasks, nil
}

// applyOperation patches the task in place and reports whether any material
// field changed value.
func applyOperation(task *types.Task, op types.ChangeOperation) (bool, error) {
	switch op.Op {
	case types.OpReprioritizeTask:
		if p, ok := numberField(op.Payload, "priority"); ok {
			task.Priority = p
		}
		return false, nil

	case types.OpUpdateTask:
		material := false
		for field, value := range op.Payload {
			changed, err := patchTaskField(task, field, value)
			if err != nil {
				return false, err
			}
			if changed && materialFields[field] {
				material = true
			}
		}
		return material, nil
	}
	return false, apperr.Newf(apperr.InvalidState, "unknown changeset operation %q", op.Op)
}

func patchTaskField(task *types.Task, field string, value any) (changed bool, err error) {
	switch field {
	case "title":
		s, ok := value.(string)
		if !ok {
			return false, apperr.New(apperr.InvalidState, "title must be a string")
		}
		changed = task.Title != s
		task.Title = s
	case "description":
		s, ok := value.(string)
		if !ok {
			return false, apperr.New(apperr.InvalidState, "description must be a string")
		}
		changed = task.Description != s
		task.Description = s
	case "priority":
		p, ok := numberValue(value)
		if !ok {
			return false, apperr.New(apperr.InvalidState, "priority must be a number")
		}
		changed = task.Priority != p
		task.Priority = p
	case "task_class":
		s, ok := value.(string)
		if !ok || !types.TaskClass(s).Valid() {
			return false, apperr.Newf(apperr.InvalidState, "unknown task class %v", value)
		}
		changed = task.TaskClass != types.TaskClass(s)
		task.TaskClass = types.TaskClass(s)
	case "work_spec":
		m, ok := value.(map[string]any)
		if !ok {
			return false, apperr.New(apperr.InvalidState, "work_spec must be an object")
		}
		changed, err = jsonChanged(task.WorkSpec, types.JSONMap(m))
		if err != nil {
			return false, err
		}
		task.WorkSpec = types.JSONMap(m)
	case "expected_touches":
		// Expected touches live inside the work spec; changing them is a
		// material scope change like any other work-spec edit.
		next := types.JSONMap{}
		for k, v := range task.WorkSpec {
			next[k] = v
		}
		next["expected_touches"] = value
		changed, err = jsonChanged(task.WorkSpec, next)
		if err != nil {
			return false, err
		}
		task.WorkSpec = next
	case "capability_tags", "exclusive_paths", "shared_paths":
		set, ok := stringSetValue(value)
		if !ok {
			return false, apperr.Newf(apperr.InvalidState, "%s must be an array of strings", field)
		}
		var prev types.StringSet
		switch field {
		case "capability_tags":
			prev, task.CapabilityTags = task.CapabilityTags, set
		case "exclusive_paths":
			prev, task.ExclusivePaths = task.ExclusivePaths, set
		case "shared_paths":
			prev, task.SharedPaths = task.SharedPaths, set
		}
		changed, err = jsonChanged(prev, set)
		if err != nil {
			return false, err
		}
	default:
		return false, apperr.Newf(apperr.InvalidState, "update_task does not accept field %q", field)
	}
	return changed, nil
}

// invalidateGrants releases the grants of a materially-touched task and
// returns it to ready, emitting the release and transition events.
func invalidateGrants(ctx context.Context, tx storage.Tx, task *types.Task, actor string, now time.Time) (claim, reservation bool, err error) {
	switch task.State {
	case types.StateClaimed:
		lease, err := tx.ActiveLease(ctx, task.ID)
		if err != nil {
			return false, false, err
		}
		if lease != nil {
			lease.Status = types.GrantReleased
			lease.ReleasedAt = &now
			if err := tx.UpdateLease(ctx, lease); err != nil {
				return false, false, err
			}
			if err := appendEvent(ctx, tx, task.ProjectID, types.EntityLease, lease.ID,
				types.EventLeaseReleased, map[string]any{
					"task_id": task.ID, "agent_id": lease.AgentID, "reason": "plan_change",
				}, actor, now); err != nil {
				return false, false, err
			}
		}
		claim = true
	case types.StateReserved:
		res, err := tx.ActiveReservation(ctx, task.ID)
		if err != nil {
			return false, false, err
		}
		if res != nil {
			res.Status = types.GrantReleased
			res.ReleasedAt = &now
			if err := tx.UpdateReservation(ctx, res); err != nil {
				return false, false, err
			}
			if err := appendEvent(ctx, tx, task.ProjectID, types.EntityReservation, res.ID,
				types.EventReservationReleased, map[string]any{
					"task_id": task.ID, "assignee_agent_id": res.AssigneeAgentID, "reason": "plan_change",
				}, actor, now); err != nil {
				return false, false, err
			}
		}
		reservation = true
	default:
		return false, false, nil
	}

	from := task.State
	task.State = types.StateReady
	if err := appendEvent(ctx, tx, task.ProjectID, types.EntityTask, task.ID,
		types.EventTaskStateTransitioned,
		types.TransitionPayload{FromState: from, ToState: types.StateReady, Reason: "plan_change_invalidated", Actor: actor},
		actor, now); err != nil {
		return false, false, err
	}
	return claim, reservation, nil
}

// jsonChanged compares two values by canonical JSON.
func jsonChanged(a, b any) (bool, error) {
	ca, err := idgen.CanonicalJSON(a)
	if err != nil {
		return false, err
	}
	cb, err := idgen.CanonicalJSON(b)
	if err != nil {
		return false, err
	}
	return !bytes.Equal(ca, cb), nil
}

func numberField(payload types.JSONMap, field string) (int, bool) {
	v, ok := payload[field]
	if !ok {
		return 0, false
	}
	return numberValueOrZero(v)
}

func numberValue(v any) (int, bool) {
	return numberValueOrZero(v)
}

func numberValueOrZero(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func stringSetValue(v any) (types.StringSet, bool) {
	switch s := v.(type) {
	case []string:
		return types.StringSet(s), true
	case []any:
		out := make(types.StringSet, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	default:
		return nil, false
	}
}

func sortedKeys(m map[string]*types.Task) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
